package model

const (
	KindPractitioner = "practitioner"
	KindRoom         = "room"
)

type Resource struct {
	ID       string
	Kind     string
	Name     string
	Color    string
	Timezone string
	Active   bool
}

// ScheduleWindow is one weekday working block of a resource. Minutes are
// offsets from local midnight in the resource's timezone.
type ScheduleWindow struct {
	ResourceID            string
	Section               string
	Weekday               int
	StartMinute           int
	EndMinute             int
	ServiceUnitID         string
	AllowOverlap          bool
	Capacity              int
	MaxAppointmentsPerDay int
	Teleconference        bool
	SlotMinutes           int
}
