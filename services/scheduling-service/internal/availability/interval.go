package availability

import "time"

// TimeRange is a half-open span [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether a and b share any instant. Touching endpoints do not overlap.
func Overlaps(a, b TimeRange) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// DurationMinutes returns the whole minutes covered by r.
func DurationMinutes(r TimeRange) int {
	return int(r.End.Sub(r.Start) / time.Minute)
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

type Kind string

const (
	KindAppointment Kind = "appointment"
	KindUnavailable Kind = "unavailable"
)

// BookedInterval is one existing commitment against a resource on a date.
// Appointments may have zero duration; see Generate.
type BookedInterval struct {
	ResourceID      string    `json:"resource_id"`
	Range           TimeRange `json:"range"`
	Kind            Kind      `json:"kind"`
	CapacityWeight  int       `json:"capacity_weight"`
	AppointmentType string    `json:"appointment_type,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Note            string    `json:"note,omitempty"`
}

func (b BookedInterval) weight() int {
	if b.CapacityWeight < 1 {
		return 1
	}
	return b.CapacityWeight
}

// UnavailableRange is a merged block-out period for one resource on one date.
type UnavailableRange struct {
	Range  TimeRange `json:"range"`
	Reason string    `json:"reason,omitempty"`
	Note   string    `json:"note,omitempty"`
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
