package model

import "time"

const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID              string
	ResourceID      string
	ServiceUnitID   string
	PatientName     string
	StartTime       time.Time
	DurationMinutes int
	Status          string
	AppointmentType string
	Notes           string
	Teleconference  bool
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// UnavailabilityBlock is an explicit block-out period entered for a resource.
type UnavailabilityBlock struct {
	ID         string
	ResourceID string
	StartTime  time.Time
	EndTime    time.Time
	Reason     string
	Note       string
	CreatedAt  time.Time
}
