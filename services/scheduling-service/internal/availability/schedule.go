package availability

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// Section groups templates the way a resource's schedule declares them
// (one section per named schedule / service unit).
type Section struct {
	Name          string         `json:"name"`
	ServiceUnitID string         `json:"service_unit_id,omitempty"`
	Templates     []SlotTemplate `json:"templates"`
}

// DaySchedule is an immutable snapshot of everything known about one
// resource on one date. A fresh snapshot is built on every load.
type DaySchedule struct {
	ResourceID   string             `json:"resource_id"`
	ResourceName string             `json:"resource_name,omitempty"`
	Date         string             `json:"date"`
	Timezone     string             `json:"timezone"`
	DayStart     time.Time          `json:"day_start"`
	DayEnd       time.Time          `json:"day_end"`
	Sections     []Section          `json:"sections"`
	Bookings     []BookedInterval   `json:"bookings"`
	Blocked      []UnavailableRange `json:"blocked"`
	Note         string             `json:"note,omitempty"`
	FetchedAt    time.Time          `json:"fetched_at"`
}

func (d DaySchedule) Location() *time.Location {
	if d.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Midnight returns the start of the schedule's date in the resource's location.
func (d DaySchedule) Midnight() (time.Time, error) {
	return ParseDate(d.Date, d.Location())
}

func ParseDate(date string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return day, nil
}

func (d DaySchedule) Empty() bool {
	for _, s := range d.Sections {
		if len(s.Templates) > 0 {
			return false
		}
	}
	return true
}

type SectionSlots struct {
	Name          string `json:"name"`
	ServiceUnitID string `json:"service_unit_id,omitempty"`
	Slots         []Slot `json:"slots"`
}

// Slots runs Generate over every section of the snapshot.
func (d DaySchedule) Slots(now time.Time) ([]SectionSlots, error) {
	day, err := d.Midnight()
	if err != nil {
		return nil, err
	}
	now = now.In(day.Location())
	out := make([]SectionSlots, 0, len(d.Sections))
	for _, s := range d.Sections {
		out = append(out, SectionSlots{
			Name:          s.Name,
			ServiceUnitID: s.ServiceUnitID,
			Slots:         Generate(s.Templates, d.Bookings, day, now),
		})
	}
	return out, nil
}

// UnavailableMessage is the informational text for a date with no schedule.
func (d DaySchedule) UnavailableMessage() string {
	name := d.ResourceName
	if name == "" {
		name = d.ResourceID
	}
	return fmt.Sprintf("%s is not available on %s", name, d.Date)
}
