package availability

import (
	"fmt"
	"time"
)

// SlotTemplate is one schedulable slot definition from a resource's working schedule.
// Zero Capacity and zero MaxAppointmentsPerDay mean "not set".
type SlotTemplate struct {
	Range                  TimeRange `json:"range"`
	ResourceID             string    `json:"resource_id"`
	ServiceUnitID          string    `json:"service_unit_id,omitempty"`
	AllowOverlap           bool      `json:"allow_overlap"`
	Capacity               int       `json:"capacity,omitempty"`
	MaxAppointmentsPerDay  int       `json:"maximum_appointments_per_day,omitempty"`
	SupportsTeleconference bool      `json:"supports_teleconference"`
}

// AllDay reports whether the template is a per-day capacity slot rather than a fixed range.
func (t SlotTemplate) AllDay() bool {
	return t.MaxAppointmentsPerDay > 0
}

func (t SlotTemplate) tracksCapacity() bool {
	return t.AllowOverlap && t.Capacity > 1
}

type DisabledReason string

const (
	ReasonNone        DisabledReason = ""
	ReasonPast        DisabledReason = "past"
	ReasonBooked      DisabledReason = "booked"
	ReasonFull        DisabledReason = "full"
	ReasonUnavailable DisabledReason = "unavailable"
)

// Slot is the generator output for one template.
type Slot struct {
	Template          SlotTemplate   `json:"template"`
	Disabled          bool           `json:"disabled"`
	DisabledReason    DisabledReason `json:"disabled_reason,omitempty"`
	RemainingCapacity *int           `json:"remaining_capacity,omitempty"`
	Full              bool           `json:"full,omitempty"`
	Tooltip           string         `json:"tooltip,omitempty"`
}

// CapacityLabel is the text shown on the slot button next to the time.
func (s Slot) CapacityLabel() string {
	if s.RemainingCapacity == nil {
		return ""
	}
	if s.Full {
		return "Full"
	}
	return fmt.Sprintf("%d left", *s.RemainingCapacity)
}

// Generate evaluates templates for the resource day described by date against
// the existing bookings. Output order equals template order.
//
// date carries the resource's location; now is compared in that location and
// the past-slot rule only applies when date is today there.
func Generate(templates []SlotTemplate, bookings []BookedInterval, date, now time.Time) []Slot {
	today := sameDate(date, now)
	out := make([]Slot, 0, len(templates))
	for _, tpl := range templates {
		filter := Filter{ResourceID: tpl.ResourceID, Date: date}
		if tpl.AllDay() {
			out = append(out, dayCapacitySlot(tpl, bookings, filter))
			continue
		}
		out = append(out, fixedRangeSlot(tpl, bookings, filter, today, now))
	}
	return out
}

func dayCapacitySlot(tpl SlotTemplate, bookings []BookedInterval, filter Filter) Slot {
	count := CountForDay(bookings, filter)
	slot := Slot{Template: tpl}
	remaining := tpl.MaxAppointmentsPerDay - count
	if count >= tpl.MaxAppointmentsPerDay {
		slot.Disabled = true
		slot.DisabledReason = ReasonFull
	}
	setRemaining(&slot, remaining)
	return slot
}

func fixedRangeSlot(tpl SlotTemplate, bookings []BookedInterval, filter Filter, today bool, now time.Time) Slot {
	slot := Slot{Template: tpl}
	if today && tpl.Range.Start.Before(now) {
		slot.Disabled = true
		slot.DisabledReason = ReasonPast
		return slot
	}

	count := 0
	for _, b := range bookings {
		// Blocks may start on an earlier day and still cover this one.
		if b.Kind == KindUnavailable {
			if filter.matchResource(b) && Overlaps(tpl.Range, b.Range) {
				disable(&slot, ReasonUnavailable)
			}
			continue
		}
		if !filter.Match(b) {
			continue
		}
		// A zero-length booking on the slot start cannot be told apart from one occupying it.
		if b.Range.Start.Equal(tpl.Range.Start) && !b.Range.End.After(b.Range.Start) {
			disable(&slot, ReasonBooked)
			continue
		}
		if !Overlaps(tpl.Range, b.Range) {
			continue
		}
		if !tpl.AllowOverlap {
			disable(&slot, ReasonBooked)
			continue
		}
		if tpl.tracksCapacity() {
			count += b.weight()
			if count >= tpl.Capacity {
				disable(&slot, ReasonFull)
			}
		}
	}

	if tpl.tracksCapacity() {
		setRemaining(&slot, tpl.Capacity-count)
		slot.Tooltip = capacityTooltip(slot)
	}
	return slot
}

func disable(s *Slot, reason DisabledReason) {
	if !s.Disabled {
		s.DisabledReason = reason
	}
	s.Disabled = true
}

func setRemaining(s *Slot, remaining int) {
	if remaining <= 0 {
		remaining = 0
		s.Full = true
	}
	s.RemainingCapacity = &remaining
}

func capacityTooltip(s Slot) string {
	if s.Full {
		return "No more appointments can be booked in this slot"
	}
	n := *s.RemainingCapacity
	if n == 1 {
		return "1 more appointment can be booked in this slot"
	}
	return fmt.Sprintf("%d more appointments can be booked in this slot", n)
}
