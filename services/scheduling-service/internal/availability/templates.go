package availability

import "time"

// Window is one working-hours block of a resource's schedule for a date.
// SlotDuration > 0 splits the window into back-to-back fixed-range templates.
type Window struct {
	Range                  TimeRange
	ResourceID             string
	ServiceUnitID          string
	AllowOverlap           bool
	Capacity               int
	MaxAppointmentsPerDay  int
	SupportsTeleconference bool
	SlotDuration           time.Duration
}

func (w Window) template(r TimeRange) SlotTemplate {
	return SlotTemplate{
		Range:                  r,
		ResourceID:             w.ResourceID,
		ServiceUnitID:          w.ServiceUnitID,
		AllowOverlap:           w.AllowOverlap,
		Capacity:               w.Capacity,
		MaxAppointmentsPerDay:  w.MaxAppointmentsPerDay,
		SupportsTeleconference: w.SupportsTeleconference,
	}
}

// ExpandTemplates turns working windows into slot templates in window order.
// Per-day capacity windows and windows without a slot duration yield one template each.
func ExpandTemplates(windows []Window) []SlotTemplate {
	var out []SlotTemplate
	for _, w := range windows {
		if !w.Range.End.After(w.Range.Start) {
			continue
		}
		if w.MaxAppointmentsPerDay > 0 || w.SlotDuration <= 0 {
			out = append(out, w.template(w.Range))
			continue
		}
		for t := w.Range.Start; !t.Add(w.SlotDuration).After(w.Range.End); t = t.Add(w.SlotDuration) {
			out = append(out, w.template(TimeRange{Start: t, End: t.Add(w.SlotDuration)}))
		}
	}
	return out
}

// Bounds returns the earliest start and latest end across windows.
// Both are zero when no window is usable.
func Bounds(windows []Window) (time.Time, time.Time) {
	var min, max time.Time
	for _, w := range windows {
		if w.Range.Start.IsZero() || w.Range.End.IsZero() || !w.Range.End.After(w.Range.Start) {
			continue
		}
		if min.IsZero() || w.Range.Start.Before(min) {
			min = w.Range.Start
		}
		if max.IsZero() || w.Range.End.After(max) {
			max = w.Range.End
		}
	}
	return min, max
}
