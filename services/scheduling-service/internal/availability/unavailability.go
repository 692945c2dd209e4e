package availability

import (
	"sort"
	"time"
)

// MergeUnavailable collapses the unavailable-kind intervals of one resource
// into the minimal set of blocking ranges inside [dayStart, dayEnd].
// Unlike Overlaps, touching intervals are merged.
func MergeUnavailable(resourceID string, intervals []BookedInterval, dayStart, dayEnd time.Time) []UnavailableRange {
	if !dayEnd.After(dayStart) {
		return nil
	}

	var clipped []UnavailableRange
	for _, b := range intervals {
		if b.Kind != KindUnavailable {
			continue
		}
		if resourceID != "" && b.ResourceID != "" && b.ResourceID != resourceID {
			continue
		}
		s := b.Range.Start
		e := b.Range.End
		if s.Before(dayStart) {
			s = dayStart
		}
		if e.After(dayEnd) {
			e = dayEnd
		}
		if !e.After(s) {
			continue
		}
		clipped = append(clipped, UnavailableRange{
			Range:  TimeRange{Start: s, End: e},
			Reason: b.Reason,
			Note:   b.Note,
		})
	}
	if len(clipped) == 0 {
		return nil
	}

	sort.SliceStable(clipped, func(i, j int) bool {
		return clipped[i].Range.Start.Before(clipped[j].Range.Start)
	})

	merged := make([]UnavailableRange, 0, len(clipped))
	current := clipped[0]
	for _, next := range clipped[1:] {
		if next.Range.Start.After(current.Range.End) {
			merged = append(merged, current)
			current = next
			continue
		}
		if next.Range.End.After(current.Range.End) {
			current.Range.End = next.Range.End
		}
		if current.Reason == "" {
			current.Reason = next.Reason
		}
		if current.Note == "" {
			current.Note = next.Note
		}
	}
	merged = append(merged, current)

	out := merged[:0]
	for _, m := range merged {
		if m.Range.End.After(m.Range.Start) {
			out = append(out, m)
		}
	}
	return out
}
