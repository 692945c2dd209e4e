package availability

import "time"

// Filter restricts bookings to one resource on one calendar date.
// Date is interpreted in its own location; zero Date matches every day.
type Filter struct {
	ResourceID string
	Date       time.Time
}

func (f Filter) Match(b BookedInterval) bool {
	if !f.matchResource(b) {
		return false
	}
	if !f.Date.IsZero() && !sameDate(f.Date, b.Range.Start) {
		return false
	}
	return true
}

func (f Filter) matchResource(b BookedInterval) bool {
	return f.ResourceID == "" || b.ResourceID == "" || b.ResourceID == f.ResourceID
}

// CountOverlapping sums the capacity weight of appointment bookings that
// overlap slotRange and pass the filter.
func CountOverlapping(slotRange TimeRange, bookings []BookedInterval, filter Filter) int {
	count := 0
	for _, b := range bookings {
		if b.Kind != KindAppointment || !filter.Match(b) {
			continue
		}
		if Overlaps(slotRange, b.Range) {
			count += b.weight()
		}
	}
	return count
}

// CountForDay sums appointment bookings that pass the filter regardless of time.
func CountForDay(bookings []BookedInterval, filter Filter) int {
	count := 0
	for _, b := range bookings {
		if b.Kind != KindAppointment || !filter.Match(b) {
			continue
		}
		count += b.weight()
	}
	return count
}
