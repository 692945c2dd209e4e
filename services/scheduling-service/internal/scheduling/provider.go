package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
)

type ScheduleSource interface {
	GetResource(ctx context.Context, resourceID string) (model.Resource, error)
	ListWindows(ctx context.Context, resourceID string, weekday int) ([]model.ScheduleWindow, error)
	ListBlocks(ctx context.Context, resourceID string, from, to time.Time) ([]model.UnavailabilityBlock, error)
}

type BookingSource interface {
	ListBookedForResource(ctx context.Context, resourceID string, start, end time.Time) ([]model.Appointment, error)
}

// Provider builds day snapshots from the stored schedule of a resource.
type Provider struct {
	schedules ScheduleSource
	bookings  BookingSource
	defaultTZ string
	now       func() time.Time
}

func NewProvider(schedules ScheduleSource, bookings BookingSource, defaultTimezone string) *Provider {
	if strings.TrimSpace(defaultTimezone) == "" {
		defaultTimezone = "UTC"
	}
	return &Provider{
		schedules: schedules,
		bookings:  bookings,
		defaultTZ: defaultTimezone,
		now:       time.Now,
	}
}

// Load returns a fresh snapshot for resourceID on date (YYYY-MM-DD, resource-local).
func (p *Provider) Load(ctx context.Context, resourceID, date string) (availability.DaySchedule, error) {
	res, err := p.schedules.GetResource(ctx, resourceID)
	if err != nil {
		return availability.DaySchedule{}, fmt.Errorf("load resource %s: %w", resourceID, err)
	}

	loc, tz := p.location(res)
	midnight, err := availability.ParseDate(date, loc)
	if err != nil {
		return availability.DaySchedule{}, err
	}
	nextMidnight := midnight.AddDate(0, 0, 1)

	snap := availability.DaySchedule{
		ResourceID:   res.ID,
		ResourceName: res.Name,
		Date:         date,
		Timezone:     tz,
		FetchedAt:    p.now().UTC(),
	}

	var windows []model.ScheduleWindow
	if res.Active {
		windows, err = p.schedules.ListWindows(ctx, res.ID, int(midnight.Weekday()))
		if err != nil {
			return availability.DaySchedule{}, fmt.Errorf("load schedule windows: %w", err)
		}
	}
	sections, spans := buildSections(windows, midnight)
	snap.Sections = sections

	snap.DayStart, snap.DayEnd = availability.Bounds(spans)
	if snap.DayStart.IsZero() {
		snap.DayStart, snap.DayEnd = midnight, nextMidnight
	}

	appts, err := p.bookings.ListBookedForResource(ctx, res.ID, midnight, nextMidnight)
	if err != nil {
		return availability.DaySchedule{}, fmt.Errorf("load appointments: %w", err)
	}
	for _, a := range appts {
		snap.Bookings = append(snap.Bookings, availability.BookedInterval{
			ResourceID:      a.ResourceID,
			Range:           availability.TimeRange{Start: a.StartTime.In(loc), End: a.EndTime().In(loc)},
			Kind:            availability.KindAppointment,
			CapacityWeight:  1,
			AppointmentType: a.AppointmentType,
			Note:            a.Notes,
		})
	}

	blocks, err := p.schedules.ListBlocks(ctx, res.ID, midnight, nextMidnight)
	if err != nil {
		return availability.DaySchedule{}, fmt.Errorf("load unavailability: %w", err)
	}
	for _, b := range blocks {
		snap.Bookings = append(snap.Bookings, availability.BookedInterval{
			ResourceID:     b.ResourceID,
			Range:          availability.TimeRange{Start: b.StartTime.In(loc), End: b.EndTime.In(loc)},
			Kind:           availability.KindUnavailable,
			CapacityWeight: 1,
			Reason:         b.Reason,
			Note:           b.Note,
		})
	}
	snap.Blocked = availability.MergeUnavailable(res.ID, snap.Bookings, snap.DayStart, snap.DayEnd)

	if !res.Active {
		snap.Note = res.Name + " is inactive"
	}
	return snap, nil
}

// Location resolves the timezone the resource's calendar dates are kept in.
func (p *Provider) Location(ctx context.Context, resourceID string) (*time.Location, error) {
	res, err := p.schedules.GetResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("load resource %s: %w", resourceID, err)
	}
	loc, _ := p.location(res)
	return loc, nil
}

func (p *Provider) location(res model.Resource) (*time.Location, string) {
	tz := strings.TrimSpace(res.Timezone)
	if tz == "" {
		tz = p.defaultTZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, "UTC"
	}
	return loc, tz
}

// buildSections groups windows by section name in first-seen order and
// expands each group into templates.
func buildSections(windows []model.ScheduleWindow, midnight time.Time) ([]availability.Section, []availability.Window) {
	var (
		sections []availability.Section
		spans    []availability.Window
		index    = map[string]int{}
	)
	for _, w := range windows {
		if w.EndMinute <= w.StartMinute {
			continue
		}
		span := availability.Window{
			Range: availability.TimeRange{
				Start: clock(midnight, w.StartMinute),
				End:   clock(midnight, w.EndMinute),
			},
			ResourceID:             w.ResourceID,
			ServiceUnitID:          w.ServiceUnitID,
			AllowOverlap:           w.AllowOverlap,
			Capacity:               w.Capacity,
			MaxAppointmentsPerDay:  w.MaxAppointmentsPerDay,
			SupportsTeleconference: w.Teleconference,
			SlotDuration:           time.Duration(w.SlotMinutes) * time.Minute,
		}
		spans = append(spans, span)

		i, ok := index[w.Section]
		if !ok {
			i = len(sections)
			index[w.Section] = i
			sections = append(sections, availability.Section{Name: w.Section, ServiceUnitID: w.ServiceUnitID})
		}
		sections[i].Templates = append(sections[i].Templates, availability.ExpandTemplates([]availability.Window{span})...)
	}
	return sections, spans
}

// clock resolves a local minute offset on the day of midnight; DST gaps are normalised by time.Date.
func clock(midnight time.Time, minute int) time.Time {
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), 0, minute, 0, 0, midnight.Location())
}
