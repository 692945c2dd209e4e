package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/storage"
)

var ErrInvalidValue = errors.New("invalid field value")

type Invalidator interface {
	Invalidate(ctx context.Context, resourceID, date string) error
}

// Locator resolves the timezone a resource's calendar dates are kept in.
type Locator interface {
	Location(ctx context.Context, resourceID string) (*time.Location, error)
}

// Recorder persists booking and unavailability writes together with their
// change events in one transaction, then drops the local cache entries the
// write touched. Other instances drop theirs when the event reaches them.
type Recorder struct {
	bookings  *storage.BookingRepository
	schedules *storage.ScheduleRepository
	events    *outbox.Repository
	locator   Locator
	cache     Invalidator
	logger    *slog.Logger
}

func NewRecorder(bookings *storage.BookingRepository, schedules *storage.ScheduleRepository, events *outbox.Repository, locator Locator, cache Invalidator, logger *slog.Logger) *Recorder {
	return &Recorder{
		bookings:  bookings,
		schedules: schedules,
		events:    events,
		locator:   locator,
		cache:     cache,
		logger:    logger,
	}
}

func (r *Recorder) CreateAppointment(ctx context.Context, appt *model.Appointment, limit Limit) error {
	loc, err := r.locator.Location(ctx, appt.ResourceID)
	if err != nil {
		return err
	}

	tx, err := r.bookings.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.bookings.LockResource(ctx, tx, appt.ResourceID); err != nil {
		return err
	}
	if limit.Overlapping > 0 {
		n, err := r.bookings.CountOverlapping(ctx, tx, appt.ResourceID, appt.StartTime, occupiedUntil(*appt), "")
		if err != nil {
			return err
		}
		if n >= limit.Overlapping {
			return fmt.Errorf("%w: %d of %d places taken", storage.ErrSlotConflict, n, limit.Overlapping)
		}
	}
	if limit.PerDay > 0 {
		n, err := r.bookings.CountStarting(ctx, tx, appt.ResourceID, limit.DayStart, limit.DayEnd, "")
		if err != nil {
			return err
		}
		if n >= limit.PerDay {
			return fmt.Errorf("%w: daily limit of %d reached", storage.ErrSlotConflict, limit.PerDay)
		}
	}

	if _, err := r.bookings.Create(ctx, tx, appt); err != nil {
		return err
	}
	dates := affectedDates(loc, *appt)
	if err := r.insertEvent(ctx, tx, appointmentChange(*appt, dates, "created")); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.invalidate(ctx, appt.ResourceID, dates)
	r.logger.Info("appointment created", "appointment_id", appt.ID, "resource_id", appt.ResourceID, "start", appt.StartTime)
	return nil
}

// UpdateField changes one field of an appointment when version still matches
// the stored row. A mismatch returns storage.ErrStaleDocument.
//
// Edits that change when a booked appointment occupies the resource run under
// the resource lock and are rejected with a *availability.SelectionError when
// the new span overlaps unavailability. Capacity is not re-counted on edits.
func (r *Recorder) UpdateField(ctx context.Context, appointmentID, field string, raw any, version int) (model.Appointment, error) {
	value, err := CoerceField(field, raw)
	if err != nil {
		return model.Appointment{}, err
	}

	tx, err := r.bookings.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if movesOccupancy(field) {
		current, err := r.bookings.GetAppointmentForUpdate(ctx, tx, appointmentID)
		if err != nil {
			return model.Appointment{}, err
		}
		if err := r.bookings.LockResource(ctx, tx, current.ResourceID); err != nil {
			return model.Appointment{}, err
		}
	}

	before, after, err := r.bookings.UpdateField(ctx, tx, appointmentID, field, value, version)
	if err != nil {
		return model.Appointment{}, err
	}
	if movesOccupancy(field) && after.Status == model.StatusBooked {
		blocks, err := r.schedules.ListBlocks(ctx, after.ResourceID, after.StartTime, occupiedUntil(after))
		if err != nil {
			return model.Appointment{}, err
		}
		if err := checkBlocks(after, blocks); err != nil {
			return model.Appointment{}, err
		}
	}
	loc, err := r.locator.Location(ctx, after.ResourceID)
	if err != nil {
		return model.Appointment{}, err
	}
	dates := affectedDates(loc, before, after)
	if err := r.insertEvent(ctx, tx, appointmentChange(after, dates, "updated")); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	r.invalidate(ctx, after.ResourceID, dates)
	r.logger.Info("appointment updated", "appointment_id", after.ID, "field", field, "version", after.Version)
	return after, nil
}

func (r *Recorder) CreateBlock(ctx context.Context, block model.UnavailabilityBlock) (model.UnavailabilityBlock, error) {
	if !block.EndTime.After(block.StartTime) {
		return model.UnavailabilityBlock{}, fmt.Errorf("%w: end_time must be after start_time", ErrInvalidValue)
	}
	loc, err := r.locator.Location(ctx, block.ResourceID)
	if err != nil {
		return model.UnavailabilityBlock{}, err
	}

	tx, err := r.schedules.Begin(ctx)
	if err != nil {
		return model.UnavailabilityBlock{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := r.schedules.CreateBlock(ctx, tx, block)
	if err != nil {
		return model.UnavailabilityBlock{}, err
	}
	block.ID = id
	dates := availability.DatesSpanned(loc, availability.TimeRange{Start: block.StartTime, End: block.EndTime})
	if err := r.insertEvent(ctx, tx, blockChange(block, dates, "blocked")); err != nil {
		return model.UnavailabilityBlock{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.UnavailabilityBlock{}, err
	}

	r.invalidate(ctx, block.ResourceID, dates)
	r.logger.Info("unavailability block created", "block_id", id, "resource_id", block.ResourceID, "reason", block.Reason)
	return block, nil
}

func (r *Recorder) DeleteBlock(ctx context.Context, blockID string) (model.UnavailabilityBlock, error) {
	tx, err := r.schedules.Begin(ctx)
	if err != nil {
		return model.UnavailabilityBlock{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	block, err := r.schedules.DeleteBlock(ctx, tx, blockID)
	if err != nil {
		return model.UnavailabilityBlock{}, err
	}
	loc, err := r.locator.Location(ctx, block.ResourceID)
	if err != nil {
		return model.UnavailabilityBlock{}, err
	}
	dates := availability.DatesSpanned(loc, availability.TimeRange{Start: block.StartTime, End: block.EndTime})
	if err := r.insertEvent(ctx, tx, blockChange(block, dates, "unblocked")); err != nil {
		return model.UnavailabilityBlock{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.UnavailabilityBlock{}, err
	}

	r.invalidate(ctx, block.ResourceID, dates)
	r.logger.Info("unavailability block deleted", "block_id", block.ID, "resource_id", block.ResourceID)
	return block, nil
}

func appointmentChange(appt model.Appointment, dates []string, action string) outbox.AvailabilityChanged {
	return outbox.AvailabilityChanged{
		AggregateType: outbox.AggregateAppointment,
		AggregateID:   appt.ID,
		ResourceID:    appt.ResourceID,
		Dates:         dates,
		Action:        action,
		Version:       appt.Version,
	}
}

func blockChange(block model.UnavailabilityBlock, dates []string, action string) outbox.AvailabilityChanged {
	return outbox.AvailabilityChanged{
		AggregateType: outbox.AggregateBlock,
		AggregateID:   block.ID,
		ResourceID:    block.ResourceID,
		Dates:         dates,
		Action:        action,
	}
}

func (r *Recorder) insertEvent(ctx context.Context, tx pgx.Tx, change outbox.AvailabilityChanged) error {
	evt, err := outbox.NewAvailabilityChanged(change)
	if err != nil {
		return err
	}
	return r.events.Insert(ctx, tx, evt)
}

func (r *Recorder) invalidate(ctx context.Context, resourceID string, dates []string) {
	if r.cache == nil {
		return
	}
	for _, date := range dates {
		if err := r.cache.Invalidate(ctx, resourceID, date); err != nil {
			r.logger.Warn("availability cache invalidate failed", "resource_id", resourceID, "date", date, "err", err)
		}
	}
}

// affectedDates lists the resource-local dates covered by appts, without duplicates.
func affectedDates(loc *time.Location, appts ...model.Appointment) []string {
	var dates []string
	seen := map[string]bool{}
	for _, a := range appts {
		if a.StartTime.IsZero() {
			continue
		}
		d := a.StartTime.In(loc).Format(availability.DateLayout)
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	return dates
}

func movesOccupancy(field string) bool {
	return field == "start_time" || field == "duration_minutes" || field == "status"
}

// checkBlocks rejects appt when its occupied span overlaps any of blocks.
func checkBlocks(appt model.Appointment, blocks []model.UnavailabilityBlock) error {
	ranges := make([]availability.UnavailableRange, 0, len(blocks))
	for _, b := range blocks {
		ranges = append(ranges, availability.UnavailableRange{
			Range:  availability.TimeRange{Start: b.StartTime, End: b.EndTime},
			Reason: b.Reason,
			Note:   b.Note,
		})
	}
	span := availability.TimeRange{Start: appt.StartTime, End: occupiedUntil(appt)}
	return availability.CheckSelection(appt.ResourceID, span, ranges)
}

// occupiedUntil is the end used for overlap counting; a zero-length booking
// still occupies its start minute.
func occupiedUntil(a model.Appointment) time.Time {
	if a.DurationMinutes <= 0 {
		return a.StartTime.Add(time.Minute)
	}
	return a.EndTime()
}

// CoerceField converts a decoded JSON value into the Go type stored for field.
func CoerceField(field string, raw any) (any, error) {
	if !storage.IsUpdatableField(field) {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownField, field)
	}
	switch field {
	case "start_time":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: start_time must be an RFC 3339 string", ErrInvalidValue)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("%w: start_time: %v", ErrInvalidValue, err)
		}
		return t, nil
	case "duration_minutes":
		f, ok := raw.(float64)
		if !ok || f < 0 || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: duration_minutes must be a non-negative integer", ErrInvalidValue)
		}
		return int(f), nil
	case "teleconference":
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: teleconference must be a boolean", ErrInvalidValue)
		}
		return b, nil
	case "status":
		s, _ := raw.(string)
		s = strings.TrimSpace(s)
		if s != model.StatusBooked && s != model.StatusCancelled {
			return nil, fmt.Errorf("%w: status must be %q or %q", ErrInvalidValue, model.StatusBooked, model.StatusCancelled)
		}
		return s, nil
	default:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidValue, field)
		}
		return s, nil
	}
}
