package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
)

type State int

const (
	StateIdle State = iota
	StateDateResourceChosen
	StateSlotsFetched
	StateSlotSelected
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDateResourceChosen:
		return "date_resource_chosen"
	case StateSlotsFetched:
		return "slots_fetched"
	case StateSlotSelected:
		return "slot_selected"
	case StateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrInvalidTransition = errors.New("invalid booking flow transition")
	// ErrStaleResponse is returned to a fetch whose result was dropped because a
	// newer request was issued while it was in flight.
	ErrStaleResponse   = errors.New("availability response superseded")
	ErrSlotUnavailable = errors.New("slot is not bookable")
	ErrSlotNotFound    = errors.New("no such slot in the fetched schedule")
)

// Fetcher supplies availability snapshots; Refresh bypasses any cache.
type Fetcher interface {
	Get(ctx context.Context, resourceID, date string) (availability.DaySchedule, error)
	Refresh(ctx context.Context, resourceID, date string) (availability.DaySchedule, error)
}

// Limit bounds the booked appointments allowed alongside a new one at commit
// time. Zero means unbounded.
type Limit struct {
	Overlapping int
	PerDay      int
	DayStart    time.Time
	DayEnd      time.Time
}

type Store interface {
	CreateAppointment(ctx context.Context, appt *model.Appointment, limit Limit) error
}

// Request is what the user fills in after picking a slot.
type Request struct {
	PatientName     string
	AppointmentType string
	Notes           string
	Teleconference  bool
	// DurationMinutes overrides the slot length when positive.
	DurationMinutes int
}

type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// View is a copy of the session state for rendering.
type View struct {
	State       State
	ResourceID  string
	Date        string
	Sections    []availability.SectionSlots
	Blocked     []availability.UnavailableRange
	Message     string
	Selected    *availability.SlotTemplate
	ServiceUnit string
	Duration    time.Duration
	Outcome     Outcome
	Err         error
}

// Session walks one user through
// Idle → DateResourceChosen → SlotsFetched → SlotSelected → Submitted.
//
// Every fetch is stamped with a request token; a result is applied only if no
// newer fetch or date/resource change happened meanwhile. Out-of-order
// responses are dropped, never merged.
type Session struct {
	fetcher Fetcher
	store   Store
	now     func() time.Time

	latest atomic.Uint64

	mu          sync.Mutex
	state       State
	resourceID  string
	date        string
	snapshot    availability.DaySchedule
	sections    []availability.SectionSlots
	message     string
	selected    *availability.SlotTemplate
	section     string
	limit       Limit
	serviceUnit string
	duration    time.Duration
	outcome     Outcome
	lastErr     error
}

func NewSession(fetcher Fetcher, store Store) *Session {
	return &Session{fetcher: fetcher, store: store, now: time.Now}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		State:       s.state,
		ResourceID:  s.resourceID,
		Date:        s.date,
		Sections:    s.sections,
		Blocked:     s.snapshot.Blocked,
		Message:     s.message,
		ServiceUnit: s.serviceUnit,
		Duration:    s.duration,
		Outcome:     s.outcome,
		Err:         s.lastErr,
	}
	if s.selected != nil {
		sel := *s.selected
		v.Selected = &sel
	}
	return v
}

// Choose sets the resource and date. Allowed from any state; in-flight fetches
// for the previous choice become stale.
func (s *Session) Choose(resourceID, date string) error {
	if resourceID == "" || date == "" {
		return fmt.Errorf("%w: resource and date are required", ErrInvalidTransition)
	}
	s.latest.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceID = resourceID
	s.date = date
	s.snapshot = availability.DaySchedule{}
	s.sections = nil
	s.message = ""
	s.clearSelection()
	s.state = StateDateResourceChosen
	return nil
}

// Fetch loads availability for the chosen resource and date. force skips the
// cache. The result is applied only if this is still the latest request;
// otherwise ErrStaleResponse is returned and the session is left untouched.
func (s *Session) Fetch(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: fetch before choosing a resource and date", ErrInvalidTransition)
	}
	resourceID, date := s.resourceID, s.date
	token := s.latest.Add(1)
	s.mu.Unlock()

	var (
		snap availability.DaySchedule
		err  error
	)
	if force {
		snap, err = s.fetcher.Refresh(ctx, resourceID, date)
	} else {
		snap, err = s.fetcher.Get(ctx, resourceID, date)
	}

	var sections []availability.SectionSlots
	if err == nil {
		sections, err = snap.Slots(s.now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest.Load() != token {
		return ErrStaleResponse
	}

	s.clearSelection()
	s.state = StateSlotsFetched
	if err != nil {
		s.snapshot = availability.DaySchedule{}
		s.sections = nil
		s.message = "Availability could not be loaded. Try again."
		s.lastErr = err
		return fmt.Errorf("fetch availability: %w", err)
	}

	s.snapshot = snap
	s.sections = sections
	s.message = ""
	if snap.Empty() {
		s.message = snap.UnavailableMessage()
		if snap.Note != "" {
			s.message += " (" + snap.Note + ")"
		}
	}
	return nil
}

// SelectSlot picks the fetched slot starting at start. section may be empty
// to search every section.
func (s *Session) SelectSlot(section string, start time.Time) (availability.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canSelect() {
		return availability.Slot{}, fmt.Errorf("%w: select in state %s", ErrInvalidTransition, s.state)
	}

	slot, name, ok := findSlot(s.sections, section, start)
	if !ok {
		return availability.Slot{}, ErrSlotNotFound
	}
	if slot.Disabled {
		return slot, fmt.Errorf("%w: %s", ErrSlotUnavailable, slot.DisabledReason)
	}

	tpl := slot.Template
	s.selected = &tpl
	s.section = name
	s.serviceUnit = tpl.ServiceUnitID
	s.duration = tpl.Range.Duration()
	s.limit = limitFor(tpl, s.snapshot)
	s.state = StateSlotSelected
	s.outcome = OutcomeNone
	s.lastErr = nil
	return slot, nil
}

// SelectRange picks a free-form calendar range. Only unavailability is checked
// here; capacity is enforced by the store on submit.
func (s *Session) SelectRange(sel availability.TimeRange, serviceUnitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canSelect() {
		return fmt.Errorf("%w: select in state %s", ErrInvalidTransition, s.state)
	}
	if !sel.End.After(sel.Start) {
		return fmt.Errorf("%w: empty selection", ErrSlotUnavailable)
	}
	if err := availability.CheckSelection(s.resourceID, sel, s.snapshot.Blocked); err != nil {
		return err
	}

	s.selected = &availability.SlotTemplate{
		Range:         sel,
		ResourceID:    s.resourceID,
		ServiceUnitID: serviceUnitID,
	}
	s.serviceUnit = serviceUnitID
	s.duration = sel.Duration()
	s.limit = Limit{Overlapping: 1}
	s.state = StateSlotSelected
	s.outcome = OutcomeNone
	s.lastErr = nil
	return nil
}

// Submit re-checks the selection against fresh availability and persists the
// appointment. On failure the selection is kept so the user can correct it and
// submit again; storage errors such as a stale document are returned wrapped.
func (s *Session) Submit(ctx context.Context, req Request) (model.Appointment, error) {
	s.mu.Lock()
	if s.selected == nil || (s.state != StateSlotSelected && !(s.state == StateSubmitted && s.outcome == OutcomeFailure)) {
		state := s.state
		s.mu.Unlock()
		return model.Appointment{}, fmt.Errorf("%w: submit in state %s", ErrInvalidTransition, state)
	}
	resourceID, date := s.resourceID, s.date
	tpl := *s.selected
	section := s.section
	limit := s.limit
	duration := s.duration
	token := s.latest.Load()
	s.mu.Unlock()

	appt, err := s.submit(ctx, resourceID, date, section, tpl, duration, limit, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest.Load() != token {
		// The user moved on while saving; report the result without touching the new flow.
		return appt, err
	}
	s.state = StateSubmitted
	if err != nil {
		s.outcome = OutcomeFailure
		s.lastErr = err
		return model.Appointment{}, err
	}
	s.clearSelection()
	s.outcome = OutcomeSuccess
	return appt, nil
}

func (s *Session) submit(ctx context.Context, resourceID, date, section string, tpl availability.SlotTemplate, duration time.Duration, limit Limit, req Request) (model.Appointment, error) {
	minutes := int(duration / time.Minute)
	if req.DurationMinutes > 0 {
		minutes = req.DurationMinutes
	}
	booked := tpl.Range
	if minutes > 0 {
		booked.End = booked.Start.Add(time.Duration(minutes) * time.Minute)
	}

	snap, err := s.fetcher.Refresh(ctx, resourceID, date)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("refresh availability: %w", err)
	}
	if err := s.checkBlocked(ctx, resourceID, snap, booked); err != nil {
		return model.Appointment{}, err
	}
	sections, err := snap.Slots(s.now())
	if err != nil {
		return model.Appointment{}, err
	}
	if slot, ok := matchSlot(sections, section, tpl); ok && slot.Disabled {
		return model.Appointment{}, fmt.Errorf("%w: %s", ErrSlotUnavailable, slot.DisabledReason)
	}

	appt := &model.Appointment{
		ResourceID:      resourceID,
		ServiceUnitID:   tpl.ServiceUnitID,
		PatientName:     req.PatientName,
		StartTime:       tpl.Range.Start,
		DurationMinutes: minutes,
		Status:          model.StatusBooked,
		AppointmentType: req.AppointmentType,
		Notes:           req.Notes,
		Teleconference:  req.Teleconference && tpl.SupportsTeleconference,
	}
	if err := s.store.CreateAppointment(ctx, appt, limit); err != nil {
		return model.Appointment{}, err
	}
	return *appt, nil
}

// checkBlocked rejects booked when it overlaps unavailability on snap's date
// or on any later resource-local date the booking runs into.
func (s *Session) checkBlocked(ctx context.Context, resourceID string, snap availability.DaySchedule, booked availability.TimeRange) error {
	if err := availability.CheckSelection(resourceID, booked, snap.Blocked); err != nil {
		return err
	}
	for _, d := range availability.DatesSpanned(snap.Location(), booked) {
		if d == snap.Date {
			continue
		}
		next, err := s.fetcher.Refresh(ctx, resourceID, d)
		if err != nil {
			return fmt.Errorf("refresh availability for %s: %w", d, err)
		}
		if err := availability.CheckSelection(resourceID, booked, next.Blocked); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) canSelect() bool {
	return s.state == StateSlotsFetched || s.state == StateSlotSelected || s.state == StateSubmitted
}

func (s *Session) clearSelection() {
	s.selected = nil
	s.section = ""
	s.serviceUnit = ""
	s.duration = 0
	s.limit = Limit{}
	s.outcome = OutcomeNone
	s.lastErr = nil
}

func findSlot(sections []availability.SectionSlots, section string, start time.Time) (availability.Slot, string, bool) {
	for _, sec := range sections {
		if section != "" && sec.Name != section {
			continue
		}
		for _, slot := range sec.Slots {
			if slot.Template.Range.Start.Equal(start) {
				return slot, sec.Name, true
			}
		}
	}
	return availability.Slot{}, "", false
}

// matchSlot finds tpl again in freshly generated sections, by section,
// service unit and start.
func matchSlot(sections []availability.SectionSlots, section string, tpl availability.SlotTemplate) (availability.Slot, bool) {
	for _, sec := range sections {
		if section != "" && sec.Name != section {
			continue
		}
		for _, slot := range sec.Slots {
			if slot.Template.Range.Start.Equal(tpl.Range.Start) && slot.Template.ServiceUnitID == tpl.ServiceUnitID {
				return slot, true
			}
		}
	}
	return availability.Slot{}, false
}

func limitFor(tpl availability.SlotTemplate, snap availability.DaySchedule) Limit {
	switch {
	case tpl.AllDay():
		start, err := snap.Midnight()
		if err != nil {
			return Limit{}
		}
		return Limit{PerDay: tpl.MaxAppointmentsPerDay, DayStart: start, DayEnd: start.AddDate(0, 0, 1)}
	case !tpl.AllowOverlap:
		return Limit{Overlapping: 1}
	case tpl.Capacity > 1:
		return Limit{Overlapping: tpl.Capacity}
	default:
		return Limit{}
	}
}
