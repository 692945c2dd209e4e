package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/storage"
)

const (
	testDate     = "2026-01-28"
	testNextDate = "2026-01-29"
)

func at(date string, h, m int) time.Time {
	d, _ := time.Parse(availability.DateLayout, date)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, time.UTC)
}

func tpl(date string, h, m int) availability.SlotTemplate {
	start := at(date, h, m)
	return availability.SlotTemplate{
		Range:         availability.TimeRange{Start: start, End: start.Add(30 * time.Minute)},
		ResourceID:    "P1",
		ServiceUnitID: "GP",
	}
}

func daySnapshot(date string, bookings ...availability.BookedInterval) availability.DaySchedule {
	return availability.DaySchedule{
		ResourceID:   "P1",
		ResourceName: "Dr Smith",
		Date:         date,
		Timezone:     "UTC",
		DayStart:     at(date, 9, 0),
		DayEnd:       at(date, 10, 30),
		Sections: []availability.Section{{
			Name:          "Morning",
			ServiceUnitID: "GP",
			Templates:     []availability.SlotTemplate{tpl(date, 9, 0), tpl(date, 9, 30), tpl(date, 10, 0)},
		}},
		Bookings: bookings,
	}
}

func booked(date string, h, m int) availability.BookedInterval {
	start := at(date, h, m)
	return availability.BookedInterval{
		ResourceID: "P1",
		Range:      availability.TimeRange{Start: start, End: start.Add(30 * time.Minute)},
		Kind:       availability.KindAppointment,
	}
}

type fakeFetcher struct {
	mu        sync.Mutex
	snaps     map[string]availability.DaySchedule
	err       error
	gates     map[string]chan struct{}
	started   chan string
	refreshes int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		snaps: map[string]availability.DaySchedule{
			testDate:     daySnapshot(testDate, booked(testDate, 9, 30)),
			testNextDate: daySnapshot(testNextDate),
		},
		gates:   map[string]chan struct{}{},
		started: make(chan string, 16),
	}
}

func (f *fakeFetcher) set(date string, snap availability.DaySchedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[date] = snap
}

func (f *fakeFetcher) Get(_ context.Context, _, date string) (availability.DaySchedule, error) {
	return f.fetch(date)
}

func (f *fakeFetcher) Refresh(_ context.Context, _, date string) (availability.DaySchedule, error) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	return f.fetch(date)
}

func (f *fakeFetcher) fetch(date string) (availability.DaySchedule, error) {
	f.mu.Lock()
	gate := f.gates[date]
	snap, ok := f.snaps[date]
	err := f.err
	f.mu.Unlock()

	f.started <- date
	if gate != nil {
		<-gate
	}
	if err != nil {
		return availability.DaySchedule{}, err
	}
	if !ok {
		return availability.DaySchedule{ResourceID: "P1", ResourceName: "Dr Smith", Date: date, Timezone: "UTC"}, nil
	}
	return snap, nil
}

type fakeStore struct {
	mu      sync.Mutex
	created []model.Appointment
	limits  []Limit
	err     error
}

func (s *fakeStore) CreateAppointment(_ context.Context, appt *model.Appointment, limit Limit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	appt.ID = "a-1"
	appt.Version = 1
	s.created = append(s.created, *appt)
	s.limits = append(s.limits, limit)
	return nil
}

func newTestSession(f Fetcher, st Store) *Session {
	s := NewSession(f, st)
	s.now = func() time.Time { return at("2026-01-27", 12, 0) }
	return s
}

func TestSession_BookingFlow(t *testing.T) {
	fetcher := newFakeFetcher()
	store := &fakeStore{}
	s := newTestSession(fetcher, store)
	ctx := context.Background()

	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if err := s.Choose("P1", testDate); err != nil {
		t.Fatalf("choose: %v", err)
	}
	if s.State() != StateDateResourceChosen {
		t.Fatalf("expected date_resource_chosen, got %s", s.State())
	}
	if err := s.Fetch(ctx, false); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	view := s.View()
	if view.State != StateSlotsFetched || len(view.Sections) != 1 || len(view.Sections[0].Slots) != 3 {
		t.Fatalf("unexpected view after fetch: %+v", view)
	}

	if _, err := s.SelectSlot("Morning", at(testDate, 9, 0)); err != nil {
		t.Fatalf("select: %v", err)
	}
	view = s.View()
	if view.State != StateSlotSelected || view.ServiceUnit != "GP" || view.Duration != 30*time.Minute {
		t.Fatalf("unexpected selection state: %+v", view)
	}

	appt, err := s.Submit(ctx, Request{PatientName: "Jane Doe", AppointmentType: "consult"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if appt.ID != "a-1" || !appt.StartTime.Equal(at(testDate, 9, 0)) || appt.DurationMinutes != 30 {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	if got := store.limits[0]; got.Overlapping != 1 {
		t.Fatalf("exclusive slot must be limited to one booking, got %+v", got)
	}
	view = s.View()
	if view.State != StateSubmitted || view.Outcome != OutcomeSuccess || view.Selected != nil {
		t.Fatalf("unexpected state after submit: %+v", view)
	}
	if fetcher.refreshes != 1 {
		t.Fatalf("submit must re-check against refreshed availability, got %d refreshes", fetcher.refreshes)
	}
}

func TestSession_RejectsOutOfOrderSteps(t *testing.T) {
	s := newTestSession(newFakeFetcher(), &fakeStore{})
	ctx := context.Background()

	if err := s.Fetch(ctx, false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fetch from idle: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.Choose("", testDate); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("choose without resource: expected ErrInvalidTransition, got %v", err)
	}
	_ = s.Choose("P1", testDate)
	if _, err := s.SelectSlot("", at(testDate, 9, 0)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("select before fetch: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.Submit(ctx, Request{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("submit without selection: expected ErrInvalidTransition, got %v", err)
	}
}

func TestSession_DisabledSlotCannotBeSelected(t *testing.T) {
	s := newTestSession(newFakeFetcher(), &fakeStore{})
	_ = s.Choose("P1", testDate)
	if err := s.Fetch(context.Background(), false); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	slot, err := s.SelectSlot("Morning", at(testDate, 9, 30))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if slot.DisabledReason != availability.ReasonBooked {
		t.Fatalf("expected booked reason, got %q", slot.DisabledReason)
	}
	if _, err := s.SelectSlot("Morning", at(testDate, 11, 0)); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound, got %v", err)
	}
	if s.State() != StateSlotsFetched {
		t.Fatalf("rejected selection must not change state, got %s", s.State())
	}
}

func TestSession_DropsStaleResponse(t *testing.T) {
	fetcher := newFakeFetcher()
	gate := make(chan struct{})
	fetcher.gates[testDate] = gate
	s := newTestSession(fetcher, &fakeStore{})
	ctx := context.Background()

	_ = s.Choose("P1", testDate)
	slow := make(chan error, 1)
	go func() { slow <- s.Fetch(ctx, false) }()
	if got := <-fetcher.started; got != testDate {
		t.Fatalf("expected first fetch for %s, got %s", testDate, got)
	}

	// The user moves to the next day before the first response arrives.
	_ = s.Choose("P1", testNextDate)
	if err := s.Fetch(ctx, false); err != nil {
		t.Fatalf("fetch next date: %v", err)
	}
	<-fetcher.started

	close(gate)
	if err := <-slow; !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("expected ErrStaleResponse for superseded fetch, got %v", err)
	}

	view := s.View()
	if view.Date != testNextDate {
		t.Fatalf("expected session on %s, got %s", testNextDate, view.Date)
	}
	for _, slot := range view.Sections[0].Slots {
		if slot.Template.Range.Start.Format(availability.DateLayout) != testNextDate {
			t.Fatalf("stale slots applied: %+v", slot.Template.Range)
		}
		if slot.Disabled {
			t.Fatalf("next date has no bookings, slot %v must be enabled", slot.Template.Range.Start)
		}
	}
}

func TestSession_OlderFetchForSameDateIsDropped(t *testing.T) {
	fetcher := newFakeFetcher()
	gate := make(chan struct{})
	fetcher.gates[testDate] = gate
	s := newTestSession(fetcher, &fakeStore{})
	ctx := context.Background()

	_ = s.Choose("P1", testDate)
	first := make(chan error, 1)
	go func() { first <- s.Fetch(ctx, false) }()
	<-fetcher.started

	second := make(chan error, 1)
	go func() { second <- s.Fetch(ctx, true) }()
	<-fetcher.started

	// Both requests wait on the same gate; whichever returns first, only the
	// later-issued one may be applied.
	fetcher.set(testDate, daySnapshot(testDate))
	close(gate)

	errs := []error{<-first, <-second}
	stale := 0
	for _, err := range errs {
		if errors.Is(err, ErrStaleResponse) {
			stale++
		} else if err != nil {
			t.Fatalf("unexpected fetch error %v", err)
		}
	}
	if stale != 1 {
		t.Fatalf("expected exactly one dropped response, got %d", stale)
	}
}

func TestSession_FetchFailureShowsEmptyState(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.err = errors.New("upstream timeout")
	s := newTestSession(fetcher, &fakeStore{})

	_ = s.Choose("P1", testDate)
	if err := s.Fetch(context.Background(), false); err == nil {
		t.Fatalf("expected fetch error")
	}
	view := s.View()
	if view.State != StateSlotsFetched || len(view.Sections) != 0 || view.Message == "" || view.Err == nil {
		t.Fatalf("expected empty state with message, got %+v", view)
	}
}

func TestSession_EmptyScheduleIsInformational(t *testing.T) {
	fetcher := newFakeFetcher()
	s := newTestSession(fetcher, &fakeStore{})

	_ = s.Choose("P1", "2026-02-01")
	if err := s.Fetch(context.Background(), false); err != nil {
		t.Fatalf("empty schedule is not an error: %v", err)
	}
	view := s.View()
	if view.Message != "Dr Smith is not available on 2026-02-01" {
		t.Fatalf("unexpected message %q", view.Message)
	}
}

func TestSession_FailedSubmitCanBeRetried(t *testing.T) {
	store := &fakeStore{err: storage.ErrStaleDocument}
	s := newTestSession(newFakeFetcher(), store)
	ctx := context.Background()

	_ = s.Choose("P1", testDate)
	_ = s.Fetch(ctx, false)
	if _, err := s.SelectSlot("", at(testDate, 10, 0)); err != nil {
		t.Fatalf("select: %v", err)
	}

	if _, err := s.Submit(ctx, Request{PatientName: "Jane Doe"}); !errors.Is(err, storage.ErrStaleDocument) {
		t.Fatalf("expected ErrStaleDocument, got %v", err)
	}
	view := s.View()
	if view.State != StateSubmitted || view.Outcome != OutcomeFailure || view.Selected == nil {
		t.Fatalf("failed submit must keep the selection: %+v", view)
	}

	store.err = nil
	if _, err := s.Submit(ctx, Request{PatientName: "Jane Doe"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.View().Outcome != OutcomeSuccess {
		t.Fatalf("expected success on retry")
	}
}

func TestSession_SubmitRechecksFreshAvailability(t *testing.T) {
	fetcher := newFakeFetcher()
	store := &fakeStore{}
	s := newTestSession(fetcher, store)
	ctx := context.Background()

	_ = s.Choose("P1", testDate)
	_ = s.Fetch(ctx, false)
	if _, err := s.SelectSlot("", at(testDate, 10, 0)); err != nil {
		t.Fatalf("select: %v", err)
	}

	// Someone else books 10:00 after our fetch.
	fetcher.set(testDate, daySnapshot(testDate, booked(testDate, 9, 30), booked(testDate, 10, 0)))
	if _, err := s.Submit(ctx, Request{PatientName: "Jane Doe"}); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("no appointment may be stored for a taken slot")
	}
}

func TestSession_SubmitChecksBookedLengthAgainstBlocks(t *testing.T) {
	fetcher := newFakeFetcher()
	snap := daySnapshot(testDate)
	snap.Blocked = []availability.UnavailableRange{{
		Range:  availability.TimeRange{Start: at(testDate, 10, 0), End: at(testDate, 11, 0)},
		Reason: "Ward round",
	}}
	fetcher.set(testDate, snap)
	store := &fakeStore{}
	s := newTestSession(fetcher, store)
	ctx := context.Background()

	_ = s.Choose("P1", testDate)
	_ = s.Fetch(ctx, false)
	if _, err := s.SelectSlot("", at(testDate, 9, 0)); err != nil {
		t.Fatalf("select: %v", err)
	}

	_, err := s.Submit(ctx, Request{PatientName: "Jane Doe", DurationMinutes: 120})
	var selErr *availability.SelectionError
	if !errors.As(err, &selErr) || selErr.Block.Reason != "Ward round" {
		t.Fatalf("expected the 2h booking to hit the block, got %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("no appointment may be stored through a block")
	}

	appt, err := s.Submit(ctx, Request{PatientName: "Jane Doe"})
	if err != nil {
		t.Fatalf("slot-length booking: %v", err)
	}
	if appt.DurationMinutes != 30 {
		t.Fatalf("expected 30 minutes, got %d", appt.DurationMinutes)
	}
}

func TestSession_SubmitChecksFollowingDay(t *testing.T) {
	fetcher := newFakeFetcher()
	next := daySnapshot(testNextDate)
	next.Blocked = []availability.UnavailableRange{{
		Range:  availability.TimeRange{Start: at(testNextDate, 0, 0), End: at(testNextDate, 8, 0)},
		Reason: "Leave",
	}}
	fetcher.set(testNextDate, next)
	s := newTestSession(fetcher, &fakeStore{})
	ctx := context.Background()

	_ = s.Choose("P1", testDate)
	_ = s.Fetch(ctx, false)
	if _, err := s.SelectSlot("", at(testDate, 10, 0)); err != nil {
		t.Fatalf("select: %v", err)
	}
	// 10:00 plus 15h runs to 01:00 the next day.
	if _, err := s.Submit(ctx, Request{PatientName: "Jane Doe", DurationMinutes: 15 * 60}); !errors.Is(err, availability.ErrSelectionBlocked) {
		t.Fatalf("expected rejection from the next day's block, got %v", err)
	}
}

func TestSession_SubmitRechecksSelectedSection(t *testing.T) {
	shared := tpl(testDate, 9, 0)
	shared.AllowOverlap = true
	shared.Capacity = 3
	tele := tpl(testDate, 9, 0)
	tele.ServiceUnitID = "TELE"
	twoSections := func(bookings ...availability.BookedInterval) availability.DaySchedule {
		snap := daySnapshot(testDate, bookings...)
		snap.Sections = []availability.Section{
			{Name: "Morning", ServiceUnitID: "GP", Templates: []availability.SlotTemplate{shared}},
			{Name: "Telehealth", ServiceUnitID: "TELE", Templates: []availability.SlotTemplate{tele}},
		}
		return snap
	}

	fetcher := newFakeFetcher()
	fetcher.set(testDate, twoSections())
	store := &fakeStore{}
	s := newTestSession(fetcher, store)
	ctx := context.Background()

	_ = s.Choose("P1", testDate)
	_ = s.Fetch(ctx, false)
	if _, err := s.SelectSlot("Telehealth", at(testDate, 9, 0)); err != nil {
		t.Fatalf("select: %v", err)
	}

	// The 9:00 booking leaves the shared slot open but takes the telehealth one.
	fetcher.set(testDate, twoSections(booked(testDate, 9, 0)))
	if _, err := s.Submit(ctx, Request{PatientName: "Jane Doe"}); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("no appointment may be stored for a taken slot")
	}
}

func TestSession_SelectRangeChecksUnavailability(t *testing.T) {
	fetcher := newFakeFetcher()
	snap := daySnapshot(testDate)
	snap.Blocked = []availability.UnavailableRange{{
		Range:  availability.TimeRange{Start: at(testDate, 12, 0), End: at(testDate, 13, 0)},
		Reason: "Lunch",
	}}
	fetcher.set(testDate, snap)
	s := newTestSession(fetcher, &fakeStore{})
	_ = s.Choose("P1", testDate)
	_ = s.Fetch(context.Background(), false)

	err := s.SelectRange(availability.TimeRange{Start: at(testDate, 12, 30), End: at(testDate, 12, 45)}, "GP")
	var selErr *availability.SelectionError
	if !errors.As(err, &selErr) || selErr.Block.Reason != "Lunch" {
		t.Fatalf("expected selection error with reason, got %v", err)
	}

	if err := s.SelectRange(availability.TimeRange{Start: at(testDate, 14, 0), End: at(testDate, 14, 20)}, "GP"); err != nil {
		t.Fatalf("free range: %v", err)
	}
	if v := s.View(); v.Duration != 20*time.Minute || v.State != StateSlotSelected {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestLimitFor(t *testing.T) {
	snap := daySnapshot(testDate)
	base := tpl(testDate, 9, 0)

	shared := base
	shared.AllowOverlap = true
	shared.Capacity = 3

	open := base
	open.AllowOverlap = true

	daily := base
	daily.MaxAppointmentsPerDay = 5

	cases := []struct {
		name string
		tpl  availability.SlotTemplate
		want Limit
	}{
		{"exclusive", base, Limit{Overlapping: 1}},
		{"capacity", shared, Limit{Overlapping: 3}},
		{"open overlap", open, Limit{}},
		{"per day", daily, Limit{PerDay: 5, DayStart: at(testDate, 0, 0), DayEnd: at(testNextDate, 0, 0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := limitFor(tc.tpl, snap)
			if got.Overlapping != tc.want.Overlapping || got.PerDay != tc.want.PerDay ||
				!got.DayStart.Equal(tc.want.DayStart) || !got.DayEnd.Equal(tc.want.DayEnd) {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}
