package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
)

type fakeResources map[string][]model.Resource

func (f fakeResources) ListResources(_ context.Context, kind string, _ int) ([]model.Resource, error) {
	return f[kind], nil
}

type zoneLocator map[string]string

func (z zoneLocator) Location(_ context.Context, resourceID string) (*time.Location, error) {
	name, ok := z[resourceID]
	if !ok {
		return nil, errors.New("unknown resource")
	}
	return time.LoadLocation(name)
}

type recordingWarmer struct {
	calls []string
}

func (w *recordingWarmer) Get(_ context.Context, resourceID, date string) (availability.DaySchedule, error) {
	w.calls = append(w.calls, resourceID+"@"+date)
	return availability.DaySchedule{}, nil
}

func TestHousekeeperRunOnce(t *testing.T) {
	now := time.Date(2026, 1, 28, 20, 0, 0, 0, time.UTC)
	var gotCutoff time.Time
	purged := PurgeFunc(func(_ context.Context, cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 3, nil
	})
	failing := PurgeFunc(func(context.Context, time.Time) (int64, error) {
		return 0, errors.New("db down")
	})

	resources := fakeResources{
		model.KindPractitioner: {{ID: "P1"}, {ID: "P2"}},
		model.KindRoom:         {{ID: "R1"}},
	}
	locator := zoneLocator{"P1": "UTC", "R1": "Asia/Tokyo"}
	warmer := &recordingWarmer{}

	h := NewHousekeeper(map[string]Purger{"outbox": purged, "inbox": failing}, resources, locator, warmer,
		slog.New(slog.NewTextHandler(io.Discard, nil)), HousekeeperConfig{Retention: 24 * time.Hour})
	h.now = func() time.Time { return now }

	err := h.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected joined error from failing purge and unknown resource")
	}
	if !gotCutoff.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %v", gotCutoff)
	}

	want := []string{"P1@2026-01-28", "R1@2026-01-29"}
	if len(warmer.calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, warmer.calls)
	}
	for i := range want {
		if warmer.calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, warmer.calls)
		}
	}
}

func TestHousekeeperDefaults(t *testing.T) {
	h := NewHousekeeper(nil, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), HousekeeperConfig{})
	if h.interval != time.Minute || h.retention != 7*24*time.Hour || h.warmLimit != 200 {
		t.Fatalf("unexpected defaults %+v", h)
	}
	if err := h.RunOnce(context.Background()); err != nil {
		t.Fatalf("empty housekeeper must succeed, got %v", err)
	}
}
