package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
)

type countingLoader struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (l *countingLoader) Load(_ context.Context, resourceID, date string) (availability.DaySchedule, error) {
	n := l.calls.Add(1)
	if l.release != nil {
		<-l.release
	}
	if l.err != nil {
		return availability.DaySchedule{}, l.err
	}
	return availability.DaySchedule{ResourceID: resourceID, Date: date, Note: string(rune('0' + n))}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAvailabilityCache_HitAfterLoad(t *testing.T) {
	loader := &countingLoader{}
	c := New(NewMemoryStore(), loader, testLogger(), Config{})
	ctx := context.Background()

	if _, err := c.Get(ctx, "P1", "2026-01-28"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := c.Get(ctx, "P1", "2026-01-28"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected 1 load, got %d", got)
	}

	if _, err := c.Get(ctx, "P1", "2026-01-29"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("different date must load separately, got %d loads", got)
	}
}

func TestAvailabilityCache_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	loader := &countingLoader{}
	c := New(store, loader, testLogger(), Config{TTL: time.Minute})
	ctx := context.Background()

	_, _ = c.Get(ctx, "P1", "2026-01-28")
	now = now.Add(59 * time.Second)
	_, _ = c.Get(ctx, "P1", "2026-01-28")
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected cached entry within TTL, got %d loads", got)
	}
	now = now.Add(time.Second)
	_, _ = c.Get(ctx, "P1", "2026-01-28")
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected reload after TTL, got %d loads", got)
	}
}

func TestAvailabilityCache_RefreshAndInvalidate(t *testing.T) {
	loader := &countingLoader{}
	c := New(NewMemoryStore(), loader, testLogger(), Config{})
	ctx := context.Background()

	_, _ = c.Get(ctx, "P1", "2026-01-28")
	snap, err := c.Refresh(ctx, "P1", "2026-01-28")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap.Note != "2" {
		t.Fatalf("expected refreshed snapshot, got note %q", snap.Note)
	}
	cached, _ := c.Get(ctx, "P1", "2026-01-28")
	if cached.Note != "2" {
		t.Fatalf("refresh must overwrite the cached entry, got %q", cached.Note)
	}

	if err := c.Invalidate(ctx, "P1", "2026-01-28"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = c.Get(ctx, "P1", "2026-01-28")
	if got := loader.calls.Load(); got != 3 {
		t.Fatalf("expected load after invalidate, got %d", got)
	}
}

type countingStore struct {
	*MemoryStore
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, key string) (availability.DaySchedule, bool, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(ctx, key)
}

func TestAvailabilityCache_CoalescesConcurrentLoads(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	store := &countingStore{MemoryStore: NewMemoryStore()}
	c := New(store, loader, testLogger(), Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "P1", "2026-01-28"); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	// Every caller must have missed the store and joined the in-flight load.
	deadline := time.Now().Add(2 * time.Second)
	for (loader.calls.Load() == 0 || store.gets.Load() < 8) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(loader.release)
	wg.Wait()

	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected a single coalesced load, got %d", got)
	}
}

func TestAvailabilityCache_LoadErrorNotCached(t *testing.T) {
	loader := &countingLoader{err: errors.New("db down")}
	c := New(NewMemoryStore(), loader, testLogger(), Config{})
	ctx := context.Background()

	if _, err := c.Get(ctx, "P1", "2026-01-28"); err == nil {
		t.Fatalf("expected error")
	}
	loader.err = nil
	if _, err := c.Get(ctx, "P1", "2026-01-28"); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected 2 loads, got %d", got)
	}
}

func TestAvailabilityCache_UnavailableRanges(t *testing.T) {
	store := NewMemoryStore()
	block := availability.UnavailableRange{Reason: "Leave"}
	_ = store.Set(context.Background(), Key("P1", "2026-01-28"), availability.DaySchedule{Blocked: []availability.UnavailableRange{block}}, time.Minute)
	c := New(store, &countingLoader{}, testLogger(), Config{})

	got, err := c.UnavailableRanges(context.Background(), "P1", "2026-01-28")
	if err != nil {
		t.Fatalf("ranges: %v", err)
	}
	if len(got) != 1 || got[0].Reason != "Leave" {
		t.Fatalf("unexpected ranges %+v", got)
	}
}

func waitForLoads(t *testing.T, loader *countingLoader, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for loader.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d loads to start, got %d", n, loader.calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAvailabilityCache_InvalidateDuringLoadIsNotCached(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	c := New(NewMemoryStore(), loader, testLogger(), Config{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get(ctx, "P1", "2026-01-28")
	}()
	waitForLoads(t, loader, 1)

	// A booking commits while the first load still holds its old read.
	if err := c.Invalidate(ctx, "P1", "2026-01-28"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(loader.release)
	<-done

	snap, err := c.Get(ctx, "P1", "2026-01-28")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Note != "2" || loader.calls.Load() != 2 {
		t.Fatalf("expected a fresh load after invalidate, got note %q after %d loads", snap.Note, loader.calls.Load())
	}
}

func TestAvailabilityCache_RefreshDoesNotJoinOlderLoad(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	c := New(NewMemoryStore(), loader, testLogger(), Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Get(ctx, "P1", "2026-01-28")
	}()
	waitForLoads(t, loader, 1)

	var refreshed availability.DaySchedule
	wg.Add(1)
	go func() {
		defer wg.Done()
		refreshed, _ = c.Refresh(ctx, "P1", "2026-01-28")
	}()
	waitForLoads(t, loader, 2)
	close(loader.release)
	wg.Wait()

	if refreshed.Note != "2" {
		t.Fatalf("refresh must run its own load, got note %q", refreshed.Note)
	}
	cached, _ := c.Get(ctx, "P1", "2026-01-28")
	if cached.Note != "2" || loader.calls.Load() != 2 {
		t.Fatalf("expected the refreshed snapshot cached, got note %q after %d loads", cached.Note, loader.calls.Load())
	}
}
