package cache

import (
	"context"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
)

type memoryEntry struct {
	snap      availability.DaySchedule
	expiresAt time.Time
}

// MemoryStore is a process-local Store, used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (availability.DaySchedule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return availability.DaySchedule{}, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return availability.DaySchedule{}, false, nil
	}
	return e.snap, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, snap availability.DaySchedule, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{snap: snap, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
