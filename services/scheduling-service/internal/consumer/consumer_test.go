package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/outbox"
	"github.com/segmentio/kafka-go"
)

type memoryInbox struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryInbox) Record(_ context.Context, consumer, eventID, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	key := consumer + "/" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

type sliceReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
	closed bool
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

type recordingCache struct {
	keys []string
	err  error
}

func (c *recordingCache) Invalidate(_ context.Context, resourceID, date string) error {
	c.keys = append(c.keys, resourceID+"/"+date)
	return c.err
}

func changedMessage(t *testing.T, eventID string, dates ...string) kafka.Message {
	t.Helper()
	evt, err := outbox.NewAvailabilityChanged(outbox.AvailabilityChanged{
		AggregateType: outbox.AggregateAppointment,
		AggregateID:   "a-1",
		ResourceID:    "P1",
		Dates:         dates,
		Action:        "created",
	})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return kafka.Message{
		Topic: evt.EventType,
		Key:   []byte(evt.AggregateID),
		Value: evt.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
	}
}

func TestConsumerInvalidatesOncePerEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := &recordingCache{}
	reader := &sliceReader{
		cancel: cancel,
		msgs: []kafka.Message{
			changedMessage(t, "e-1", "2026-01-28"),
			changedMessage(t, "e-1", "2026-01-28"),
			changedMessage(t, "e-2", "2026-01-28", "2026-01-29"),
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := newConsumer(reader, logger, &memoryInbox{}, "scheduling-service", InvalidateAvailability(cache))
	c.Run(ctx)

	want := []string{"P1/2026-01-28", "P1/2026-01-28", "P1/2026-01-29"}
	if len(cache.keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, cache.keys)
	}
	for i := range want {
		if cache.keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cache.keys)
		}
	}
	if !reader.closed {
		t.Fatalf("reader must be closed on shutdown")
	}
}

func TestInvalidateAvailabilityJoinsErrors(t *testing.T) {
	cache := &recordingCache{err: errors.New("redis down")}
	err := InvalidateAvailability(cache)(context.Background(), changedMessage(t, "e-1", "2026-01-28", "2026-01-29"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(cache.keys) != 2 {
		t.Fatalf("every date must be attempted, got %v", cache.keys)
	}
}
