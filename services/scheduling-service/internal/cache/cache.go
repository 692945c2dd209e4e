package cache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 2 * time.Minute

type Loader interface {
	Load(ctx context.Context, resourceID, date string) (availability.DaySchedule, error)
}

// Store holds snapshots by key until their TTL expires.
type Store interface {
	Get(ctx context.Context, key string) (availability.DaySchedule, bool, error)
	Set(ctx context.Context, key string, snap availability.DaySchedule, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func Key(resourceID, date string) string {
	return "availability:" + resourceID + ":" + date
}

type Config struct {
	TTL         time.Duration
	LoadTimeout time.Duration
}

// AvailabilityCache serves per (resource, date) snapshots. Concurrent loads of
// one key share a single Loader call.
//
// Each key has a generation bumped by Invalidate and Refresh. A load started
// under an older generation still answers its callers but is never stored.
type AvailabilityCache struct {
	store       Store
	loader      Loader
	logger      *slog.Logger
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64
}

func New(store Store, loader Loader, logger *slog.Logger, cfg Config) *AvailabilityCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 5 * time.Second
	}
	return &AvailabilityCache{
		store:       store,
		loader:      loader,
		logger:      logger,
		ttl:         cfg.TTL,
		loadTimeout: cfg.LoadTimeout,
		gen:         map[string]uint64{},
	}
}

// Get returns the cached snapshot or loads it on a miss.
func (c *AvailabilityCache) Get(ctx context.Context, resourceID, date string) (availability.DaySchedule, error) {
	key := Key(resourceID, date)
	snap, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("availability cache read failed", "key", key, "err", err)
	}
	if ok {
		return snap, nil
	}
	return c.load(ctx, key, resourceID, date)
}

// Refresh bypasses the cached entry and reloads it. It never joins a load
// that was already in flight.
func (c *AvailabilityCache) Refresh(ctx context.Context, resourceID, date string) (availability.DaySchedule, error) {
	key := Key(resourceID, date)
	c.bump(key)
	return c.load(ctx, key, resourceID, date)
}

// Invalidate drops the entry; loads in flight for the key are not stored.
func (c *AvailabilityCache) Invalidate(ctx context.Context, resourceID, date string) error {
	key := Key(resourceID, date)
	c.bump(key)
	return c.store.Delete(ctx, key)
}

func (c *AvailabilityCache) bump(key string) {
	c.mu.Lock()
	c.gen[key]++
	c.mu.Unlock()
}

func (c *AvailabilityCache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[key]
}

// UnavailableRanges implements availability.RangeSource.
func (c *AvailabilityCache) UnavailableRanges(ctx context.Context, resourceID, date string) ([]availability.UnavailableRange, error) {
	snap, err := c.Get(ctx, resourceID, date)
	if err != nil {
		return nil, err
	}
	return snap.Blocked, nil
}

func (c *AvailabilityCache) load(ctx context.Context, key, resourceID, date string) (availability.DaySchedule, error) {
	gen := c.generation(key)
	v, err, shared := c.group.Do(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		// Detached so one caller going away does not fail the others waiting on this key.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		loadCtx, span := otel.Tracer("availability-cache").Start(loadCtx, "availability.load",
			trace.WithAttributes(
				attribute.String("resource.id", resourceID),
				attribute.String("schedule.date", date),
			),
		)
		defer span.End()

		snap, err := c.loader.Load(loadCtx, resourceID, date)
		if err != nil {
			span.RecordError(err)
			return availability.DaySchedule{}, err
		}
		if c.generation(key) != gen {
			c.logger.Debug("availability load superseded", "key", key)
			return snap, nil
		}
		if err := c.store.Set(loadCtx, key, snap, c.ttl); err != nil {
			c.logger.Warn("availability cache write failed", "key", key, "err", err)
		}
		// Invalidated between the check and the write.
		if c.generation(key) != gen {
			if err := c.store.Delete(loadCtx, key); err != nil {
				c.logger.Warn("availability cache delete failed", "key", key, "err", err)
			}
		}
		return snap, nil
	})
	if err != nil {
		return availability.DaySchedule{}, err
	}
	if shared {
		c.logger.Debug("availability load coalesced", "key", key)
	}
	return v.(availability.DaySchedule), nil
}
