package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
)

type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeFunc adapts a repository method to Purger.
type PurgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f PurgeFunc) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

type ResourceLister interface {
	ListResources(ctx context.Context, kind string, limit int) ([]model.Resource, error)
}

type Locator interface {
	Location(ctx context.Context, resourceID string) (*time.Location, error)
}

type Warmer interface {
	Get(ctx context.Context, resourceID, date string) (availability.DaySchedule, error)
}

// Housekeeper trims the event ledgers and keeps today's availability of
// every active resource in the cache.
type Housekeeper struct {
	purgers   map[string]Purger
	resources ResourceLister
	locator   Locator
	warmer    Warmer
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	warmLimit int
	now       func() time.Time
}

type HousekeeperConfig struct {
	Interval  time.Duration
	Retention time.Duration
	WarmLimit int
}

func NewHousekeeper(purgers map[string]Purger, resources ResourceLister, locator Locator, warmer Warmer, logger *slog.Logger, cfg HousekeeperConfig) *Housekeeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.WarmLimit <= 0 {
		cfg.WarmLimit = 200
	}
	return &Housekeeper{
		purgers:   purgers,
		resources: resources,
		locator:   locator,
		warmer:    warmer,
		logger:    logger,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		warmLimit: cfg.WarmLimit,
		now:       time.Now,
	}
}

func (h *Housekeeper) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.RunOnce(ctx); err != nil {
				h.logger.Error("housekeeping failed", "err", err)
			}
		}
	}
}

// RunOnce purges and warms once. Failures of one step do not stop the others.
func (h *Housekeeper) RunOnce(ctx context.Context) error {
	var errs []error
	cutoff := h.now().Add(-h.retention)
	for name, p := range h.purgers {
		n, err := p.Purge(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			h.logger.Info("purged old events", "ledger", name, "rows", n)
		}
	}

	warmed, err := h.warm(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if warmed > 0 {
		h.logger.Debug("availability warmed", "resources", warmed)
	}
	return errors.Join(errs...)
}

func (h *Housekeeper) warm(ctx context.Context) (int, error) {
	if h.warmer == nil || h.resources == nil {
		return 0, nil
	}
	var (
		errs   []error
		warmed int
	)
	for _, kind := range []string{model.KindPractitioner, model.KindRoom} {
		list, err := h.resources.ListResources(ctx, kind, h.warmLimit)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, res := range list {
			if ctx.Err() != nil {
				return warmed, ctx.Err()
			}
			loc, err := h.locator.Location(ctx, res.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			today := h.now().In(loc).Format(availability.DateLayout)
			if _, err := h.warmer.Get(ctx, res.ID, today); err != nil {
				errs = append(errs, err)
				continue
			}
			warmed++
		}
	}
	return warmed, errors.Join(errs...)
}
