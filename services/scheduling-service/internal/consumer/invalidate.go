package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/outbox"
	"github.com/segmentio/kafka-go"
)

type Invalidator interface {
	Invalidate(ctx context.Context, resourceID, date string) error
}

// InvalidateAvailability drops the cached (resource, date) snapshots named by
// an availability change so the next read reloads them.
func InvalidateAvailability(cache Invalidator) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		evt, err := outbox.DecodeAvailabilityChanged(msg.Value)
		if err != nil {
			return err
		}
		var errs []error
		for _, date := range evt.Dates {
			if err := cache.Invalidate(ctx, evt.ResourceID, date); err != nil {
				errs = append(errs, fmt.Errorf("invalidate %s/%s: %w", evt.ResourceID, date, err))
			}
		}
		return errors.Join(errs...)
	}
}
