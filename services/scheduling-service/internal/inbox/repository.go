package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/clinicslots/libs/db"
)

// Repository is the ledger of Kafka events this instance group already handled.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record reports false when consumer already processed eventID.
func (r *Repository) Record(ctx context.Context, consumer, eventID, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
	`, consumer, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}

// Purge forgets events processed before cutoff. Redeliveries older than the
// retention window are handled again, which invalidation tolerates.
func (r *Repository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
