package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicslots/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Load returns false when the owner has never saved settings.
func (r *Repository) Load(ctx context.Context, ownerID string) (ViewSettings, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT payload
		FROM calendar_view_settings
		WHERE owner_id = $1
	`, ownerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ViewSettings{}, false, nil
		}
		return ViewSettings{}, false, err
	}
	var vs ViewSettings
	if err := json.Unmarshal(raw, &vs); err != nil {
		return ViewSettings{}, false, fmt.Errorf("decode view settings for %s: %w", ownerID, err)
	}
	return vs, true, nil
}

func (r *Repository) Save(ctx context.Context, ownerID string, vs ViewSettings) error {
	payload, err := json.Marshal(vs)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO calendar_view_settings (owner_id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (owner_id) DO UPDATE
		SET payload = EXCLUDED.payload,
			updated_at = now()
	`, ownerID, payload)
	return err
}
