package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicslots/libs/db"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
)

type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) GetResource(ctx context.Context, resourceID string) (model.Resource, error) {
	var res model.Resource
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, kind, name, COALESCE(color, ''), timezone, active
		FROM resources
		WHERE id = $1
	`, resourceID).Scan(&res.ID, &res.Kind, &res.Name, &res.Color, &res.Timezone, &res.Active)
	if err != nil {
		return model.Resource{}, mapError(err)
	}
	return res, nil
}

func (r *ScheduleRepository) ListResources(ctx context.Context, kind string, limit int) ([]model.Resource, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, kind, name, COALESCE(color, ''), timezone, active
		FROM resources
		WHERE kind = $1 AND active
		ORDER BY name ASC
		LIMIT $2
	`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Resource
	for rows.Next() {
		var res model.Resource
		if err := rows.Scan(&res.ID, &res.Kind, &res.Name, &res.Color, &res.Timezone, &res.Active); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListWindows returns the resource's working windows for a weekday in declaration order.
func (r *ScheduleRepository) ListWindows(ctx context.Context, resourceID string, weekday int) ([]model.ScheduleWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT resource_id::text, section, weekday, start_minute, end_minute,
			COALESCE(service_unit_id, ''), allow_overlap, COALESCE(capacity, 0),
			COALESCE(max_per_day, 0), teleconference, COALESCE(slot_minutes, 0)
		FROM schedule_windows
		WHERE resource_id = $1 AND weekday = $2
		ORDER BY position ASC, start_minute ASC
	`, resourceID, weekday)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduleWindow
	for rows.Next() {
		var w model.ScheduleWindow
		if err := rows.Scan(&w.ResourceID, &w.Section, &w.Weekday, &w.StartMinute, &w.EndMinute,
			&w.ServiceUnitID, &w.AllowOverlap, &w.Capacity, &w.MaxAppointmentsPerDay, &w.Teleconference, &w.SlotMinutes); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ScheduleRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *ScheduleRepository) CreateBlock(ctx context.Context, tx pgx.Tx, block model.UnavailabilityBlock) (string, error) {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO unavailability_blocks (id, resource_id, start_time, end_time, reason, note)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, block.ID, block.ResourceID, block.StartTime, block.EndTime, block.Reason, block.Note)
	if err != nil {
		return "", mapError(err)
	}
	return block.ID, nil
}

// ListBlocks returns blocks of the resource intersecting [from, to).
func (r *ScheduleRepository) ListBlocks(ctx context.Context, resourceID string, from, to time.Time) ([]model.UnavailabilityBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, resource_id::text, start_time, end_time, COALESCE(reason, ''), COALESCE(note, ''), created_at
		FROM unavailability_blocks
		WHERE resource_id = $1
			AND end_time > $2
			AND start_time < $3
		ORDER BY start_time ASC
	`, resourceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UnavailabilityBlock
	for rows.Next() {
		var b model.UnavailabilityBlock
		if err := rows.Scan(&b.ID, &b.ResourceID, &b.StartTime, &b.EndTime, &b.Reason, &b.Note, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ScheduleRepository) DeleteBlock(ctx context.Context, tx pgx.Tx, blockID string) (model.UnavailabilityBlock, error) {
	var b model.UnavailabilityBlock
	err := tx.QueryRow(ctx, `
		DELETE FROM unavailability_blocks
		WHERE id = $1
		RETURNING id::text, resource_id::text, start_time, end_time, COALESCE(reason, ''), COALESCE(note, ''), created_at
	`, blockID).Scan(&b.ID, &b.ResourceID, &b.StartTime, &b.EndTime, &b.Reason, &b.Note, &b.CreatedAt)
	if err != nil {
		return model.UnavailabilityBlock{}, mapError(err)
	}
	return b, nil
}
