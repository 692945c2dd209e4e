package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/clinicslots/libs/db"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleDocument means the row changed since the caller loaded it.
	ErrStaleDocument = errors.New("document was modified by another session; refresh and try again")
	ErrSlotConflict  = errors.New("time slot already booked")
	ErrUnknownField  = errors.New("field cannot be updated")
)

// updatableColumns maps API field names to appointment columns.
var updatableColumns = map[string]string{
	"patient_name":     "patient_name",
	"start_time":       "start_time",
	"duration_minutes": "duration_minutes",
	"service_unit_id":  "service_unit_id",
	"appointment_type": "appointment_type",
	"notes":            "notes",
	"teleconference":   "teleconference",
	"status":           "status",
}

func IsUpdatableField(field string) bool {
	_, ok := updatableColumns[field]
	return ok
}

const appointmentColumns = `id::text, resource_id::text, COALESCE(service_unit_id, ''), patient_name,
	start_time, duration_minutes, status, COALESCE(appointment_type, ''), COALESCE(notes, ''),
	teleconference, version, created_at, updated_at`

type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = model.StatusBooked
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, resource_id, service_unit_id, patient_name, start_time, duration_minutes, status,
			 appointment_type, notes, teleconference, version)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), $9, $10, 1)
		RETURNING version, created_at, updated_at
	`, appt.ID, appt.ResourceID, appt.ServiceUnitID, appt.PatientName, appt.StartTime, appt.DurationMinutes,
		appt.Status, appt.AppointmentType, appt.Notes, appt.Teleconference).Scan(&appt.Version, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return "", mapError(err)
	}
	return appt.ID, nil
}

func (r *BookingRepository) GetAppointmentForUpdate(ctx context.Context, tx pgx.Tx, appointmentID string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, appointmentID)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapError(err)
	}
	return appt, nil
}

// UpdateField sets one column when the stored version still equals version and
// returns the row as it was before and after the change.
func (r *BookingRepository) UpdateField(ctx context.Context, tx pgx.Tx, appointmentID, field string, value any, version int) (before, after model.Appointment, err error) {
	column, ok := updatableColumns[field]
	if !ok {
		return model.Appointment{}, model.Appointment{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	before, err = r.GetAppointmentForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return model.Appointment{}, model.Appointment{}, err
	}
	if before.Version != version {
		return before, model.Appointment{}, ErrStaleDocument
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET `+column+` = $2,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $3
		RETURNING `+appointmentColumns, appointmentID, value, version)
	after, err = scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return before, model.Appointment{}, ErrStaleDocument
		}
		return before, model.Appointment{}, mapError(err)
	}
	return before, after, nil
}

// LockResource serialises booking writes for one resource until tx ends.
func (r *BookingRepository) LockResource(ctx context.Context, tx pgx.Tx, resourceID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, resourceID)
	return err
}

// CountOverlapping counts booked appointments intersecting [start, end).
// excludeID skips the appointment being moved.
func (r *BookingRepository) CountOverlapping(ctx context.Context, tx pgx.Tx, resourceID string, start, end time.Time, excludeID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE resource_id = $1
			AND status = 'booked'
			AND start_time < $3
			AND start_time + make_interval(mins => duration_minutes) > $2
			AND id::text <> $4
	`, resourceID, start, end, excludeID).Scan(&n)
	return n, err
}

// CountStarting counts booked appointments starting inside [start, end).
func (r *BookingRepository) CountStarting(ctx context.Context, tx pgx.Tx, resourceID string, start, end time.Time, excludeID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE resource_id = $1
			AND status = 'booked'
			AND start_time >= $2
			AND start_time < $3
			AND id::text <> $4
	`, resourceID, start, end, excludeID).Scan(&n)
	return n, err
}

// ListBookedForResource returns booked appointments starting inside [start, end).
func (r *BookingRepository) ListBookedForResource(ctx context.Context, resourceID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE resource_id = $1
			AND status = 'booked'
			AND start_time >= $2
			AND start_time < $3
		ORDER BY start_time ASC
	`, resourceID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.ResourceID,
		&appt.ServiceUnitID,
		&appt.PatientName,
		&appt.StartTime,
		&appt.DurationMinutes,
		&appt.Status,
		&appt.AppointmentType,
		&appt.Notes,
		&appt.Teleconference,
		&appt.Version,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	return appt, err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return fmt.Errorf("%w: %s", ErrSlotConflict, pgErr.ConstraintName)
	}
	return err
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
