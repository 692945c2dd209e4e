package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/storage"
)

type FieldUpdater interface {
	UpdateField(ctx context.Context, appointmentID, field string, raw any, version int) (model.Appointment, error)
}

type BookingHandler struct {
	fetcher booking.Fetcher
	store   booking.Store
	updater FieldUpdater
	logger  *slog.Logger
}

func NewBookingHandler(fetcher booking.Fetcher, store booking.Store, updater FieldUpdater, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		fetcher: fetcher,
		store:   store,
		updater: updater,
		logger:  logger,
	}
}

type createBookingRequest struct {
	ResourceID      string `json:"resource_id"`
	Date            string `json:"date"`
	Section         string `json:"section"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	ServiceUnitID   string `json:"service_unit_id"`
	PatientName     string `json:"patient_name"`
	AppointmentType string `json:"appointment_type"`
	Notes           string `json:"notes"`
	Teleconference  bool   `json:"teleconference"`
	DurationMinutes int    `json:"duration_minutes"`
}

type updateBookingRequest struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Version int    `json:"version"`
}

type appointmentItem struct {
	AppointmentID   string `json:"appointment_id"`
	ResourceID      string `json:"resource_id"`
	ServiceUnitID   string `json:"service_unit_id,omitempty"`
	PatientName     string `json:"patient_name"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	AppointmentType string `json:"appointment_type,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Teleconference  bool   `json:"teleconference"`
	Version         int    `json:"version"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// Create serves POST /api/v1/bookings. The request runs one booking session:
// a forced availability fetch, slot (or range) selection, then submit.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.Date = strings.TrimSpace(req.Date)
	req.PatientName = strings.TrimSpace(req.PatientName)
	if req.ResourceID == "" || req.Date == "" || req.PatientName == "" {
		http.Error(w, "resource_id, date and patient_name are required", http.StatusBadRequest)
		return
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes < 0 {
		http.Error(w, "duration_minutes must not be negative", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	session := booking.NewSession(h.fetcher, h.store)
	if err := session.Choose(req.ResourceID, req.Date); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := session.Fetch(ctx, true); err != nil {
		h.writeBookingError(w, req.ResourceID, err)
		return
	}

	if strings.TrimSpace(req.EndTime) != "" {
		end, err := parseTime(req.EndTime)
		if err != nil {
			http.Error(w, "invalid end_time", http.StatusBadRequest)
			return
		}
		err = session.SelectRange(availability.TimeRange{Start: start, End: end}, strings.TrimSpace(req.ServiceUnitID))
		if err != nil {
			h.writeBookingError(w, req.ResourceID, err)
			return
		}
	} else if _, err := session.SelectSlot(strings.TrimSpace(req.Section), start); err != nil {
		h.writeBookingError(w, req.ResourceID, err)
		return
	}

	appt, err := session.Submit(ctx, booking.Request{
		PatientName:     req.PatientName,
		AppointmentType: strings.TrimSpace(req.AppointmentType),
		Notes:           strings.TrimSpace(req.Notes),
		Teleconference:  req.Teleconference,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.writeBookingError(w, req.ResourceID, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentItem(appt))
}

// Update serves PATCH /api/v1/bookings/{id} with a single field change.
func (h *BookingHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "appointment id required", http.StatusBadRequest)
		return
	}

	var req updateBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Field = strings.TrimSpace(req.Field)
	if req.Field == "" || req.Version <= 0 {
		http.Error(w, "field and version are required", http.StatusBadRequest)
		return
	}

	appt, err := h.updater.UpdateField(r.Context(), id, req.Field, req.Value, req.Version)
	if err != nil {
		h.writeBookingError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *BookingHandler) writeBookingError(w http.ResponseWriter, resourceID string, err error) {
	var selErr *availability.SelectionError
	switch {
	case errors.As(err, &selErr):
		writeJSON(w, http.StatusUnprocessableEntity, selectionRejection{
			Code:     "resource_unavailable",
			Resource: selErr.ResourceID,
			Reason:   selErr.Block.Reason,
			Note:     selErr.Block.Note,
			Message:  selErr.Error(),
		})
	case errors.Is(err, storage.ErrStaleDocument):
		writeError(w, http.StatusConflict, "stale_document", storage.ErrStaleDocument.Error())
	case storage.IsConflict(err):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusUnprocessableEntity, "slot_not_found", err.Error())
	case errors.Is(err, storage.ErrUnknownField), errors.Is(err, booking.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, "invalid_field", err.Error())
	case storage.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	default:
		h.logger.Error("booking request failed", "resource_id", resourceID, "err", err)
		writeError(w, http.StatusBadGateway, "booking_failed", "booking could not be completed")
	}
}

func toAppointmentItem(a model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID:   a.ID,
		ResourceID:      a.ResourceID,
		ServiceUnitID:   a.ServiceUnitID,
		PatientName:     a.PatientName,
		StartTime:       formatTime(a.StartTime),
		EndTime:         formatTime(a.EndTime()),
		DurationMinutes: a.DurationMinutes,
		Status:          a.Status,
		AppointmentType: a.AppointmentType,
		Notes:           a.Notes,
		Teleconference:  a.Teleconference,
		Version:         a.Version,
		UpdatedAt:       formatTime(a.UpdatedAt),
	}
}
