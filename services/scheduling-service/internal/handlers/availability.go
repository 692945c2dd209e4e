package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/storage"
)

type AvailabilityReader interface {
	Get(ctx context.Context, resourceID, date string) (availability.DaySchedule, error)
	Refresh(ctx context.Context, resourceID, date string) (availability.DaySchedule, error)
	UnavailableRanges(ctx context.Context, resourceID, date string) ([]availability.UnavailableRange, error)
}

type SelectionValidator interface {
	Validate(ctx context.Context, resourceID, date string, sel availability.TimeRange) error
}

type AvailabilityHandler struct {
	cache     AvailabilityReader
	validator SelectionValidator
	logger    *slog.Logger
	now       func() time.Time
}

func NewAvailabilityHandler(cache AvailabilityReader, validator SelectionValidator, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		cache:     cache,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

type slotItem struct {
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	DurationMinutes   int    `json:"duration_minutes"`
	ServiceUnitID     string `json:"service_unit_id,omitempty"`
	AllowOverlap      bool   `json:"allow_overlap"`
	Teleconference    bool   `json:"teleconference"`
	AllDay            bool   `json:"all_day,omitempty"`
	Disabled          bool   `json:"disabled"`
	DisabledReason    string `json:"disabled_reason,omitempty"`
	Tooltip           string `json:"tooltip,omitempty"`
	CapacityLabel     string `json:"capacity_label,omitempty"`
	RemainingCapacity *int   `json:"remaining_capacity,omitempty"`
}

type sectionItem struct {
	Name          string     `json:"name"`
	ServiceUnitID string     `json:"service_unit_id,omitempty"`
	Slots         []slotItem `json:"slots"`
}

type rangeItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
	Note      string `json:"note,omitempty"`
}

type availabilityResponse struct {
	ResourceID   string        `json:"resource_id"`
	ResourceName string        `json:"resource_name,omitempty"`
	Date         string        `json:"date"`
	Timezone     string        `json:"timezone"`
	Sections     []sectionItem `json:"sections"`
	Unavailable  []rangeItem   `json:"unavailable"`
	Message      string        `json:"message,omitempty"`
	Note         string        `json:"note,omitempty"`
	FetchedAt    string        `json:"fetched_at,omitempty"`
}

type refreshRequest struct {
	ResourceID string `json:"resource_id"`
	Date       string `json:"date"`
}

type selectionRequest struct {
	ResourceID string `json:"resource_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

type selectionRejection struct {
	Code     string `json:"code"`
	Resource string `json:"resource"`
	Reason   string `json:"reason,omitempty"`
	Note     string `json:"note,omitempty"`
	Message  string `json:"message"`
}

// Get serves GET /api/v1/availability?resource_id=&date=[&refresh=true].
func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if resourceID == "" || date == "" {
		http.Error(w, "resource_id and date are required", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse(availability.DateLayout, date); err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	load := h.cache.Get
	if r.URL.Query().Get("refresh") == "true" {
		load = h.cache.Refresh
	}
	h.serveSnapshot(w, r, resourceID, date, load)
}

// Refresh serves POST /api/v1/availability/refresh; the cached entry is replaced.
func (h *AvailabilityHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.Date = strings.TrimSpace(req.Date)
	if req.ResourceID == "" || req.Date == "" {
		http.Error(w, "resource_id and date are required", http.StatusBadRequest)
		return
	}
	h.serveSnapshot(w, r, req.ResourceID, req.Date, h.cache.Refresh)
}

func (h *AvailabilityHandler) serveSnapshot(w http.ResponseWriter, r *http.Request, resourceID, date string, load func(context.Context, string, string) (availability.DaySchedule, error)) {
	snap, err := load(r.Context(), resourceID, date)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "resource not found", http.StatusNotFound)
			return
		}
		h.logger.Error("availability load failed", "resource_id", resourceID, "date", date, "err", err)
		writeError(w, http.StatusBadGateway, "availability_unavailable", "availability could not be loaded")
		return
	}

	sections, err := snap.Slots(h.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := availabilityResponse{
		ResourceID:   snap.ResourceID,
		ResourceName: snap.ResourceName,
		Date:         snap.Date,
		Timezone:     snap.Timezone,
		Sections:     make([]sectionItem, 0, len(sections)),
		Unavailable:  rangeItems(snap.Blocked),
		Note:         snap.Note,
		FetchedAt:    formatTime(snap.FetchedAt),
	}
	for _, sec := range sections {
		item := sectionItem{Name: sec.Name, ServiceUnitID: sec.ServiceUnitID, Slots: make([]slotItem, 0, len(sec.Slots))}
		for _, s := range sec.Slots {
			item.Slots = append(item.Slots, toSlotItem(s))
		}
		resp.Sections = append(resp.Sections, item)
	}
	if snap.Empty() {
		resp.Message = snap.UnavailableMessage()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Unavailability serves GET /api/v1/unavailability?resource_id=&date= with the merged ranges.
func (h *AvailabilityHandler) Unavailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if resourceID == "" || date == "" {
		http.Error(w, "resource_id and date are required", http.StatusBadRequest)
		return
	}

	ranges, err := h.cache.UnavailableRanges(r.Context(), resourceID, date)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "resource not found", http.StatusNotFound)
			return
		}
		h.logger.Error("unavailability load failed", "resource_id", resourceID, "date", date, "err", err)
		writeError(w, http.StatusBadGateway, "availability_unavailable", "availability could not be loaded")
		return
	}
	writeJSON(w, http.StatusOK, rangeItems(ranges))
}

// ValidateSelection serves POST /api/v1/selection/validate for a dragged calendar range.
func (h *AvailabilityHandler) ValidateSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req selectionRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	if req.ResourceID == "" {
		http.Error(w, "resource_id is required", http.StatusBadRequest)
		return
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := parseTime(req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}

	// Dates are resolved in the resource's timezone; an explicit date is checked as well.
	err = h.validator.Validate(r.Context(), req.ResourceID, strings.TrimSpace(req.Date), availability.TimeRange{Start: start, End: end})
	var selErr *availability.SelectionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
	case errors.As(err, &selErr):
		writeJSON(w, http.StatusUnprocessableEntity, selectionRejection{
			Code:     "resource_unavailable",
			Resource: selErr.ResourceID,
			Reason:   selErr.Block.Reason,
			Note:     selErr.Block.Note,
			Message:  selErr.Error(),
		})
	case storage.IsNotFound(err):
		http.Error(w, "resource not found", http.StatusNotFound)
	default:
		h.logger.Error("selection validation failed", "resource_id", req.ResourceID, "err", err)
		writeError(w, http.StatusBadGateway, "availability_unavailable", "availability could not be loaded")
	}
}

func toSlotItem(s availability.Slot) slotItem {
	return slotItem{
		StartTime:         formatTime(s.Template.Range.Start),
		EndTime:           formatTime(s.Template.Range.End),
		DurationMinutes:   availability.DurationMinutes(s.Template.Range),
		ServiceUnitID:     s.Template.ServiceUnitID,
		AllowOverlap:      s.Template.AllowOverlap,
		Teleconference:    s.Template.SupportsTeleconference,
		AllDay:            s.Template.AllDay(),
		Disabled:          s.Disabled,
		DisabledReason:    string(s.DisabledReason),
		Tooltip:           s.Tooltip,
		CapacityLabel:     s.CapacityLabel(),
		RemainingCapacity: s.RemainingCapacity,
	}
}

func rangeItems(ranges []availability.UnavailableRange) []rangeItem {
	out := make([]rangeItem, 0, len(ranges))
	for _, b := range ranges {
		out = append(out, rangeItem{
			StartTime: formatTime(b.Range.Start),
			EndTime:   formatTime(b.Range.End),
			Reason:    b.Reason,
			Note:      b.Note,
		})
	}
	return out
}
