package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/storage"
)

type ResourceLister interface {
	ListResources(ctx context.Context, kind string, limit int) ([]model.Resource, error)
}

type BlockWriter interface {
	CreateBlock(ctx context.Context, block model.UnavailabilityBlock) (model.UnavailabilityBlock, error)
	DeleteBlock(ctx context.Context, blockID string) (model.UnavailabilityBlock, error)
}

type ResourceHandler struct {
	resources ResourceLister
	blocks    BlockWriter
	logger    *slog.Logger
}

func NewResourceHandler(resources ResourceLister, blocks BlockWriter, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{resources: resources, blocks: blocks, logger: logger}
}

type resourceItem struct {
	ResourceID string `json:"resource_id"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	Timezone   string `json:"timezone"`
}

type createBlockRequest struct {
	ResourceID string `json:"resource_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Reason     string `json:"reason"`
	Note       string `json:"note"`
}

type blockItem struct {
	BlockID    string `json:"block_id"`
	ResourceID string `json:"resource_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Reason     string `json:"reason,omitempty"`
	Note       string `json:"note,omitempty"`
}

// List serves GET /api/v1/resources?kind=practitioner|room.
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = model.KindPractitioner
	}
	if kind != model.KindPractitioner && kind != model.KindRoom {
		http.Error(w, "kind must be practitioner or room", http.StatusBadRequest)
		return
	}

	limit := 200
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	list, err := h.resources.ListResources(r.Context(), kind, limit)
	if err != nil {
		h.logger.Error("list resources failed", "kind", kind, "err", err)
		http.Error(w, "failed to list resources", http.StatusInternalServerError)
		return
	}
	items := make([]resourceItem, 0, len(list))
	for _, res := range list {
		items = append(items, resourceItem{
			ResourceID: res.ID,
			Kind:       res.Kind,
			Name:       res.Name,
			Color:      res.Color,
			Timezone:   res.Timezone,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateBlock serves POST /api/v1/unavailability.
func (h *ResourceHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createBlockRequest
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

	block, err := h.blocks.CreateBlock(r.Context(), model.UnavailabilityBlock{
		ResourceID: req.ResourceID,
		StartTime:  start,
		EndTime:    end,
		Reason:     strings.TrimSpace(req.Reason),
		Note:       strings.TrimSpace(req.Note),
	})
	if err != nil {
		h.writeBlockError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockItem(block))
}

// DeleteBlock serves DELETE /api/v1/unavailability/{id}.
func (h *ResourceHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "block id required", http.StatusBadRequest)
		return
	}
	block, err := h.blocks.DeleteBlock(r.Context(), id)
	if err != nil {
		h.writeBlockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBlockItem(block))
}

func (h *ResourceHandler) writeBlockError(w http.ResponseWriter, err error) {
	switch {
	case storage.IsNotFound(err):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrInvalidValue):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("unavailability write failed", "err", err)
		http.Error(w, "failed to write unavailability", http.StatusInternalServerError)
	}
}

func toBlockItem(b model.UnavailabilityBlock) blockItem {
	return blockItem{
		BlockID:    b.ID,
		ResourceID: b.ResourceID,
		StartTime:  b.StartTime.UTC().Format(time.RFC3339),
		EndTime:    b.EndTime.UTC().Format(time.RFC3339),
		Reason:     b.Reason,
		Note:       b.Note,
	}
}
