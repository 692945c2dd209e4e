package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/settings"
)

type SettingsService interface {
	Get(ctx context.Context, ownerID string) (settings.ViewSettings, error)
	Put(ctx context.Context, ownerID string, vs settings.ViewSettings) (bool, error)
}

type SettingsHandler struct {
	settings SettingsService
	logger   *slog.Logger
}

func NewSettingsHandler(svc SettingsService, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: svc, logger: logger}
}

// Serve handles GET and PUT /api/v1/settings for the caller in X-User-Id.
func (h *SettingsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if ownerID == "" {
		http.Error(w, "X-User-Id header required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		vs, err := h.settings.Get(r.Context(), ownerID)
		if err != nil {
			h.logger.Error("load view settings failed", "owner_id", ownerID, "err", err)
			http.Error(w, "failed to load settings", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, vs)
	case http.MethodPut:
		var vs settings.ViewSettings
		if err := decodeJSON(r, &vs); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if _, err := h.settings.Put(r.Context(), ownerID, vs); err != nil {
			if errors.Is(err, settings.ErrInvalid) {
				writeError(w, http.StatusBadRequest, "invalid_settings", err.Error())
				return
			}
			h.logger.Error("save view settings failed", "owner_id", ownerID, "err", err)
			http.Error(w, "failed to save settings", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, vs)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
