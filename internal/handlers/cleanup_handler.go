package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/services"
)

// CleanupHandler handles cleanup queue API endpoints (admin only)
type CleanupHandler struct {
	cleanupService *services.CleanupService
}

// NewCleanupHandler creates a new CleanupHandler
func NewCleanupHandler(cleanupService *services.CleanupService) *CleanupHandler {
	return &CleanupHandler{
		cleanupService: cleanupService,
	}
}

// GetStats returns cleanup queue statistics
// @Summary Get cleanup queue stats
// @Description Get queue depth, due counts, and recent dead letters
// @Tags admin,cleanup
// @Produce json
// @Success 200 {object} models.CleanupStatsResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/cloudinary/cleanup [get]
func (h *CleanupHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cleanupService.Stats(r.Context())
	if err != nil {
		http.Error(w, "Failed to read cleanup stats: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.CleanupStatsResponse{
		Success: true,
		Stats:   stats,
	})
}

// RunCleanup drains due cleanup items, or retries a single item by ID
// @Summary Run cleanup
// @Description Drain due cleanup items, or process one item when specific_id is set
// @Tags admin,cleanup
// @Accept json
// @Produce json
// @Param request body models.CleanupRequest false "Cleanup options"
// @Success 200 {object} models.CleanupResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "Cleanup already running"
// @Security ApiKeyAuth
// @Router /api/admin/cloudinary/cleanup [post]
func (h *CleanupHandler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	var req models.CleanupRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if req.SpecificID != "" {
		item, err := h.cleanupService.ProcessOne(r.Context(), req.SpecificID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		summary := &models.CleanupSummary{Processed: 1}
		if item.Status == models.CleanupStatusDone {
			summary.Succeeded = 1
		} else {
			summary.Failed = 1
			errMsg := ""
			if item.LastError != nil {
				errMsg = *item.LastError
			}
			summary.Errors = []models.CleanupItemError{{PublicID: item.PublicID, Error: errMsg}}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.CleanupResponse{
			Success:   true,
			Processed: summary,
		})
		return
	}

	summary, err := h.cleanupService.ProcessQueue(r.Context(), req.Limit)
	if err != nil {
		if errors.Is(err, services.ErrCleanupAlreadyRunning) {
			http.Error(w, "A cleanup run is already in progress", http.StatusConflict)
			return
		}
		http.Error(w, "Cleanup failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.CleanupResponse{
		Success:   true,
		Processed: summary,
	})
}
