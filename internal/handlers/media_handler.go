package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/services"
)

// MediaHandler handles store media endpoints (admin only)
type MediaHandler struct {
	syncService    *services.SyncService
	cleanupService *services.CleanupService
}

// NewMediaHandler creates a new MediaHandler
func NewMediaHandler(syncService *services.SyncService, cleanupService *services.CleanupService) *MediaHandler {
	return &MediaHandler{
		syncService:    syncService,
		cleanupService: cleanupService,
	}
}

// DeleteMedia removes assets store-first
// @Summary Delete media
// @Description Delete assets from the store; rows whose store deletion fails are hidden and queued for retry
// @Tags admin,media
// @Accept json
// @Produce json
// @Param request body models.MediaDeleteRequest false "Public IDs to delete"
// @Param public_ids query string false "Comma-separated public IDs (alternative to body)"
// @Success 200 {object} models.MediaDeleteResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/cloudinary/media [delete]
func (h *MediaHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	var req models.MediaDeleteRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	// Query form: ?public_ids=a,b
	if len(req.PublicIDs) == 0 {
		if ids := r.URL.Query().Get("public_ids"); ids != "" {
			for _, id := range strings.Split(ids, ",") {
				if id = strings.TrimSpace(id); id != "" {
					req.PublicIDs = append(req.PublicIDs, id)
				}
			}
		}
	}
	if len(req.PublicIDs) == 0 {
		http.Error(w, "At least one public ID is required", http.StatusBadRequest)
		return
	}

	result, err := h.cleanupService.DeleteMedia(r.Context(), req.PublicIDs)
	if err != nil {
		http.Error(w, "Failed to delete media: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Upload sends a file to the store and mirrors it
// @Summary Upload media
// @Description Upload a file to the store and insert the resulting asset into the mirror
// @Tags admin,media
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File to upload"
// @Success 200 {object} models.UploadResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/cloudinary/upload [post]
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Parse multipart form (max 50MB)
	if err := r.ParseMultipartForm(50 << 20); err != nil {
		http.Error(w, "Request must be multipart/form-data", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided or file is empty", http.StatusBadRequest)
		return
	}
	defer file.Close()

	rec, err := h.syncService.Upload(r.Context(), file, header.Filename)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(models.UploadResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.UploadResponse{
		Success: true,
		Asset:   rec,
	})
}
