package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/services"
)

// SyncHandler handles sync and verification API endpoints (admin only)
type SyncHandler struct {
	syncService *services.SyncService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(syncService *services.SyncService) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
	}
}

// TriggerSync runs a full sync, or refreshes a single asset when the request
// names one
// @Summary Trigger a sync
// @Description Run a full store-to-mirror sync, or refresh one asset when single_asset is set
// @Tags admin,sync
// @Accept json
// @Produce json
// @Param request body models.SyncRequest false "Sync options"
// @Success 200 {object} models.SyncResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "Sync already running"
// @Security ApiKeyAuth
// @Router /api/admin/cloudinary/sync [post]
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if req.SingleAsset != "" {
		rec, err := h.syncService.SyncSingleAsset(r.Context(), req.SingleAsset)
		if err != nil {
			if errors.Is(err, models.ErrAssetNotFound) {
				http.Error(w, "Asset not found in store or mirror", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to sync asset: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.SyncResponse{
			Success: true,
			Data: &models.SyncData{
				SyncedItems: 1,
				Conflicts:   boolToCount(rec.SyncStatus == models.SyncStatusConflict),
			},
		})
		return
	}

	data, err := h.syncService.FullSync(r.Context(), models.OperationSourceManual, req.BatchSize)
	if err != nil {
		if errors.Is(err, services.ErrSyncAlreadyRunning) {
			http.Error(w, "A full sync is already running", http.StatusConflict)
			return
		}
		http.Error(w, "Sync failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.SyncResponse{
		Success: true,
		Data:    data,
	})
}

// VerifySync reports store/mirror disagreements without changing anything
// @Summary Verify sync state
// @Description Compare the store listing against the mirror and report disagreements
// @Tags admin,sync
// @Produce json
// @Success 200 {object} models.VerifyResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/sync/verify [get]
func (h *SyncHandler) VerifySync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncService.VerifySync(r.Context())
	if err != nil {
		http.Error(w, "Verification failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.VerifyResponse{
		Verification: result,
		Summary:      verifySummary(result),
	})
}

// VerifyAndFix verifies and then applies only the fixes the request asks for
// @Summary Verify and fix
// @Description Verify the mirror and apply the explicitly requested fixes
// @Tags admin,sync
// @Accept json
// @Produce json
// @Param request body models.VerifyFixRequest false "Fix flags"
// @Success 200 {object} models.VerifyResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/sync/verify [post]
func (h *SyncHandler) VerifyAndFix(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyFixRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	result, err := h.syncService.VerifySync(r.Context())
	if err != nil {
		http.Error(w, "Verification failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := models.VerifyResponse{
		Verification: result,
		Summary:      verifySummary(result),
	}
	if req.AutoFix || req.FixMissingInDatabase || req.FixConflicts {
		resp.FixResults = h.syncService.ApplyFixes(r.Context(), result, req)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func verifySummary(result *models.VerificationResult) string {
	if result.Success {
		return "Store and mirror agree"
	}
	return "Conflicts found; see syncConflicts"
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
