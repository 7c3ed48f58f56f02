package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/services"
)

// OperationsHandler handles sync operation and snapshot endpoints (admin only)
type OperationsHandler struct {
	tracker *services.OperationTracker
}

// NewOperationsHandler creates a new OperationsHandler
func NewOperationsHandler(tracker *services.OperationTracker) *OperationsHandler {
	return &OperationsHandler{
		tracker: tracker,
	}
}

// ListOperations returns recent operations, newest first
// @Summary List operations
// @Description List recent sync and cleanup operations
// @Tags admin,operations
// @Produce json
// @Param limit query int false "Maximum operations to return (default 50)"
// @Success 200 {object} models.OperationListResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/operations [get]
func (h *OperationsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ops, err := h.tracker.ListOperations(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to list operations: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.OperationListResponse{
		Operations: ops,
		TotalCount: len(ops),
	})
}

// GetOperation returns a single operation by ID
// @Summary Get an operation
// @Description Get one operation with its live progress and ETA
// @Tags admin,operations
// @Produce json
// @Param id path string true "Operation ID"
// @Success 200 {object} models.SyncOperation
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/operations/{id} [get]
func (h *OperationsHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	op, err := h.tracker.GetOperation(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to load operation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if op == nil {
		http.Error(w, "Operation not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(op)
}

// CancelOperation requests cancellation of a running operation
// @Summary Cancel an operation
// @Description Flag a running operation for cancellation; the job stops at its next batch boundary
// @Tags admin,operations
// @Produce json
// @Param id path string true "Operation ID"
// @Success 202 {object} models.SyncOperation
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "Operation is not active"
// @Security ApiKeyAuth
// @Router /api/admin/operations/{id}/cancel [post]
func (h *OperationsHandler) CancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	op, err := h.tracker.GetOperation(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to load operation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if op == nil {
		http.Error(w, "Operation not found", http.StatusNotFound)
		return
	}

	flagged, err := h.tracker.RequestCancel(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to request cancellation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !flagged {
		http.Error(w, "Operation is not active", http.StatusConflict)
		return
	}
	op.CancelRequested = true

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(op)
}

// ListSnapshots returns recent status snapshots, newest first
// @Summary List status snapshots
// @Description List recent mirror status snapshots
// @Tags admin,status
// @Produce json
// @Param limit query int false "Maximum snapshots to return (default 50)"
// @Success 200 {object} models.SnapshotListResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/status/snapshots [get]
func (h *OperationsHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	snaps, err := h.tracker.ListSnapshots(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to list snapshots: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.SnapshotListResponse{
		Snapshots: snaps,
	})
}

// CreateSnapshot takes a snapshot of the current mirror status
// @Summary Create a status snapshot
// @Description Roll current mirror, queue, and operation counts into a snapshot
// @Tags admin,status
// @Produce json
// @Success 201 {object} models.StatusSnapshot
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/status/snapshots [post]
func (h *OperationsHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.tracker.CreateSnapshot(r.Context(), models.SnapshotTypeManual)
	if err != nil {
		http.Error(w, "Failed to create snapshot: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(snap)
}
