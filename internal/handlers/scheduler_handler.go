package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/services"
)

// SchedulerHandler handles scheduler API endpoints (admin only)
type SchedulerHandler struct {
	scheduler *services.SchedulerService
}

// NewSchedulerHandler creates a new SchedulerHandler
func NewSchedulerHandler(scheduler *services.SchedulerService) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: scheduler,
	}
}

// GetStatus returns the current scheduler state
// @Summary Get scheduler status
// @Description Get the scheduler run state, intervals, and last/next run times
// @Tags admin,scheduler
// @Produce json
// @Success 200 {object} models.SchedulerResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/cloudinary/scheduler [get]
func (h *SchedulerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.SchedulerResponse{
		Success: true,
		Stats:   h.scheduler.GetStats(),
	})
}

// Control starts or stops the scheduler
// @Summary Control the scheduler
// @Description Apply a scheduler action: start, stop, or status
// @Tags admin,scheduler
// @Accept json
// @Produce json
// @Param request body models.SchedulerActionRequest true "Scheduler action"
// @Success 200 {object} models.SchedulerResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/cloudinary/scheduler [post]
func (h *SchedulerHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req models.SchedulerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "start":
		h.scheduler.Start()
	case "stop":
		h.scheduler.Stop()
	case "status", "":
	default:
		http.Error(w, "Unknown action: "+req.Action, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.SchedulerResponse{
		Success: true,
		Stats:   h.scheduler.GetStats(),
	})
}
