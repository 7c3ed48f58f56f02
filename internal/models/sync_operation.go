package models

import (
	"time"

	"github.com/google/uuid"
)

// Operation types
const (
	OperationTypeUpload   = "upload"
	OperationTypeDelete   = "delete"
	OperationTypeUpdate   = "update"
	OperationTypeFullSync = "full_sync"
	OperationTypeWebhook  = "webhook"
)

// Operation status values
const (
	OperationStatusPending    = "pending"
	OperationStatusInProgress = "in_progress"
	OperationStatusCompleted  = "completed"
	OperationStatusFailed     = "failed"
	OperationStatusCancelled  = "cancelled"
)

// Operation sources
const (
	OperationSourceManual    = "manual"
	OperationSourceWebhook   = "webhook"
	OperationSourceAPI       = "api"
	OperationSourceScheduled = "scheduled"
)

// SyncOperation is one tracked unit of work: a full reconciliation pass, a
// single-asset sync, or a cleanup batch.
type SyncOperation struct {
	ID                  string     `json:"id"`
	OperationType       string     `json:"operationType"`
	Status              string     `json:"status"`
	Progress            int        `json:"progress"`
	TotalItems          int        `json:"totalItems"`
	ProcessedItems      int        `json:"processedItems"`
	FailedItems         int        `json:"failedItems"`
	StartTime           time.Time  `json:"startTime"`
	EndTime             *time.Time `json:"endTime,omitempty"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
	Source              string     `json:"source"`
	OperationData       string     `json:"operationData,omitempty"`
	ErrorDetails        *string    `json:"errorDetails,omitempty"`
	CancelRequested     bool       `json:"cancelRequested"`
}

// NewSyncOperation creates an in-progress operation starting now.
func NewSyncOperation(operationType, source string, totalItems int) *SyncOperation {
	return &SyncOperation{
		ID:            uuid.New().String(),
		OperationType: operationType,
		Status:        OperationStatusInProgress,
		Source:        source,
		TotalItems:    totalItems,
		StartTime:     time.Now().UTC(),
	}
}

// UpdateProgress applies a progress callback. Progress never decreases while
// the operation is in flight; the estimated completion is recomputed from the
// elapsed time whenever progress is strictly between 0 and 100.
func (o *SyncOperation) UpdateProgress(progress, processed, failed int, now time.Time) {
	if progress > 100 {
		progress = 100
	}
	if progress > o.Progress {
		o.Progress = progress
	}
	if processed > o.ProcessedItems {
		o.ProcessedItems = processed
	}
	if failed > o.FailedItems {
		o.FailedItems = failed
	}

	if o.Progress > 0 && o.Progress < 100 {
		elapsed := now.Sub(o.StartTime)
		remaining := time.Duration(float64(elapsed) / float64(o.Progress) * float64(100-o.Progress))
		eta := now.Add(remaining)
		o.EstimatedCompletion = &eta
	} else {
		o.EstimatedCompletion = nil
	}
}

// Complete moves the operation to a terminal status and stamps the end time.
// A completed operation always reads 100% regardless of the last callback.
func (o *SyncOperation) Complete(finalStatus string, errorDetails *string, now time.Time) {
	o.Status = finalStatus
	o.EndTime = &now
	o.EstimatedCompletion = nil
	o.ErrorDetails = errorDetails
	if finalStatus == OperationStatusCompleted {
		o.Progress = 100
	}
}

// IsTerminal reports whether the operation has finished.
func (o *SyncOperation) IsTerminal() bool {
	switch o.Status {
	case OperationStatusCompleted, OperationStatusFailed, OperationStatusCancelled:
		return true
	}
	return false
}

// OperationUpdate is the lightweight event broadcast to status observers on
// every operation mutation.
type OperationUpdate struct {
	OperationID   string    `json:"operationId"`
	OperationType string    `json:"operationType"`
	Status        string    `json:"status"`
	Progress      int       `json:"progress"`
	Timestamp     time.Time `json:"timestamp"`
}

// Update builds the observer event for the operation's current state.
func (o *SyncOperation) Update(now time.Time) OperationUpdate {
	return OperationUpdate{
		OperationID:   o.ID,
		OperationType: o.OperationType,
		Status:        o.Status,
		Progress:      o.Progress,
		Timestamp:     now,
	}
}
