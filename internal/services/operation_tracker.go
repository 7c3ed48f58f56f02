package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/observability"
	"github.com/mediamirror/server/internal/repository"
)

// OperationTracker owns the sync operation log and status snapshots. Every
// mutation is persisted and then broadcast to hub subscribers, so observers
// see the same state the database holds.
type OperationTracker struct {
	operationRepo repository.SyncOperationRepo
	snapshotRepo  repository.SnapshotRepo
	assetRepo     repository.AssetRepo
	queueRepo     repository.CleanupQueueRepo
	hub           *StatusHub
	logger        *observability.Logger
}

// NewOperationTracker creates a new operation tracker
func NewOperationTracker(
	operationRepo repository.SyncOperationRepo,
	snapshotRepo repository.SnapshotRepo,
	assetRepo repository.AssetRepo,
	queueRepo repository.CleanupQueueRepo,
	hub *StatusHub,
) *OperationTracker {
	return &OperationTracker{
		operationRepo: operationRepo,
		snapshotRepo:  snapshotRepo,
		assetRepo:     assetRepo,
		queueRepo:     queueRepo,
		hub:           hub,
		logger:        observability.GetLogger().WithField("component", "operation_tracker"),
	}
}

// StartOperation creates and persists a new in-progress operation.
func (t *OperationTracker) StartOperation(ctx context.Context, operationType, source string, totalItems int) (*models.SyncOperation, error) {
	op := models.NewSyncOperation(operationType, source, totalItems)
	if err := t.operationRepo.Add(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to start operation: %w", err)
	}

	t.logger.WithFields(map[string]interface{}{
		"operation_id": op.ID,
		"type":         operationType,
		"source":       source,
	}).Info("Operation started")

	t.notify(op)
	return op, nil
}

// UpdateProgress applies a progress callback, persists it, and notifies
// observers. Progress never moves backwards.
func (t *OperationTracker) UpdateProgress(ctx context.Context, op *models.SyncOperation, progress, processed, failed int) error {
	op.UpdateProgress(progress, processed, failed, time.Now().UTC())
	if err := t.operationRepo.Update(ctx, op); err != nil {
		return fmt.Errorf("failed to update operation progress: %w", err)
	}

	t.notify(op)
	return nil
}

// CompleteOperation moves the operation to a terminal status.
func (t *OperationTracker) CompleteOperation(ctx context.Context, op *models.SyncOperation, finalStatus string, errorDetails *string) error {
	op.Complete(finalStatus, errorDetails, time.Now().UTC())
	if err := t.operationRepo.Update(ctx, op); err != nil {
		return fmt.Errorf("failed to complete operation: %w", err)
	}

	t.logger.WithFields(map[string]interface{}{
		"operation_id": op.ID,
		"status":       finalStatus,
		"processed":    op.ProcessedItems,
		"failed":       op.FailedItems,
	}).Info("Operation finished")

	t.notify(op)
	return nil
}

// RequestCancel flags a running operation for cancellation. The running job
// observes the flag at its next batch boundary.
func (t *OperationTracker) RequestCancel(ctx context.Context, id string) (bool, error) {
	return t.operationRepo.RequestCancel(ctx, id)
}

// IsCancelRequested reads the cancel flag from the log. Jobs poll this
// between batches.
func (t *OperationTracker) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	op, err := t.operationRepo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if op == nil {
		return false, nil
	}
	return op.CancelRequested, nil
}

// GetOperation returns one operation, or nil.
func (t *OperationTracker) GetOperation(ctx context.Context, id string) (*models.SyncOperation, error) {
	return t.operationRepo.GetByID(ctx, id)
}

// ListOperations returns recent operations, newest first.
func (t *OperationTracker) ListOperations(ctx context.Context, limit int) ([]*models.SyncOperation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return t.operationRepo.ListRecent(ctx, limit)
}

// PruneOperations removes terminal operations older than the retention
// window.
func (t *OperationTracker) PruneOperations(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	pruned, err := t.operationRepo.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		t.logger.Infof("Pruned %d finished operations older than %s", pruned, retention)
	}
	return pruned, nil
}

// CreateSnapshot rolls current mirror, queue, and operation counts into one
// snapshot row and broadcasts it.
func (t *OperationTracker) CreateSnapshot(ctx context.Context, snapshotType string) (*models.StatusSnapshot, error) {
	counts, err := t.assetRepo.CountBySyncStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count assets: %w", err)
	}

	queueCounts, err := t.queueRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count cleanup queue: %w", err)
	}
	pendingCleanups := queueCounts[models.CleanupStatusPending] + queueCounts[models.CleanupStatusProcessing]

	activeOps, err := t.operationRepo.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active operations: %w", err)
	}

	snap := models.NewStatusSnapshot(snapshotType, counts, pendingCleanups, activeOps)
	if err := t.snapshotRepo.Add(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	if t.hub != nil {
		t.hub.BroadcastToTopic(TopicAdmin, WSMessage{
			Type:    WSTypeSnapshotCreated,
			Payload: snap,
		})
	}
	return snap, nil
}

// ListSnapshots returns recent snapshots, newest first.
func (t *OperationTracker) ListSnapshots(ctx context.Context, limit int) ([]*models.StatusSnapshot, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return t.snapshotRepo.ListRecent(ctx, limit)
}

// PruneSnapshots keeps the newest keep snapshot rows.
func (t *OperationTracker) PruneSnapshots(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	return t.snapshotRepo.PruneKeepLatest(ctx, keep)
}

func (t *OperationTracker) notify(op *models.SyncOperation) {
	if t.hub == nil {
		return
	}
	t.hub.BroadcastToTopic(TopicSync, WSMessage{
		Type:    WSTypeOperationUpdate,
		Payload: op.Update(time.Now().UTC()),
	})
}
