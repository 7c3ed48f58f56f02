package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mediamirror/server/internal/lock"
	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/observability"
	"github.com/mediamirror/server/internal/repository"
)

var (
	// ErrCleanupAlreadyRunning is returned when a queue drain is requested
	// while another one holds the run lock.
	ErrCleanupAlreadyRunning = SyncError{"a cleanup run is already in progress"}
)

const (
	cleanupLockKey = "mediamirror:cleanup_run"
	cleanupLockTTL = 10 * time.Minute
)

// CleanupService drains the cleanup queue: every item is one obligation to
// delete an asset from the store. Deletions retry with exponential backoff
// and dead-letter after the attempt budget is spent.
type CleanupService struct {
	store     AssetStore
	queueRepo repository.CleanupQueueRepo
	assetRepo repository.AssetRepo
	locks     lock.Provider
	hub       *StatusHub
	logger    *observability.Logger
	metrics   *observability.SyncMetrics

	// retryable classifies store errors; permanent failures dead-letter
	// without consuming the remaining attempts
	retryable func(error) bool

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	batchSize   int
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(
	store AssetStore,
	queueRepo repository.CleanupQueueRepo,
	assetRepo repository.AssetRepo,
	locks lock.Provider,
	hub *StatusHub,
	metrics *observability.SyncMetrics,
	retryable func(error) bool,
	maxAttempts int,
	backoffBase, backoffCap time.Duration,
	batchSize int,
) *CleanupService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	if backoffCap <= 0 {
		backoffCap = 30 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	return &CleanupService{
		store:       store,
		queueRepo:   queueRepo,
		assetRepo:   assetRepo,
		locks:       locks,
		hub:         hub,
		logger:      observability.GetLogger().WithField("component", "cleanup_service"),
		metrics:     metrics,
		retryable:   retryable,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		batchSize:   batchSize,
	}
}

// Enqueue adds a cleanup obligation for a public ID. A public ID with an open
// item is not enqueued twice; the existing item is returned instead.
func (s *CleanupService) Enqueue(ctx context.Context, publicID, reason string) (*models.CleanupItem, error) {
	has, err := s.queueRepo.HasPendingForPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if has {
		return nil, nil
	}

	item, err := models.NewCleanupItem(publicID, reason)
	if err != nil {
		return nil, err
	}
	if err := s.queueRepo.Add(ctx, item); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"public_id": publicID,
		"reason":    reason,
	}).Info("Cleanup item enqueued")
	return item, nil
}

// ProcessQueue drains up to limit due items. Only one drain runs at a time;
// items claimed here are invisible to concurrent workers.
func (s *CleanupService) ProcessQueue(ctx context.Context, limit int) (*models.CleanupSummary, error) {
	release, acquired, err := s.locks.TryAcquire(ctx, cleanupLockKey, cleanupLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire cleanup lock: %w", err)
	}
	if !acquired {
		s.logger.Info("Cleanup run already in progress, skipping")
		return nil, ErrCleanupAlreadyRunning
	}
	defer release()

	ctx, span := observability.StartServiceSpan(ctx, "cleanup_service", "process_queue")
	defer span.End()

	if limit <= 0 {
		limit = s.batchSize
	}
	now := time.Now().UTC()

	items, err := s.queueRepo.ClaimDue(ctx, limit, now)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("failed to claim cleanup items: %w", err)
	}

	summary := &models.CleanupSummary{}
	for _, item := range items {
		succeeded := s.processItem(ctx, item)
		summary.Processed++
		if succeeded {
			summary.Succeeded++
		} else {
			summary.Failed++
			errMsg := ""
			if item.LastError != nil {
				errMsg = *item.LastError
			}
			summary.Errors = append(summary.Errors, models.CleanupItemError{
				PublicID: item.PublicID,
				Error:    errMsg,
			})
		}
	}

	remaining, err := s.queueRepo.CountDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Warnf("Failed to count remaining cleanup items: %v", err)
	}
	summary.Remaining = remaining

	if s.hub != nil && summary.Processed > 0 {
		s.hub.BroadcastToTopic(TopicCleanup, WSMessage{
			Type: WSTypeCleanupComplete,
			Payload: CleanupProgressPayload{
				Processed: summary.Processed,
				Succeeded: summary.Succeeded,
				Failed:    summary.Failed,
				Remaining: summary.Remaining,
			},
		})
	}

	return summary, nil
}

// ProcessOne claims and processes a single item regardless of its due time.
func (s *CleanupService) ProcessOne(ctx context.Context, id string) (*models.CleanupItem, error) {
	item, err := s.queueRepo.ClaimByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("cleanup item %s not found or not pending", id)
	}
	s.processItem(ctx, item)
	return item, nil
}

// processItem performs the store deletion for one claimed item and records
// the outcome. An asset the store no longer has counts as success.
func (s *CleanupService) processItem(ctx context.Context, item *models.CleanupItem) bool {
	now := time.Now().UTC()

	err := s.store.DeleteAsset(ctx, item.PublicID)
	if err == nil {
		item.MarkDone(now)
		if updateErr := s.queueRepo.Update(ctx, item); updateErr != nil {
			s.logger.Errorf("Failed to mark cleanup item done: %v", updateErr)
		}
		// The store confirmed the asset is gone; remove the mirror row for good
		if _, delErr := s.assetRepo.HardDelete(ctx, item.PublicID); delErr != nil {
			s.logger.Errorf("Failed to remove mirror row for %s: %v", item.PublicID, delErr)
		}
		if s.metrics != nil {
			s.metrics.RecordCleanupAttempt(ctx, true, false)
			s.metrics.AdjustMirrorSize(ctx, -1)
		}
		return true
	}

	maxAttempts := s.maxAttempts
	if s.retryable != nil && !s.retryable(err) {
		// Permanent rejection: no point burning the remaining attempts
		maxAttempts = item.Attempts + 1
	}

	dead := item.RecordFailure(err.Error(), maxAttempts, s.backoffBase, s.backoffCap, now)
	if updateErr := s.queueRepo.Update(ctx, item); updateErr != nil {
		s.logger.Errorf("Failed to record cleanup failure: %v", updateErr)
	}

	if dead {
		s.logger.WithFields(map[string]interface{}{
			"public_id": item.PublicID,
			"attempts":  item.Attempts,
		}).Error("Cleanup item dead-lettered")
	} else {
		s.logger.WithFields(map[string]interface{}{
			"public_id":    item.PublicID,
			"attempts":     item.Attempts,
			"next_attempt": item.NextAttemptAt.Format(time.RFC3339),
		}).Warn("Cleanup attempt failed, retry scheduled")
	}

	if s.metrics != nil {
		s.metrics.RecordCleanupAttempt(ctx, false, dead)
	}
	return false
}

// Stats summarizes the queue for the admin surface.
func (s *CleanupService) Stats(ctx context.Context) (*models.CleanupStats, error) {
	counts, err := s.queueRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	due, err := s.queueRepo.CountDue(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	oldest, err := s.queueRepo.OldestPendingAt(ctx)
	if err != nil {
		return nil, err
	}

	deadLetters, err := s.queueRepo.ListFailed(ctx, 20)
	if err != nil {
		return nil, err
	}

	return &models.CleanupStats{
		PendingCount:    counts[models.CleanupStatusPending],
		ProcessingCount: counts[models.CleanupStatusProcessing],
		DoneCount:       counts[models.CleanupStatusDone],
		FailedCount:     counts[models.CleanupStatusFailed],
		DueNowCount:     due,
		OldestPendingAt: oldest,
		DeadLetters:     deadLetters,
	}, nil
}

// DeleteMedia removes assets store-first. On store success the mirror row is
// hard-deleted; on store failure the row is soft-deleted and a cleanup item
// takes over the retries.
func (s *CleanupService) DeleteMedia(ctx context.Context, publicIDs []string) (*models.MediaDeleteResult, error) {
	result := &models.MediaDeleteResult{
		Deleted: []string{},
		Failed:  []models.MediaDeleteError{},
	}
	now := time.Now().UTC()

	for _, publicID := range publicIDs {
		err := s.store.DeleteAsset(ctx, publicID)
		if err == nil {
			if _, delErr := s.assetRepo.HardDelete(ctx, publicID); delErr != nil {
				s.logger.Errorf("Failed to remove mirror row for %s: %v", publicID, delErr)
			}
			if s.metrics != nil {
				s.metrics.AdjustMirrorSize(ctx, -1)
			}
			result.Deleted = append(result.Deleted, publicID)
			continue
		}

		// The store still holds the asset; hide the row now and let the queue
		// finish the deletion
		if _, sdErr := s.assetRepo.SoftDelete(ctx, publicID, now); sdErr != nil {
			s.logger.Errorf("Failed to soft-delete mirror row for %s: %v", publicID, sdErr)
		}
		if _, qErr := s.Enqueue(ctx, publicID, models.CleanupReasonUserDelete); qErr != nil {
			s.logger.Errorf("Failed to enqueue cleanup for %s: %v", publicID, qErr)
		}

		result.Failed = append(result.Failed, models.MediaDeleteError{
			PublicID: publicID,
			Error:    err.Error(),
		})
	}

	return result, nil
}
