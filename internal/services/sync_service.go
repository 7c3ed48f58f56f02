package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mediamirror/server/internal/lock"
	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/observability"
	"github.com/mediamirror/server/internal/repository"
)

// AssetStore is the surface of the Cloudinary client the sync engine uses.
type AssetStore interface {
	ListPage(ctx context.Context, cursor string, pageSize int) ([]*models.AssetDescriptor, string, error)
	GetAsset(ctx context.Context, publicID string) (*models.AssetDescriptor, error)
	DeleteAsset(ctx context.Context, publicID string) error
	UploadAsset(ctx context.Context, content io.Reader, filename string) (*models.AssetDescriptor, error)
}

// SyncError is a typed error for sync failures
type SyncError struct {
	Message string
}

func (e SyncError) Error() string {
	return e.Message
}

var (
	// ErrSyncAlreadyRunning is returned when a full sync is requested while
	// another one holds the run lock.
	ErrSyncAlreadyRunning = SyncError{"a full sync is already running"}
)

const (
	syncLockKey = "mediamirror:full_sync"
	syncLockTTL = 30 * time.Minute
)

// SyncService is the reconciliation engine. It drives full store-to-mirror
// syncs, read-only verification, explicit fixes, and single-asset refreshes.
type SyncService struct {
	store     AssetStore
	assetRepo repository.AssetRepo
	cleanup   *CleanupService
	tracker   *OperationTracker
	locks     lock.Provider
	hub       *StatusHub
	logger    *observability.Logger
	metrics   *observability.SyncMetrics
	batchSize int
	pageSize  int
}

// NewSyncService creates a new sync service
func NewSyncService(
	store AssetStore,
	assetRepo repository.AssetRepo,
	cleanup *CleanupService,
	tracker *OperationTracker,
	locks lock.Provider,
	hub *StatusHub,
	metrics *observability.SyncMetrics,
	batchSize, pageSize int,
) *SyncService {
	if batchSize <= 0 {
		batchSize = 100
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &SyncService{
		store:     store,
		assetRepo: assetRepo,
		cleanup:   cleanup,
		tracker:   tracker,
		locks:     locks,
		hub:       hub,
		logger:    observability.GetLogger().WithField("component", "sync_service"),
		metrics:   metrics,
		batchSize: batchSize,
		pageSize:  pageSize,
	}
}

// listAllAssets pages through the full store listing.
func (s *SyncService) listAllAssets(ctx context.Context) ([]*models.AssetDescriptor, error) {
	var all []*models.AssetDescriptor
	cursor := ""
	for {
		page, next, err := s.store.ListPage(ctx, cursor, s.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// listMirror pages through all live mirror rows.
func (s *SyncService) listMirror(ctx context.Context) ([]*models.AssetRecord, error) {
	var all []*models.AssetRecord
	skip := 0
	for {
		page, err := s.assetRepo.ListLive(ctx, skip, s.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < s.pageSize {
			return all, nil
		}
		skip += len(page)
	}
}

// FullSync reconciles the whole mirror against the store listing. Store rows
// are inserted or refreshed; mirror rows the store no longer has are marked
// conflict and left for an explicit fix. At most one full sync runs at a
// time, across replicas when Redis backs the lock.
func (s *SyncService) FullSync(ctx context.Context, source string, batchSize int) (*models.SyncData, error) {
	release, acquired, err := s.locks.TryAcquire(ctx, syncLockKey, syncLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !acquired {
		s.logger.Info("Full sync already running, skipping")
		return nil, ErrSyncAlreadyRunning
	}
	defer release()

	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	ctx, span := observability.StartServiceSpan(ctx, "sync_service", "full_sync")
	defer span.End()

	// The operation row exists before any store traffic, so a listing failure
	// still leaves a failed run on record.
	op, err := s.tracker.StartOperation(ctx, models.OperationTypeFullSync, source, 0)
	if err != nil {
		return nil, err
	}

	descs, err := s.listAllAssets(ctx)
	if err != nil {
		observability.RecordError(span, err)
		msg := fmt.Sprintf("failed to list store assets: %v", err)
		if cerr := s.tracker.CompleteOperation(ctx, op, models.OperationStatusFailed, &msg); cerr != nil {
			s.logger.Errorf("Failed to finalize operation %s: %v", op.ID, cerr)
		}
		if s.metrics != nil {
			s.metrics.RecordSyncRun(ctx, source, 0, 0, false)
		}
		return nil, fmt.Errorf("failed to list store assets: %w", err)
	}

	op.TotalItems = len(descs)
	if err := s.tracker.UpdateProgress(ctx, op, 0, 0, 0); err != nil {
		s.logger.Warnf("Failed to record listing size: %v", err)
	}

	data, runErr := s.runFullSync(ctx, op, descs, batchSize)

	finalStatus := models.OperationStatusCompleted
	var details *string
	switch {
	case runErr == context.Canceled:
		finalStatus = models.OperationStatusCancelled
	case runErr != nil:
		finalStatus = models.OperationStatusFailed
		msg := runErr.Error()
		details = &msg
		observability.RecordError(span, runErr)
	}

	if err := s.tracker.CompleteOperation(ctx, op, finalStatus, details); err != nil {
		s.logger.Errorf("Failed to finalize operation %s: %v", op.ID, err)
	}

	if s.metrics != nil {
		s.metrics.RecordSyncRun(ctx, source, op.ProcessedItems, op.FailedItems, runErr == nil)
	}
	if s.hub != nil && runErr == nil {
		s.hub.BroadcastToTopic(TopicSync, WSMessage{
			Type: WSTypeSyncComplete,
			Payload: SyncProgressPayload{
				OperationID:    op.ID,
				Running:        false,
				Progress:       100,
				ProcessedItems: op.ProcessedItems,
				FailedItems:    op.FailedItems,
				TotalItems:     op.TotalItems,
			},
		})
	}

	if runErr != nil {
		return nil, runErr
	}
	data.OperationID = op.ID
	return data, nil
}

func (s *SyncService) runFullSync(ctx context.Context, op *models.SyncOperation, descs []*models.AssetDescriptor, batchSize int) (*models.SyncData, error) {
	now := time.Now().UTC()
	data := &models.SyncData{}
	seen := make(map[string]bool, len(descs))
	processed := 0

	var pendingInserts []*models.AssetRecord
	flush := func() error {
		if len(pendingInserts) == 0 {
			return nil
		}
		if err := s.assetRepo.AddBatch(ctx, pendingInserts); err != nil {
			return fmt.Errorf("failed to insert asset batch: %w", err)
		}
		if s.metrics != nil {
			s.metrics.AdjustMirrorSize(ctx, int64(len(pendingInserts)))
		}
		pendingInserts = pendingInserts[:0]
		return nil
	}

	for i, desc := range descs {
		seen[desc.PublicID] = true

		existing, err := s.assetRepo.GetByPublicID(ctx, desc.PublicID)
		if err != nil {
			return nil, err
		}

		switch {
		case existing == nil:
			rec, err := models.NewAssetRecord(desc)
			if err != nil {
				return nil, err
			}
			pendingInserts = append(pendingInserts, rec)
			data.SyncedItems++
		case !existing.Matches(desc):
			existing.ApplyDescriptor(desc, now)
			if err := s.assetRepo.Update(ctx, existing); err != nil {
				return nil, err
			}
			data.UpdatedItems++
		case existing.SyncStatus != models.SyncStatusSynced:
			if _, err := s.assetRepo.SetSyncStatus(ctx, desc.PublicID, models.SyncStatusSynced); err != nil {
				return nil, err
			}
		}

		processed++

		// Batch boundary: flush inserts, report progress, honor cancellation
		if processed%batchSize == 0 || i == len(descs)-1 {
			if err := flush(); err != nil {
				return nil, err
			}

			progress := 100
			if len(descs) > 0 {
				progress = processed * 100 / len(descs)
			}
			if err := s.tracker.UpdateProgress(ctx, op, progress, processed, 0); err != nil {
				s.logger.Warnf("Failed to report sync progress: %v", err)
			}

			cancelled, err := s.tracker.IsCancelRequested(ctx, op.ID)
			if err != nil {
				s.logger.Warnf("Failed to check cancellation: %v", err)
			}
			if cancelled || ctx.Err() != nil {
				return nil, context.Canceled
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	// Mirror rows the store listing did not contain are conflicts. The engine
	// never deletes them on its own.
	mirror, err := s.listMirror(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range mirror {
		if seen[rec.PublicID] || rec.SyncStatus == models.SyncStatusConflict {
			continue
		}
		if _, err := s.assetRepo.SetSyncStatus(ctx, rec.PublicID, models.SyncStatusConflict); err != nil {
			return nil, err
		}
		data.Conflicts++
		if s.metrics != nil {
			s.metrics.RecordConflict(ctx, models.ConflictKindMissingInCloudinary)
		}
	}

	// Conflicts are mirror-only rows, not failed store items; they live in the
	// operation data so processed + failed never exceeds the listing size.
	if data.Conflicts > 0 {
		op.OperationData = fmt.Sprintf(`{"conflicts":%d}`, data.Conflicts)
		if err := s.tracker.UpdateProgress(ctx, op, 100, processed, 0); err != nil {
			s.logger.Warnf("Failed to report sync progress: %v", err)
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"operation_id": op.ID,
		"synced":       data.SyncedItems,
		"updated":      data.UpdatedItems,
		"conflicts":    data.Conflicts,
	}).Info("Full sync finished")

	return data, nil
}

// VerifySync compares the store listing against the mirror without changing
// anything. Success means no conflicts; the missing and mismatched lists are
// informational.
func (s *SyncService) VerifySync(ctx context.Context) (*models.VerificationResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync_service", "verify")
	defer span.End()

	descs, err := s.listAllAssets(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("failed to list store assets: %w", err)
	}
	byID := make(map[string]*models.AssetDescriptor, len(descs))
	for _, d := range descs {
		byID[d.PublicID] = d
	}

	mirror, err := s.listMirror(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.VerificationResult{
		CloudinaryCount:     len(descs),
		DatabaseCount:       len(mirror),
		MissingInDatabase:   []string{},
		MissingInCloudinary: []string{},
		Mismatched:          []string{},
		SyncConflicts:       []models.SyncConflict{},
	}

	inMirror := make(map[string]bool, len(mirror))
	for _, rec := range mirror {
		inMirror[rec.PublicID] = true

		desc, ok := byID[rec.PublicID]
		if !ok {
			result.MissingInCloudinary = append(result.MissingInCloudinary, rec.PublicID)
			result.SyncConflicts = append(result.SyncConflicts, models.SyncConflict{
				PublicID: rec.PublicID,
				Kind:     models.ConflictKindMissingInCloudinary,
				Detail:   "mirror row has no matching store asset",
			})
			continue
		}
		if !rec.Matches(desc) {
			result.Mismatched = append(result.Mismatched, rec.PublicID)
		}
	}

	for _, d := range descs {
		if !inMirror[d.PublicID] {
			result.MissingInDatabase = append(result.MissingInDatabase, d.PublicID)
		}
	}

	result.Success = len(result.SyncConflicts) == 0
	return result, nil
}

// ApplyFixes resolves verification findings that the request explicitly asks
// to fix. Assets missing in the database are inserted from the store; mirror
// rows whose store asset is gone are soft-deleted with a cleanup item to
// confirm the absence and remove the row.
func (s *SyncService) ApplyFixes(ctx context.Context, result *models.VerificationResult, req models.VerifyFixRequest) *models.FixResults {
	fixMissing := req.AutoFix || req.FixMissingInDatabase
	fixConflicts := req.AutoFix || req.FixConflicts

	fixes := &models.FixResults{
		InsertedInDatabase: []string{},
		SoftDeleted:        []string{},
		CleanupsEnqueued:   []string{},
	}

	if fixMissing {
		for _, publicID := range result.MissingInDatabase {
			desc, err := s.store.GetAsset(ctx, publicID)
			if err != nil {
				fixes.Errors = append(fixes.Errors, fmt.Sprintf("%s: %v", publicID, err))
				continue
			}
			if desc == nil {
				// Listed earlier but gone now; nothing to insert
				continue
			}
			rec, err := models.NewAssetRecord(desc)
			if err != nil {
				fixes.Errors = append(fixes.Errors, fmt.Sprintf("%s: %v", publicID, err))
				continue
			}
			if err := s.assetRepo.Add(ctx, rec); err != nil {
				fixes.Errors = append(fixes.Errors, fmt.Sprintf("%s: %v", publicID, err))
				continue
			}
			fixes.InsertedInDatabase = append(fixes.InsertedInDatabase, publicID)
		}
	}

	if fixConflicts {
		now := time.Now().UTC()
		for _, conflict := range result.SyncConflicts {
			if conflict.Kind != models.ConflictKindMissingInCloudinary {
				continue
			}
			ok, err := s.assetRepo.SoftDelete(ctx, conflict.PublicID, now)
			if err != nil {
				fixes.Errors = append(fixes.Errors, fmt.Sprintf("%s: %v", conflict.PublicID, err))
				continue
			}
			if ok {
				fixes.SoftDeleted = append(fixes.SoftDeleted, conflict.PublicID)
			}
			if _, err := s.cleanup.Enqueue(ctx, conflict.PublicID, models.CleanupReasonConflictFix); err != nil {
				fixes.Errors = append(fixes.Errors, fmt.Sprintf("%s: %v", conflict.PublicID, err))
				continue
			}
			fixes.CleanupsEnqueued = append(fixes.CleanupsEnqueued, conflict.PublicID)
		}
	}

	return fixes
}

// SyncSingleAsset refreshes one mirror row from the store. A row whose store
// asset no longer exists is marked conflict; a store asset with no row gets
// one inserted.
func (s *SyncService) SyncSingleAsset(ctx context.Context, publicID string) (*models.AssetRecord, error) {
	desc, err := s.store.GetAsset(ctx, publicID)
	if err != nil {
		return nil, err
	}

	existing, err := s.assetRepo.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	switch {
	case desc == nil && existing == nil:
		return nil, models.ErrAssetNotFound
	case desc == nil:
		if _, err := s.assetRepo.SetSyncStatus(ctx, publicID, models.SyncStatusConflict); err != nil {
			return nil, err
		}
		existing.SyncStatus = models.SyncStatusConflict
		return existing, nil
	case existing == nil:
		rec, err := models.NewAssetRecord(desc)
		if err != nil {
			return nil, err
		}
		if err := s.assetRepo.Add(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	default:
		existing.ApplyDescriptor(desc, time.Now().UTC())
		if err := s.assetRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
}

// Upload sends file content to the store and mirrors the resulting asset.
func (s *SyncService) Upload(ctx context.Context, content io.Reader, filename string) (*models.AssetRecord, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync_service", "upload")
	defer span.End()

	desc, err := s.store.UploadAsset(ctx, content, filename)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	existing, err := s.assetRepo.GetByPublicID(ctx, desc.PublicID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.ApplyDescriptor(desc, time.Now().UTC())
		if err := s.assetRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	rec, err := models.NewAssetRecord(desc)
	if err != nil {
		return nil, err
	}
	rec.OriginalFilename = filename
	if err := s.assetRepo.Add(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
