package services

import (
	"context"
	"sync"
	"time"

	"github.com/mediamirror/server/internal/config"
	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/observability"
)

// SchedulerService runs the periodic full sync and cleanup drains. The run
// locks inside the sync and cleanup services keep overlapping ticks (and
// other replicas) from doing duplicate work; the scheduler just counts the
// ticks it had to skip.
type SchedulerService struct {
	syncService    *SyncService
	cleanupService *CleanupService
	tracker        *OperationTracker
	cfg            config.Sync
	logger         *observability.Logger

	mu             sync.RWMutex
	running        bool
	stopChan       chan struct{}
	syncTicker     *time.Ticker
	cleanupTicker  *time.Ticker
	lastSyncRun    *time.Time
	lastCleanupRun *time.Time
	nextSyncRun    *time.Time
	skippedTicks   int
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(
	syncService *SyncService,
	cleanupService *CleanupService,
	tracker *OperationTracker,
	cfg config.Sync,
) *SchedulerService {
	return &SchedulerService{
		syncService:    syncService,
		cleanupService: cleanupService,
		tracker:        tracker,
		cfg:            cfg,
		logger:         observability.GetLogger().WithField("component", "scheduler"),
	}
}

// Start begins the scheduling loop. Calling Start on a running scheduler is
// a no-op.
func (s *SchedulerService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.syncTicker = time.NewTicker(s.cfg.Interval())
	s.cleanupTicker = time.NewTicker(s.cfg.CleanupInterval())
	next := time.Now().Add(s.cfg.Interval())
	s.nextSyncRun = &next
	s.mu.Unlock()

	s.logger.Infof("Scheduler started (sync every %s, cleanup every %s)",
		s.cfg.Interval(), s.cfg.CleanupInterval())

	go s.loop()
}

// Stop halts the scheduling loop. In-flight runs finish on their own.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	s.syncTicker.Stop()
	s.cleanupTicker.Stop()
	s.nextSyncRun = nil

	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether the scheduling loop is active.
func (s *SchedulerService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStats returns the scheduler state machine for the admin surface.
func (s *SchedulerService) GetStats() *models.SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &models.SchedulerStats{
		IsRunning:       s.running,
		SyncInterval:    s.cfg.Interval().String(),
		CleanupInterval: s.cfg.CleanupInterval().String(),
		LastSyncRun:     s.lastSyncRun,
		LastCleanupRun:  s.lastCleanupRun,
		NextSyncRun:     s.nextSyncRun,
		SkippedTicks:    s.skippedTicks,
	}
}

func (s *SchedulerService) loop() {
	for {
		s.mu.RLock()
		stopChan := s.stopChan
		syncC := s.syncTicker.C
		cleanupC := s.cleanupTicker.C
		s.mu.RUnlock()

		select {
		case <-syncC:
			s.mu.Lock()
			next := time.Now().Add(s.cfg.Interval())
			s.nextSyncRun = &next
			s.mu.Unlock()
			s.runScheduledSync()

		case <-cleanupC:
			s.runScheduledCleanup()

		case <-stopChan:
			return
		}
	}
}

func (s *SchedulerService) runScheduledSync() {
	ctx := context.Background()
	started := time.Now().UTC()

	_, err := s.syncService.FullSync(ctx, models.OperationSourceScheduled, 0)
	switch err {
	case nil:
		s.mu.Lock()
		s.lastSyncRun = &started
		s.mu.Unlock()
		s.afterSync(ctx)
	case ErrSyncAlreadyRunning:
		s.mu.Lock()
		s.skippedTicks++
		s.mu.Unlock()
	default:
		s.logger.Errorf("Scheduled sync failed: %v", err)
	}
}

// afterSync takes a status snapshot and trims old rows once a scheduled sync
// lands.
func (s *SchedulerService) afterSync(ctx context.Context) {
	if _, err := s.tracker.CreateSnapshot(ctx, models.SnapshotTypeScheduled); err != nil {
		s.logger.Errorf("Failed to create status snapshot: %v", err)
	}

	retention := time.Duration(s.cfg.OperationRetentionDays) * 24 * time.Hour
	if retention > 0 {
		if _, err := s.tracker.PruneOperations(ctx, retention); err != nil {
			s.logger.Errorf("Failed to prune operations: %v", err)
		}
	}
	if _, err := s.tracker.PruneSnapshots(ctx, s.cfg.SnapshotKeep); err != nil {
		s.logger.Errorf("Failed to prune snapshots: %v", err)
	}
}

func (s *SchedulerService) runScheduledCleanup() {
	ctx := context.Background()
	started := time.Now().UTC()

	_, err := s.cleanupService.ProcessQueue(ctx, s.cfg.CleanupBatchSize)
	switch err {
	case nil:
		s.mu.Lock()
		s.lastCleanupRun = &started
		s.mu.Unlock()
	case ErrCleanupAlreadyRunning:
		s.mu.Lock()
		s.skippedTicks++
		s.mu.Unlock()
	default:
		s.logger.Errorf("Scheduled cleanup failed: %v", err)
	}
}
