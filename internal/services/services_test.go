package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediamirror/server/internal/config"
	"github.com/mediamirror/server/internal/lock"
	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/repository"
)

// fakeStore is an in-memory AssetStore for tests.
type fakeStore struct {
	mu         sync.Mutex
	assets     map[string]*models.AssetDescriptor
	deleteErrs map[string]error
	deleted    []string
	listErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assets:     make(map[string]*models.AssetDescriptor),
		deleteErrs: make(map[string]error),
	}
}

func (f *fakeStore) put(publicID string, version int64, signature string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[publicID] = &models.AssetDescriptor{
		PublicID:  publicID,
		Version:   version,
		Signature: signature,
		Format:    "jpg",
		Bytes:     1024,
		CreatedAt: time.Now().UTC(),
	}
}

func (f *fakeStore) ListPage(_ context.Context, cursor string, pageSize int) ([]*models.AssetDescriptor, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, "", f.listErr
	}

	ids := make([]string, 0, len(f.assets))
	for id := range f.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}

	var page []*models.AssetDescriptor
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	for _, id := range ids[start:end] {
		page = append(page, f.assets[id])
	}

	next := ""
	if end < len(ids) {
		next = fmt.Sprintf("%d", end)
	}
	return page, next, nil
}

func (f *fakeStore) GetAsset(_ context.Context, publicID string) (*models.AssetDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assets[publicID], nil
}

func (f *fakeStore) DeleteAsset(_ context.Context, publicID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.deleteErrs[publicID]; ok {
		return err
	}
	// Absent assets count as deleted
	delete(f.assets, publicID)
	f.deleted = append(f.deleted, publicID)
	return nil
}

func (f *fakeStore) UploadAsset(_ context.Context, content io.Reader, filename string) (*models.AssetDescriptor, error) {
	io.Copy(io.Discard, content)
	desc := &models.AssetDescriptor{
		PublicID:         "registry/" + filename,
		Version:          time.Now().Unix(),
		Signature:        "uploaded",
		Format:           "jpg",
		OriginalFilename: filename,
		CreatedAt:        time.Now().UTC(),
	}
	f.mu.Lock()
	f.assets[desc.PublicID] = desc
	f.mu.Unlock()
	return desc, nil
}

type permanentError struct{ msg string }

func (e permanentError) Error() string { return e.msg }

func notPermanent(err error) bool {
	var pe permanentError
	return !errors.As(err, &pe)
}

type testEnv struct {
	store     *fakeStore
	assetRepo *repository.AssetRepository
	queueRepo *repository.CleanupQueueRepository
	tracker   *OperationTracker
	cleanup   *CleanupService
	sync      *SyncService
	locks     *lock.MutexProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := newFakeStore()
	assetRepo := repository.NewAssetRepository(db)
	queueRepo := repository.NewCleanupQueueRepository(db)
	opRepo := repository.NewSyncOperationRepository(db)
	snapRepo := repository.NewSnapshotRepository(db)
	locks := lock.NewMutexProvider()

	tracker := NewOperationTracker(opRepo, snapRepo, assetRepo, queueRepo, nil)
	cleanup := NewCleanupService(store, queueRepo, assetRepo, locks, nil, nil,
		notPermanent, 5, 30*time.Second, 30*time.Minute, 25)
	syncSvc := NewSyncService(store, assetRepo, cleanup, tracker, locks, nil, nil, 100, 2)

	return &testEnv{
		store:     store,
		assetRepo: assetRepo,
		queueRepo: queueRepo,
		tracker:   tracker,
		cleanup:   cleanup,
		sync:      syncSvc,
		locks:     locks,
	}
}

func (e *testEnv) seedMirror(t *testing.T, publicID string, version int64, signature string) *models.AssetRecord {
	t.Helper()
	rec, err := models.NewAssetRecord(&models.AssetDescriptor{
		PublicID:  publicID,
		Version:   version,
		Signature: signature,
		Format:    "jpg",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, e.assetRepo.Add(context.Background(), rec))
	return rec
}

func TestSyncService_FullSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Store: one new asset, one changed, one unchanged. Mirror: the changed
	// and unchanged rows plus one the store no longer has.
	env.store.put("a/new", 100, "sig-new")
	env.store.put("b/changed", 200, "sig-v2")
	env.store.put("c/same", 300, "sig-same")
	env.seedMirror(t, "b/changed", 150, "sig-v1")
	env.seedMirror(t, "c/same", 300, "sig-same")
	env.seedMirror(t, "d/gone", 400, "sig-gone")

	data, err := env.sync.FullSync(ctx, models.OperationSourceManual, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, data.SyncedItems)
	assert.Equal(t, 1, data.UpdatedItems)
	assert.Equal(t, 1, data.Conflicts)
	assert.NotEmpty(t, data.OperationID)

	t.Run("new asset was mirrored", func(t *testing.T) {
		rec, err := env.assetRepo.GetByPublicID(ctx, "a/new")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, models.SyncStatusSynced, rec.SyncStatus)
	})

	t.Run("changed asset was refreshed", func(t *testing.T) {
		rec, err := env.assetRepo.GetByPublicID(ctx, "b/changed")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(200), rec.Version)
		assert.Equal(t, "sig-v2", rec.Signature)
	})

	t.Run("vanished asset became a conflict, not a deletion", func(t *testing.T) {
		rec, err := env.assetRepo.GetByPublicID(ctx, "d/gone")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, models.SyncStatusConflict, rec.SyncStatus)
	})

	t.Run("operation completed at 100 percent", func(t *testing.T) {
		op, err := env.tracker.GetOperation(ctx, data.OperationID)
		require.NoError(t, err)
		require.NotNil(t, op)
		assert.Equal(t, models.OperationStatusCompleted, op.Status)
		assert.Equal(t, 100, op.Progress)
		require.NotNil(t, op.EndTime)
	})

	t.Run("an immediate second run changes nothing", func(t *testing.T) {
		again, err := env.sync.FullSync(ctx, models.OperationSourceManual, 0)
		require.NoError(t, err)
		assert.Zero(t, again.SyncedItems)
		assert.Zero(t, again.UpdatedItems)
		assert.Zero(t, again.Conflicts)
	})
}

func TestSyncService_FullSync_ConflictAccounting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One store asset, two mirror rows the store no longer has
	env.store.put("a/kept", 1, "s1")
	env.seedMirror(t, "a/kept", 1, "s1")
	env.seedMirror(t, "b/gone", 2, "s2")
	env.seedMirror(t, "c/gone", 3, "s3")

	data, err := env.sync.FullSync(ctx, models.OperationSourceManual, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, data.Conflicts)

	op, err := env.tracker.GetOperation(ctx, data.OperationID)
	require.NoError(t, err)
	require.NotNil(t, op)

	// Mirror-only conflicts are not failed store items
	assert.Equal(t, 1, op.TotalItems)
	assert.Zero(t, op.FailedItems)
	assert.LessOrEqual(t, op.ProcessedItems+op.FailedItems, op.TotalItems)
	assert.Contains(t, op.OperationData, `"conflicts":2`)
}

func TestSyncService_FullSync_ListFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.listErr = errors.New("store unreachable")

	_, err := env.sync.FullSync(ctx, models.OperationSourceManual, 0)
	require.Error(t, err)

	ops, err := env.tracker.ListOperations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	op := ops[0]
	assert.Equal(t, models.OperationStatusFailed, op.Status)
	require.NotNil(t, op.ErrorDetails)
	assert.Contains(t, *op.ErrorDetails, "store unreachable")
	require.NotNil(t, op.EndTime)
}

func TestSyncService_FullSync_SingleFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release, ok, err := env.locks.TryAcquire(ctx, "mediamirror:full_sync", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = env.sync.FullSync(ctx, models.OperationSourceManual, 0)
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
}

func TestSyncService_VerifySync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.put("a/only-store", 1, "s1")
	env.store.put("b/both", 2, "s2")
	env.store.put("c/mismatch", 3, "s3-new")
	env.seedMirror(t, "b/both", 2, "s2")
	env.seedMirror(t, "c/mismatch", 3, "s3-old")
	env.seedMirror(t, "d/only-mirror", 4, "s4")

	result, err := env.sync.VerifySync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, result.CloudinaryCount)
	assert.Equal(t, 3, result.DatabaseCount)
	assert.Equal(t, []string{"a/only-store"}, result.MissingInDatabase)
	assert.Equal(t, []string{"d/only-mirror"}, result.MissingInCloudinary)
	assert.Equal(t, []string{"c/mismatch"}, result.Mismatched)

	t.Run("only mirror-side absence is a conflict", func(t *testing.T) {
		require.Len(t, result.SyncConflicts, 1)
		assert.Equal(t, "d/only-mirror", result.SyncConflicts[0].PublicID)
		assert.Equal(t, models.ConflictKindMissingInCloudinary, result.SyncConflicts[0].Kind)
		assert.False(t, result.Success)
	})

	t.Run("verify changed nothing", func(t *testing.T) {
		rec, err := env.assetRepo.GetByPublicID(ctx, "d/only-mirror")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, models.SyncStatusSynced, rec.SyncStatus)

		rec, err = env.assetRepo.GetByPublicID(ctx, "a/only-store")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestSyncService_ApplyFixes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.put("a/only-store", 1, "s1")
	env.seedMirror(t, "d/only-mirror", 4, "s4")

	result, err := env.sync.VerifySync(ctx)
	require.NoError(t, err)

	t.Run("no flags means no changes", func(t *testing.T) {
		fixes := env.sync.ApplyFixes(ctx, result, models.VerifyFixRequest{})
		assert.Empty(t, fixes.InsertedInDatabase)
		assert.Empty(t, fixes.SoftDeleted)
		assert.Empty(t, fixes.CleanupsEnqueued)
	})

	t.Run("auto fix resolves both directions", func(t *testing.T) {
		fixes := env.sync.ApplyFixes(ctx, result, models.VerifyFixRequest{AutoFix: true})

		assert.Equal(t, []string{"a/only-store"}, fixes.InsertedInDatabase)
		assert.Equal(t, []string{"d/only-mirror"}, fixes.SoftDeleted)
		assert.Equal(t, []string{"d/only-mirror"}, fixes.CleanupsEnqueued)
		assert.Empty(t, fixes.Errors)

		rec, err := env.assetRepo.GetByPublicID(ctx, "a/only-store")
		require.NoError(t, err)
		assert.NotNil(t, rec)

		rec, err = env.assetRepo.GetByPublicID(ctx, "d/only-mirror")
		require.NoError(t, err)
		assert.Nil(t, rec)

		has, err := env.queueRepo.HasPendingForPublicID(ctx, "d/only-mirror")
		require.NoError(t, err)
		assert.True(t, has)
	})
}

func TestSyncService_SyncSingleAsset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("unknown asset returns not found", func(t *testing.T) {
		_, err := env.sync.SyncSingleAsset(ctx, "nope")
		assert.ErrorIs(t, err, models.ErrAssetNotFound)
	})

	t.Run("store asset gets mirrored", func(t *testing.T) {
		env.store.put("a/one", 10, "s10")
		rec, err := env.sync.SyncSingleAsset(ctx, "a/one")
		require.NoError(t, err)
		assert.Equal(t, int64(10), rec.Version)
	})

	t.Run("vanished asset marks the row conflict", func(t *testing.T) {
		env.seedMirror(t, "b/gone", 1, "s1")
		rec, err := env.sync.SyncSingleAsset(ctx, "b/gone")
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusConflict, rec.SyncStatus)
	})
}

func TestCleanupService_ProcessQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("successful deletion removes the mirror row", func(t *testing.T) {
		env.store.put("a/doomed", 1, "s1")
		env.seedMirror(t, "a/doomed", 1, "s1")
		_, err := env.assetRepo.SoftDelete(ctx, "a/doomed", time.Now().UTC())
		require.NoError(t, err)

		item, err := env.cleanup.Enqueue(ctx, "a/doomed", models.CleanupReasonUserDelete)
		require.NoError(t, err)
		require.NotNil(t, item)

		summary, err := env.cleanup.ProcessQueue(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Processed)
		assert.Equal(t, 1, summary.Succeeded)

		got, err := env.queueRepo.GetByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CleanupStatusDone, got.Status)

		ok, err := env.assetRepo.HardDelete(ctx, "a/doomed")
		require.NoError(t, err)
		assert.False(t, ok, "row should already be gone")
	})

	t.Run("transient failure schedules a retry", func(t *testing.T) {
		env.store.deleteErrs["b/flaky"] = errors.New("rate limited")
		item, err := env.cleanup.Enqueue(ctx, "b/flaky", models.CleanupReasonUserDelete)
		require.NoError(t, err)

		summary, err := env.cleanup.ProcessQueue(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed)

		got, err := env.queueRepo.GetByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CleanupStatusPending, got.Status)
		assert.Equal(t, 1, got.Attempts)
		assert.True(t, got.NextAttemptAt.After(time.Now().UTC()))

		// Not due yet, so a second drain finds nothing
		summary, err = env.cleanup.ProcessQueue(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, summary.Processed)
	})

	t.Run("permanent failure dead-letters immediately", func(t *testing.T) {
		env.store.deleteErrs["c/forbidden"] = permanentError{"invalid public id"}
		item, err := env.cleanup.Enqueue(ctx, "c/forbidden", models.CleanupReasonUserDelete)
		require.NoError(t, err)

		_, err = env.cleanup.ProcessQueue(ctx, 10)
		require.NoError(t, err)

		got, err := env.queueRepo.GetByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CleanupStatusFailed, got.Status)
		assert.Equal(t, 1, got.Attempts)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("open item blocks duplicate enqueue", func(t *testing.T) {
		first, err := env.cleanup.Enqueue(ctx, "d/dup", models.CleanupReasonUserDelete)
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := env.cleanup.Enqueue(ctx, "d/dup", models.CleanupReasonConflictFix)
		require.NoError(t, err)
		assert.Nil(t, second)
	})
}

func TestCleanupService_DeleteMedia(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.put("a/ok", 1, "s1")
	env.seedMirror(t, "a/ok", 1, "s1")
	env.store.put("b/stuck", 2, "s2")
	env.seedMirror(t, "b/stuck", 2, "s2")
	env.store.deleteErrs["b/stuck"] = errors.New("store unavailable")

	result, err := env.cleanup.DeleteMedia(ctx, []string{"a/ok", "b/stuck"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a/ok"}, result.Deleted)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "b/stuck", result.Failed[0].PublicID)

	t.Run("successful delete removes the row", func(t *testing.T) {
		rec, err := env.assetRepo.GetByPublicID(ctx, "a/ok")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("failed delete hides the row and queues a retry", func(t *testing.T) {
		rec, err := env.assetRepo.GetByPublicID(ctx, "b/stuck")
		require.NoError(t, err)
		assert.Nil(t, rec, "soft-deleted row must be invisible")

		has, err := env.queueRepo.HasPendingForPublicID(ctx, "b/stuck")
		require.NoError(t, err)
		assert.True(t, has)
	})
}

func TestOperationTracker_Snapshots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedMirror(t, "a/one", 1, "s1")
	env.seedMirror(t, "b/two", 2, "s2")
	_, err := env.assetRepo.SetSyncStatus(ctx, "b/two", models.SyncStatusConflict)
	require.NoError(t, err)
	_, err = env.cleanup.Enqueue(ctx, "c/waiting", models.CleanupReasonUserDelete)
	require.NoError(t, err)

	snap, err := env.tracker.CreateSnapshot(ctx, models.SnapshotTypeManual)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.SyncedAssets)
	assert.Equal(t, 1, snap.ConflictAssets)
	assert.Equal(t, 1, snap.PendingCleanups)
	assert.InDelta(t, 0.5, snap.ErrorRate, 0.001)

	snaps, err := env.tracker.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestOperationTracker_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	op, err := env.tracker.StartOperation(ctx, models.OperationTypeFullSync, models.OperationSourceAPI, 10)
	require.NoError(t, err)

	cancelled, err := env.tracker.IsCancelRequested(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	ok, err := env.tracker.RequestCancel(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	cancelled, err = env.tracker.IsCancelRequested(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestSchedulerService(t *testing.T) {
	env := newTestEnv(t)

	cfg := config.Sync{
		IntervalMinutes:        60,
		CleanupIntervalMinutes: 30,
		CleanupBatchSize:       10,
		SnapshotKeep:           100,
	}
	sched := NewSchedulerService(env.sync, env.cleanup, env.tracker, cfg)

	assert.False(t, sched.IsRunning())

	sched.Start()
	assert.True(t, sched.IsRunning())

	// Second start is a no-op
	sched.Start()
	assert.True(t, sched.IsRunning())

	stats := sched.GetStats()
	assert.True(t, stats.IsRunning)
	assert.Equal(t, time.Hour.String(), stats.SyncInterval)
	require.NotNil(t, stats.NextSyncRun)

	sched.Stop()
	assert.False(t, sched.IsRunning())
	sched.Stop()

	stats = sched.GetStats()
	assert.False(t, stats.IsRunning)
	assert.Nil(t, stats.NextSyncRun)
}
