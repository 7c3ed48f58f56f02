package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediamirror/server/internal/lock"
	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/repository"
	"github.com/mediamirror/server/internal/services"
)

// fakeStore is an in-memory asset store for handler tests.
type fakeStore struct {
	mu         sync.Mutex
	assets     map[string]*models.AssetDescriptor
	deleteErrs map[string]error
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
	delete(f.assets, publicID)
	return nil
}

func (f *fakeStore) UploadAsset(_ context.Context, content io.Reader, filename string) (*models.AssetDescriptor, error) {
	io.Copy(io.Discard, content)
	desc := &models.AssetDescriptor{
		PublicID:  "registry/" + filename,
		Version:   time.Now().Unix(),
		Signature: "uploaded",
		Format:    "jpg",
		CreatedAt: time.Now().UTC(),
	}
	f.mu.Lock()
	f.assets[desc.PublicID] = desc
	f.mu.Unlock()
	return desc, nil
}

type testServer struct {
	store   *fakeStore
	locks   *lock.MutexProvider
	tracker *services.OperationTracker
	router  chi.Router
}

func newTestServer(t *testing.T) *testServer {
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

	tracker := services.NewOperationTracker(opRepo, snapRepo, assetRepo, queueRepo, nil)
	cleanup := services.NewCleanupService(store, queueRepo, assetRepo, locks, nil, nil,
		nil, 5, 30*time.Second, 30*time.Minute, 25)
	syncSvc := services.NewSyncService(store, assetRepo, cleanup, tracker, locks, nil, nil, 100, 100)

	syncHandler := NewSyncHandler(syncSvc)
	cleanupHandler := NewCleanupHandler(cleanup)
	mediaHandler := NewMediaHandler(syncSvc, cleanup)
	operationsHandler := NewOperationsHandler(tracker)
	healthHandler := NewHealthHandler()

	r := chi.NewRouter()
	r.Get("/health", healthHandler.Health)
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/cloudinary/sync", syncHandler.TriggerSync)
		r.Get("/cloudinary/cleanup", cleanupHandler.GetStats)
		r.Post("/cloudinary/cleanup", cleanupHandler.RunCleanup)
		r.Delete("/cloudinary/media", mediaHandler.DeleteMedia)
		r.Get("/sync/verify", syncHandler.VerifySync)
		r.Post("/sync/verify", syncHandler.VerifyAndFix)
		r.Get("/operations", operationsHandler.ListOperations)
		r.Get("/operations/{id}", operationsHandler.GetOperation)
		r.Post("/operations/{id}/cancel", operationsHandler.CancelOperation)
		r.Get("/status/snapshots", operationsHandler.ListSnapshots)
		r.Post("/status/snapshots", operationsHandler.CreateSnapshot)
	})

	return &testServer{store: store, locks: locks, tracker: tracker, router: r}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestTriggerSync(t *testing.T) {
	ts := newTestServer(t)
	ts.store.put("registry/a", 1, "sig-a")
	ts.store.put("registry/b", 1, "sig-b")

	rec := ts.do(t, http.MethodPost, "/api/admin/cloudinary/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.SyncResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, 2, resp.Data.SyncedItems)
	assert.NotEmpty(t, resp.Data.OperationID)
}

func TestTriggerSync_Conflict(t *testing.T) {
	ts := newTestServer(t)

	release, acquired, err := ts.locks.TryAcquire(context.Background(), "mediamirror:full_sync", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	defer release()

	rec := ts.do(t, http.MethodPost, "/api/admin/cloudinary/sync", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerSync_SingleAssetNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/cloudinary/sync",
		models.SyncRequest{SingleAsset: "registry/ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifySync(t *testing.T) {
	ts := newTestServer(t)
	ts.store.put("registry/a", 1, "sig-a")

	rec := ts.do(t, http.MethodGet, "/api/admin/sync/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.VerifyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Verification)
	assert.True(t, resp.Verification.Success)
	assert.Equal(t, []string{"registry/a"}, resp.Verification.MissingInDatabase)
	assert.Nil(t, resp.FixResults)
}

func TestVerifyAndFix(t *testing.T) {
	ts := newTestServer(t)
	ts.store.put("registry/a", 1, "sig-a")

	rec := ts.do(t, http.MethodPost, "/api/admin/sync/verify",
		models.VerifyFixRequest{FixMissingInDatabase: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.VerifyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.FixResults)
	assert.Equal(t, []string{"registry/a"}, resp.FixResults.InsertedInDatabase)

	// The row is there now, so a second verify is clean
	rec = ts.do(t, http.MethodGet, "/api/admin/sync/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Verification.MissingInDatabase)
}

func TestCleanupEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/admin/cloudinary/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.CleanupStatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.True(t, stats.Success)
	assert.Equal(t, 0, stats.Stats.PendingCount)

	rec = ts.do(t, http.MethodPost, "/api/admin/cloudinary/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.CleanupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.Processed.Processed)
}

func TestDeleteMedia(t *testing.T) {
	ts := newTestServer(t)
	ts.store.put("registry/a", 1, "sig-a")

	t.Run("requires public ids", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/api/admin/cloudinary/media",
			models.MediaDeleteRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("deletes store-first", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/api/admin/cloudinary/media",
			models.MediaDeleteRequest{PublicIDs: []string{"registry/a"}})
		require.Equal(t, http.StatusOK, rec.Code)

		var result models.MediaDeleteResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.Equal(t, []string{"registry/a"}, result.Deleted)
		assert.Empty(t, result.Failed)
	})
}

func TestOperationsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	op, err := ts.tracker.StartOperation(context.Background(), models.OperationTypeFullSync, models.OperationSourceManual, 10)
	require.NoError(t, err)

	t.Run("list", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/admin/operations", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.OperationListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 1, resp.TotalCount)
	})

	t.Run("get", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/admin/operations/"+op.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.SyncOperation
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, op.ID, got.ID)
	})

	t.Run("get missing", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/admin/operations/no-such-id", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("cancel", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/admin/operations/"+op.ID+"/cancel", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var got models.SyncOperation
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.True(t, got.CancelRequested)
	})

	t.Run("cancel finished operation", func(t *testing.T) {
		require.NoError(t, ts.tracker.CompleteOperation(context.Background(), op, models.OperationStatusCompleted, nil))

		rec := ts.do(t, http.MethodPost, "/api/admin/operations/"+op.ID+"/cancel", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestSnapshotEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/status/snapshots", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/status/snapshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.SnapshotListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Snapshots, 1)
}
