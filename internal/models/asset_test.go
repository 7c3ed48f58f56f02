package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor(publicID string) *AssetDescriptor {
	return &AssetDescriptor{
		PublicID:         publicID,
		Version:          1712345678,
		Signature:        "abc123sig",
		ResourceType:     "image",
		Folder:           "personnel",
		Tags:             []string{"registry", "2026"},
		OriginalFilename: "badge.jpg",
		DisplayName:      "Badge",
		Format:           "jpg",
		Bytes:            2048,
		Width:            640,
		Height:           480,
		URL:              "http://res.example.com/badge.jpg",
		SecureURL:        "https://res.example.com/badge.jpg",
		CreatedAt:        time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewAssetRecord(t *testing.T) {
	t.Run("creates synced record from descriptor", func(t *testing.T) {
		desc := testDescriptor("personnel/badge")

		rec, err := NewAssetRecord(desc)

		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, desc.PublicID, rec.PublicID)
		assert.Equal(t, desc.Version, rec.Version)
		assert.Equal(t, desc.Signature, rec.Signature)
		assert.Equal(t, SyncStatusSynced, rec.SyncStatus)
		assert.Equal(t, "image/jpg", rec.MimeType)
		assert.True(t, rec.IsLive())
		require.NotNil(t, rec.LastSyncedAt)
		assert.WithinDuration(t, time.Now().UTC(), *rec.LastSyncedAt, 5*time.Second)
	})

	t.Run("rejects empty public id", func(t *testing.T) {
		_, err := NewAssetRecord(&AssetDescriptor{PublicID: "  "})
		assert.ErrorIs(t, err, ErrEmptyPublicID)
	})

	t.Run("rejects nil descriptor", func(t *testing.T) {
		_, err := NewAssetRecord(nil)
		assert.ErrorIs(t, err, ErrEmptyPublicID)
	})

	t.Run("generates unique ids", func(t *testing.T) {
		rec1, err := NewAssetRecord(testDescriptor("a"))
		require.NoError(t, err)
		rec2, err := NewAssetRecord(testDescriptor("b"))
		require.NoError(t, err)

		assert.NotEqual(t, rec1.ID, rec2.ID)
	})
}

func TestNewPendingAssetRecord(t *testing.T) {
	t.Run("starts pending with no sync timestamp", func(t *testing.T) {
		rec, err := NewPendingAssetRecord("uploads/tmp123")

		require.NoError(t, err)
		assert.Equal(t, SyncStatusPending, rec.SyncStatus)
		assert.Nil(t, rec.LastSyncedAt)
	})

	t.Run("rejects empty public id", func(t *testing.T) {
		_, err := NewPendingAssetRecord("")
		assert.ErrorIs(t, err, ErrEmptyPublicID)
	})
}

func TestAssetRecord_Matches(t *testing.T) {
	desc := testDescriptor("personnel/badge")
	rec, err := NewAssetRecord(desc)
	require.NoError(t, err)

	t.Run("matches identical descriptor", func(t *testing.T) {
		assert.True(t, rec.Matches(desc))
	})

	t.Run("detects version change", func(t *testing.T) {
		changed := *desc
		changed.Version = desc.Version + 1
		assert.False(t, rec.Matches(&changed))
	})

	t.Run("detects signature change", func(t *testing.T) {
		changed := *desc
		changed.Signature = "other"
		assert.False(t, rec.Matches(&changed))
	})
}

func TestAssetRecord_SoftDelete(t *testing.T) {
	rec, err := NewAssetRecord(testDescriptor("personnel/badge"))
	require.NoError(t, err)

	now := time.Now().UTC()
	rec.SoftDelete(now)

	assert.False(t, rec.IsLive())
	require.NotNil(t, rec.DeletedAt)
	assert.Equal(t, now, *rec.DeletedAt)
}

func TestNormalizeResourceType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"image", "image", ResourceTypeImage},
		{"video", "video", ResourceTypeVideo},
		{"raw", "raw", ResourceTypeRaw},
		{"uppercase", "VIDEO", ResourceTypeVideo},
		{"unknown defaults to image", "document", ResourceTypeImage},
		{"empty defaults to image", "", ResourceTypeImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeResourceType(tt.input))
		})
	}
}
