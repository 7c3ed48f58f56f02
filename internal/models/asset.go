package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sync status values for a mirrored asset
const (
	SyncStatusPending  = "pending"
	SyncStatusSynced   = "synced"
	SyncStatusError    = "error"
	SyncStatusConflict = "conflict"
)

// Resource types recognised by the asset store
const (
	ResourceTypeImage = "image"
	ResourceTypeVideo = "video"
	ResourceTypeRaw   = "raw"
)

// AssetDescriptor is the canonical view of one asset as reported by the store.
// It is what the Cloudinary client returns and what the reconciliation engine
// compares mirror rows against.
type AssetDescriptor struct {
	PublicID         string    `json:"publicId"`
	Version          int64     `json:"version"`
	Signature        string    `json:"signature"`
	ResourceType     string    `json:"resourceType"`
	Folder           string    `json:"folder"`
	Tags             []string  `json:"tags,omitempty"`
	OriginalFilename string    `json:"originalFilename"`
	DisplayName      string    `json:"displayName"`
	Format           string    `json:"format"`
	Bytes            int64     `json:"bytes"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	URL              string    `json:"url"`
	SecureURL        string    `json:"secureUrl"`
	CreatedAt        time.Time `json:"createdAt"`
}

// AssetRecord is one mirror row: an asset as known to the local database.
type AssetRecord struct {
	ID               string     `json:"id"`
	PublicID         string     `json:"publicId"`
	Version          int64      `json:"version"`
	Signature        string     `json:"signature"`
	ResourceType     string     `json:"resourceType"`
	Folder           string     `json:"folder"`
	Tags             []string   `json:"tags,omitempty"`
	OriginalFilename string     `json:"originalFilename"`
	DisplayName      string     `json:"displayName"`
	FileSize         int64      `json:"fileSize"`
	MimeType         string     `json:"mimeType"`
	Format           string     `json:"format"`
	Width            int        `json:"width"`
	Height           int        `json:"height"`
	SecureURL        string     `json:"secureUrl"`
	URL              string     `json:"url"`
	SyncStatus       string     `json:"syncStatus"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	LastSyncedAt     *time.Time `json:"lastSyncedAt,omitempty"`
}

// NewAssetRecord creates a mirror row from a store descriptor. The row starts
// out synced because it was built from the store's own view.
func NewAssetRecord(desc *AssetDescriptor) (*AssetRecord, error) {
	if desc == nil || strings.TrimSpace(desc.PublicID) == "" {
		return nil, ErrEmptyPublicID
	}

	now := time.Now().UTC()
	rec := &AssetRecord{
		ID:         uuid.New().String(),
		PublicID:   desc.PublicID,
		SyncStatus: SyncStatusSynced,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	rec.ApplyDescriptor(desc, now)
	return rec, nil
}

// NewPendingAssetRecord creates a mirror row ahead of store confirmation, as
// the upload path does before the store descriptor arrives.
func NewPendingAssetRecord(publicID string) (*AssetRecord, error) {
	if strings.TrimSpace(publicID) == "" {
		return nil, ErrEmptyPublicID
	}

	now := time.Now().UTC()
	return &AssetRecord{
		ID:         uuid.New().String(),
		PublicID:   publicID,
		SyncStatus: SyncStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ApplyDescriptor copies store-side fields onto the row and stamps it synced.
func (a *AssetRecord) ApplyDescriptor(desc *AssetDescriptor, now time.Time) {
	a.Version = desc.Version
	a.Signature = desc.Signature
	a.ResourceType = normalizeResourceType(desc.ResourceType)
	a.Folder = desc.Folder
	a.Tags = desc.Tags
	a.OriginalFilename = desc.OriginalFilename
	a.DisplayName = desc.DisplayName
	a.FileSize = desc.Bytes
	a.Format = desc.Format
	a.MimeType = mimeTypeFor(a.ResourceType, desc.Format)
	a.Width = desc.Width
	a.Height = desc.Height
	a.URL = desc.URL
	a.SecureURL = desc.SecureURL
	a.SyncStatus = SyncStatusSynced
	a.UpdatedAt = now
	a.LastSyncedAt = &now
}

// IsLive reports whether the row is not soft-deleted.
func (a *AssetRecord) IsLive() bool {
	return a.DeletedAt == nil
}

// Matches reports whether the row still agrees with the store descriptor.
// Version and signature are the store's modification markers.
func (a *AssetRecord) Matches(desc *AssetDescriptor) bool {
	return a.Version == desc.Version && a.Signature == desc.Signature
}

// SoftDelete marks the row as deleted without removing it. The cleanup
// processor hard-deletes it once the store object is confirmed gone.
func (a *AssetRecord) SoftDelete(now time.Time) {
	a.DeletedAt = &now
	a.UpdatedAt = now
}

func normalizeResourceType(rt string) string {
	switch strings.ToLower(strings.TrimSpace(rt)) {
	case ResourceTypeVideo:
		return ResourceTypeVideo
	case ResourceTypeRaw:
		return ResourceTypeRaw
	default:
		return ResourceTypeImage
	}
}

func mimeTypeFor(resourceType, format string) string {
	if format == "" {
		return ""
	}
	switch resourceType {
	case ResourceTypeVideo:
		return "video/" + format
	case ResourceTypeRaw:
		return "application/octet-stream"
	default:
		return "image/" + format
	}
}

// Errors
type AssetError struct {
	Message string
}

func (e AssetError) Error() string {
	return e.Message
}

var (
	ErrEmptyPublicID    = AssetError{"public id cannot be empty"}
	ErrAssetNotFound    = AssetError{"asset not found"}
	ErrDuplicateAsset   = AssetError{"asset already exists"}
	ErrAssetSoftDeleted = AssetError{"asset is soft-deleted"}
)
