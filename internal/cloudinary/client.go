package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/mediamirror/server/internal/config"
	"github.com/mediamirror/server/internal/models"
	"github.com/mediamirror/server/internal/observability"
)

// StoreError wraps an asset store failure with enough classification for the
// cleanup processor to decide between retry and dead-letter.
type StoreError struct {
	Op        string
	PublicID  string
	Message   string
	Retryable bool
}

func (e *StoreError) Error() string {
	if e.PublicID != "" {
		return fmt.Sprintf("cloudinary %s %s: %s", e.Op, e.PublicID, e.Message)
	}
	return fmt.Sprintf("cloudinary %s: %s", e.Op, e.Message)
}

// IsRetryable reports whether the error is transient (network, rate limit,
// server-side) rather than a permanent rejection.
func IsRetryable(err error) bool {
	if se, ok := err.(*StoreError); ok {
		return se.Retryable
	}
	// Unclassified errors (transport failures) are worth retrying
	return true
}

// listAssetTypes are the resource types the store holds. The Admin listing
// and the destroy endpoint are both per-type, so every operation that must
// see the whole library walks this list.
var listAssetTypes = []api.AssetType{api.Image, api.Video, api.File}

// Client wraps the Cloudinary SDK behind the small surface the sync engine
// needs. Every call carries a bounded deadline and retries once when the
// deadline itself was the failure.
type Client struct {
	cld     *cloudinary.Cloudinary
	logger  *observability.Logger
	metrics *observability.SyncMetrics
	timeout time.Duration
	folder  string
}

// NewClient creates a store client from credentials.
func NewClient(cfg config.Cloudinary, logger *observability.Logger, metrics *observability.SyncMetrics) (*Client, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials are not configured")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudinary client: %w", err)
	}
	cld.Config.URL.Secure = true

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.GetLogger()
	}

	return &Client{
		cld:     cld,
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
		folder:  cfg.UploadFolder,
	}, nil
}

// ListPage returns one page of asset descriptors plus the cursor for the next
// page. An empty cursor starts from the beginning; an empty returned cursor
// means the listing is complete. The listing walks all resource types, so a
// page near a type boundary may be short or empty while the cursor is not.
func (c *Client) ListPage(ctx context.Context, cursor string, pageSize int) ([]*models.AssetDescriptor, string, error) {
	assetType, storeCursor := splitListCursor(cursor)

	ctx, span := observability.StartStoreSpan(ctx, "list")
	defer span.End()

	var res *admin.AssetsResult
	err := c.call(ctx, func(ctx context.Context) error {
		var callErr error
		res, callErr = c.cld.Admin.Assets(ctx, admin.AssetsParams{
			AssetType:  assetType,
			MaxResults: pageSize,
			NextCursor: storeCursor,
			Tags:       api.Bool(true),
		})
		return callErr
	})
	if err != nil {
		c.recordCall(ctx, "list", false)
		observability.RecordError(span, err)
		return nil, "", &StoreError{Op: "list", Message: err.Error(), Retryable: true}
	}
	if res.Error.Message != "" {
		c.recordCall(ctx, "list", false)
		storeErr := classify("list", "", res.Error.Message)
		observability.RecordError(span, storeErr)
		return nil, "", storeErr
	}
	c.recordCall(ctx, "list", true)

	descs := make([]*models.AssetDescriptor, 0, len(res.Assets))
	for i := range res.Assets {
		descs = append(descs, briefToDescriptor(&res.Assets[i]))
	}
	c.logger.Debugf("Listed %d store %s assets (more=%v)", len(descs), assetType, res.NextCursor != "")
	return descs, nextListCursor(assetType, res.NextCursor), nil
}

// GetAsset returns the descriptor for one asset, or nil if no resource type
// in the store has it.
func (c *Client) GetAsset(ctx context.Context, publicID string) (*models.AssetDescriptor, error) {
	ctx, span := observability.StartStoreSpan(ctx, "get")
	defer span.End()

	for _, assetType := range listAssetTypes {
		var res *admin.AssetResult
		err := c.call(ctx, func(ctx context.Context) error {
			var callErr error
			res, callErr = c.cld.Admin.Asset(ctx, admin.AssetParams{
				PublicID:  publicID,
				AssetType: assetType,
			})
			return callErr
		})
		if err != nil {
			c.recordCall(ctx, "get", false)
			observability.RecordError(span, err)
			return nil, &StoreError{Op: "get", PublicID: publicID, Message: err.Error(), Retryable: true}
		}
		if res.Error.Message != "" {
			if isNotFoundMessage(res.Error.Message) {
				continue
			}
			c.recordCall(ctx, "get", false)
			storeErr := classify("get", publicID, res.Error.Message)
			observability.RecordError(span, storeErr)
			return nil, storeErr
		}

		c.recordCall(ctx, "get", true)
		return &models.AssetDescriptor{
			PublicID:     res.PublicID,
			Version:      int64(res.Version),
			Signature:    res.Etag,
			ResourceType: res.ResourceType,
			Folder:       folderOf(res.PublicID),
			Tags:         res.Tags,
			DisplayName:  path.Base(res.PublicID),
			Format:       res.Format,
			Bytes:        int64(res.Bytes),
			Width:        res.Width,
			Height:       res.Height,
			URL:          res.URL,
			SecureURL:    res.SecureURL,
			CreatedAt:    res.CreatedAt,
		}, nil
	}

	c.recordCall(ctx, "get", true)
	return nil, nil
}

// DeleteAsset removes one asset from the store. The destroy endpoint is per
// resource type and answers "not found" for the wrong one, so types are tried
// in turn until the store confirms either the deletion or the absence
// everywhere. An asset no resource type has counts as deleted.
func (c *Client) DeleteAsset(ctx context.Context, publicID string) error {
	ctx, span := observability.StartStoreSpan(ctx, "destroy")
	defer span.End()

	for _, assetType := range listAssetTypes {
		var res *uploader.DestroyResult
		err := c.call(ctx, func(ctx context.Context) error {
			var callErr error
			res, callErr = c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
				PublicID:     publicID,
				ResourceType: string(assetType),
				Invalidate:   api.Bool(true),
			})
			return callErr
		})
		if err != nil {
			c.recordCall(ctx, "destroy", false)
			observability.RecordError(span, err)
			return &StoreError{Op: "destroy", PublicID: publicID, Message: err.Error(), Retryable: true}
		}

		switch strings.ToLower(res.Result) {
		case "ok":
			c.recordCall(ctx, "destroy", true)
			c.logger.WithFields(map[string]interface{}{
				"public_id":     publicID,
				"resource_type": string(assetType),
			}).Debug("Store asset deleted")
			return nil
		case "not found":
			// Try the next resource type
		default:
			c.recordCall(ctx, "destroy", false)
			storeErr := classify("destroy", publicID, res.Result)
			observability.RecordError(span, storeErr)
			return storeErr
		}
	}

	c.recordCall(ctx, "destroy", true)
	return nil
}

// UploadAsset sends file content to the store and returns the resulting
// descriptor. The public ID is derived from the filename under the configured
// upload folder.
func (c *Client) UploadAsset(ctx context.Context, content io.Reader, filename string) (*models.AssetDescriptor, error) {
	ctx, span := observability.StartStoreSpan(ctx, "upload")
	defer span.End()

	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))

	var res *uploader.UploadResult
	upload := func(ctx context.Context) error {
		if seeker, ok := content.(io.Seeker); ok {
			if _, seekErr := seeker.Seek(0, io.SeekStart); seekErr != nil {
				return seekErr
			}
		}
		var callErr error
		res, callErr = c.cld.Upload.Upload(ctx, content, uploader.UploadParams{
			PublicID:       base,
			Folder:         c.folder,
			UseFilename:    api.Bool(true),
			UniqueFilename: api.Bool(true),
		})
		return callErr
	}

	var err error
	if _, seekable := content.(io.Seeker); seekable {
		err = c.call(ctx, upload)
	} else {
		// A non-seekable stream cannot be replayed for a retry
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		err = upload(callCtx)
	}
	if err != nil {
		c.recordCall(ctx, "upload", false)
		observability.RecordError(span, err)
		return nil, &StoreError{Op: "upload", PublicID: base, Message: err.Error(), Retryable: true}
	}
	if res.Error.Message != "" {
		c.recordCall(ctx, "upload", false)
		storeErr := classify("upload", base, res.Error.Message)
		observability.RecordError(span, storeErr)
		return nil, storeErr
	}
	c.recordCall(ctx, "upload", true)

	return &models.AssetDescriptor{
		PublicID:         res.PublicID,
		Version:          int64(res.Version),
		Signature:        res.Etag,
		ResourceType:     res.ResourceType,
		Folder:           folderOf(res.PublicID),
		Tags:             res.Tags,
		OriginalFilename: filename,
		DisplayName:      path.Base(res.PublicID),
		Format:           res.Format,
		Bytes:            int64(res.Bytes),
		Width:            res.Width,
		Height:           res.Height,
		URL:              res.URL,
		SecureURL:        res.SecureURL,
		CreatedAt:        res.CreatedAt,
	}, nil
}

// call runs one store request under the per-call deadline.
func (c *Client) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return callWithTimeoutRetry(ctx, c.timeout, fn)
}

// callWithTimeoutRetry applies the per-call deadline and retries fn a single
// time when that deadline was the failure. Other errors, and a cancelled
// parent context, return immediately.
func callWithTimeoutRetry(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	}

	err := attempt()
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = attempt()
	}
	return err
}

func (c *Client) recordCall(ctx context.Context, operation string, success bool) {
	if c.metrics != nil {
		c.metrics.RecordStoreCall(ctx, operation, success)
	}
}

// splitListCursor decodes a paging cursor into the resource type being
// listed and the store cursor within that type. An empty cursor starts the
// first type from the beginning.
func splitListCursor(cursor string) (api.AssetType, string) {
	if cursor == "" {
		return listAssetTypes[0], ""
	}
	if i := strings.IndexByte(cursor, ':'); i >= 0 {
		return api.AssetType(cursor[:i]), cursor[i+1:]
	}
	return listAssetTypes[0], cursor
}

// nextListCursor encodes the cursor for the page after the current one. A
// type whose listing is exhausted hands over to the next type; the empty
// string means every type has been walked.
func nextListCursor(current api.AssetType, next string) string {
	if next != "" {
		return string(current) + ":" + next
	}
	for i := 0; i < len(listAssetTypes)-1; i++ {
		if listAssetTypes[i] == current {
			return string(listAssetTypes[i+1]) + ":"
		}
	}
	return ""
}

func briefToDescriptor(a *api.BriefAssetResult) *models.AssetDescriptor {
	return &models.AssetDescriptor{
		PublicID:     a.PublicID,
		Version:      int64(a.Version),
		ResourceType: a.AssetType,
		Folder:       folderOf(a.PublicID),
		Tags:         a.Tags,
		DisplayName:  path.Base(a.PublicID),
		Format:       a.Format,
		Bytes:        int64(a.Bytes),
		Width:        a.Width,
		Height:       a.Height,
		URL:          a.URL,
		SecureURL:    a.SecureURL,
		CreatedAt:    a.CreatedAt,
	}
}

func folderOf(publicID string) string {
	dir := path.Dir(publicID)
	if dir == "." {
		return ""
	}
	return dir
}

// classify turns a store error message into a StoreError. Rate limits and
// server-side failures are retryable; everything else is permanent.
func classify(op, publicID, message string) *StoreError {
	lower := strings.ToLower(message)
	retryable := strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "420") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "temporarily") ||
		strings.Contains(lower, "internal error")

	return &StoreError{Op: op, PublicID: publicID, Message: message, Retryable: retryable}
}

func isNotFoundMessage(message string) bool {
	return strings.Contains(strings.ToLower(message), "not found")
}
