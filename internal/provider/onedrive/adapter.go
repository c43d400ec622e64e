// Package onedrive adapts the Microsoft Graph API client in
// internal/graph into the backend-agnostic provider.Provider contract.
package onedrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudsync-oss/cloudsync/internal/driveid"
	"github.com/cloudsync-oss/cloudsync/internal/graph"
	"github.com/cloudsync-oss/cloudsync/internal/provider"
)

// Adapter implements provider.Provider on top of a Microsoft Graph client
// scoped to a single drive.
type Adapter struct {
	client  *graph.Client
	driveID driveid.ID
	logger  *slog.Logger
}

// New wraps an authenticated Graph client for the given drive.
func New(client *graph.Client, drive driveid.ID, logger *slog.Logger) *Adapter {
	return &Adapter{client: client, driveID: drive, logger: logger}
}

// Name implements provider.Provider.
func (a *Adapter) Name() provider.Kind { return provider.KindOneDrive }

// IsAuthenticated implements provider.Provider. The Graph client refreshes
// tokens transparently through its TokenSource, so a non-nil client is
// always considered authenticated; RefreshAuth surfaces failures instead.
func (a *Adapter) IsAuthenticated() bool { return a.client != nil }

// RefreshAuth implements provider.Provider by making a lightweight call that
// forces the underlying oauth2 TokenSource to refresh if needed.
func (a *Adapter) RefreshAuth(ctx context.Context) error {
	if _, err := a.client.Me(ctx); err != nil {
		return a.classify("refresh_auth", err)
	}

	return nil
}

// GetQuota implements provider.Provider.
func (a *Adapter) GetQuota(ctx context.Context) (provider.Quota, error) {
	drive, err := a.client.Drive(ctx, a.driveID)
	if err != nil {
		return provider.Quota{}, a.classify("get_quota", err)
	}

	return provider.Quota{Used: drive.QuotaUsed, Total: drive.QuotaTotal}, nil
}

// List implements provider.Provider.
func (a *Adapter) List(ctx context.Context, folderID string) ([]provider.File, error) {
	items, err := a.client.ListChildren(ctx, a.driveID, folderID)
	if err != nil {
		return nil, a.classify("list", err)
	}

	files := make([]provider.File, 0, len(items))
	for i := range items {
		files = append(files, fromItem(items[i]))
	}

	return files, nil
}

// GetFile implements provider.Provider.
func (a *Adapter) GetFile(ctx context.Context, id string) (provider.File, error) {
	item, err := a.client.GetItem(ctx, a.driveID, id)
	if err != nil {
		return provider.File{}, a.classify("get_file", err)
	}

	return fromItem(*item), nil
}

// CreateFolder implements provider.Provider.
func (a *Adapter) CreateFolder(ctx context.Context, parentID, name string) (provider.File, error) {
	item, err := a.client.CreateFolder(ctx, a.driveID, parentID, name)
	if err != nil {
		return provider.File{}, a.classify("create_folder", err)
	}

	return fromItem(*item), nil
}

// UploadFile implements provider.Provider, delegating the simple-vs-chunked
// decision to the Graph client's encapsulated Upload method. The content
// must be re-readable from an arbitrary offset for chunk retries, so callers
// that only have an io.Reader are wrapped with an in-memory ReaderAt; large
// uploads should pass an *os.File or other natural io.ReaderAt instead.
func (a *Adapter) UploadFile(
	ctx context.Context, parentID, name string, r io.Reader, size int64, mtime time.Time,
) (provider.File, error) {
	readerAt, ok := r.(io.ReaderAt)
	if !ok {
		readerAt = &bufferedReaderAt{r: r}
	}

	item, err := a.client.Upload(ctx, a.driveID, parentID, name, readerAt, size, mtime, nil)
	if err != nil {
		return provider.File{}, a.classify("upload_file", err)
	}

	return fromItem(*item), nil
}

// DownloadFile implements provider.Provider.
func (a *Adapter) DownloadFile(ctx context.Context, id string, w io.Writer) (int64, error) {
	n, err := a.client.Download(ctx, a.driveID, id, w)
	if err != nil {
		return n, a.classify("download_file", err)
	}

	return n, nil
}

// MoveFile implements provider.Provider.
func (a *Adapter) MoveFile(ctx context.Context, id, newParentID, newName string) (provider.File, error) {
	item, err := a.client.MoveItem(ctx, a.driveID, id, newParentID, newName)
	if err != nil {
		return provider.File{}, a.classify("move_file", err)
	}

	return fromItem(*item), nil
}

// RenameFile implements provider.Provider as a move with an unchanged parent.
func (a *Adapter) RenameFile(ctx context.Context, id, newName string) (provider.File, error) {
	current, err := a.client.GetItem(ctx, a.driveID, id)
	if err != nil {
		return provider.File{}, a.classify("rename_file", err)
	}

	item, err := a.client.MoveItem(ctx, a.driveID, id, current.ParentID, newName)
	if err != nil {
		return provider.File{}, a.classify("rename_file", err)
	}

	return fromItem(*item), nil
}

// Delete implements provider.Provider. Graph's DeleteItem moves the item to
// the account's recycle bin; there is no separate "move to trash" call.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := a.client.DeleteItem(ctx, a.driveID, id); err != nil {
		return a.classify("delete", err)
	}

	return nil
}

// PermanentDelete implements provider.Provider. The Graph API does not
// distinguish permanent deletion from recycle-bin deletion on DriveItem;
// permanently purging requires a separate recycle-bin-empty call that this
// account's consented scopes do not request, so this falls back to the same
// soft delete as Delete and relies on the recycle bin's own retention.
func (a *Adapter) PermanentDelete(ctx context.Context, id string) error {
	return a.Delete(ctx, id)
}

// GetChanges implements provider.Provider using Graph's native delta feed.
func (a *Adapter) GetChanges(ctx context.Context, cursor string) (provider.ChangePage, error) {
	page, err := a.client.Delta(ctx, a.driveID.String(), cursor)
	if err != nil {
		if errors.Is(err, graph.ErrGone) {
			return provider.ChangePage{Reset: true}, nil
		}

		return provider.ChangePage{}, a.classify("get_changes", err)
	}

	files := make([]provider.File, 0, len(page.Items))
	for i := range page.Items {
		files = append(files, fromItem(page.Items[i]))
	}

	next := page.NextLink
	if next == "" {
		next = page.DeltaLink
	}

	return provider.ChangePage{
		Files:   files,
		Cursor:  next,
		HasMore: page.NextLink != "",
	}, nil
}

// fromItem translates a graph.Item into the provider-agnostic File shape.
func fromItem(item graph.Item) provider.File {
	fileType := provider.FileTypeFile
	if item.IsFolder {
		fileType = provider.FileTypeFolder
	}

	hash, kind := item.QuickXorHash, "quickxorhash"
	if hash == "" && item.SHA256Hash != "" {
		hash, kind = item.SHA256Hash, "sha256"
	}

	return provider.File{
		ID:           item.ID,
		ParentID:     item.ParentID,
		Name:         item.Name,
		Type:         fileType,
		Size:         item.Size,
		ContentHash:  hash,
		HashKind:     kind,
		ModifiedTime: item.ModifiedAt,
		Deleted:      item.IsDeleted,
	}
}

// classify maps a graph sentinel error to the provider-agnostic ErrorKind
// taxonomy so the sync engine never imports internal/graph directly.
func (a *Adapter) classify(op string, err error) error {
	var kind provider.ErrorKind

	switch {
	case errors.Is(err, graph.ErrUnauthorized), errors.Is(err, graph.ErrNotLoggedIn):
		kind = provider.ErrKindAuth
	case errors.Is(err, graph.ErrThrottled):
		kind = provider.ErrKindRateLimit
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, graph.ErrGone):
		kind = provider.ErrKindNotFound
	case errors.Is(err, graph.ErrConflict), errors.Is(err, graph.ErrLocked):
		kind = provider.ErrKindConflict
	case errors.Is(err, graph.ErrForbidden):
		kind = provider.ErrKindPermission
	case errors.Is(err, graph.ErrServerError):
		kind = provider.ErrKindNetwork
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = provider.ErrKindCancelled
	case isQuotaError(err):
		kind = provider.ErrKindQuota
	default:
		kind = provider.ErrKindFatal
	}

	return provider.NewError(kind, provider.KindOneDrive, op, err)
}

// isQuotaError reports whether err represents a 507 Insufficient Storage
// response, the status OneDrive uses for quota exhaustion.
func isQuotaError(err error) bool {
	var gerr *graph.GraphError

	return errors.As(err, &gerr) && gerr.StatusCode == http.StatusInsufficientStorage
}

// bufferedReaderAt adapts a one-shot io.Reader into an io.ReaderAt by
// buffering its full content in memory. Used only as a fallback when a
// caller hands UploadFile a reader that isn't already seekable; callers
// uploading large files should pass an *os.File instead to avoid the
// memory cost.
type bufferedReaderAt struct {
	r    io.Reader
	buf  []byte
	read bool
}

func (b *bufferedReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if !b.read {
		data, err := io.ReadAll(b.r)
		if err != nil {
			return 0, fmt.Errorf("onedrive: buffering upload content: %w", err)
		}

		b.buf = data
		b.read = true
	}

	if off >= int64(len(b.buf)) {
		return 0, io.EOF
	}

	n := copy(p, b.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

var _ provider.Provider = (*Adapter)(nil)
