// Package provider defines the backend-agnostic contract that every cloud
// storage integration implements. The sync engine talks only to this
// interface; it never imports a provider-specific package directly.
package provider

import (
	"context"
	"errors"
	"io"
	"time"
)

// Kind identifies which backend a configured account talks to.
type Kind string

// Supported provider kinds.
const (
	KindOneDrive   Kind = "onedrive"
	KindGoogleDrive Kind = "googledrive"
	KindDropbox    Kind = "dropbox"
	KindNextcloud  Kind = "nextcloud"
	KindS3         Kind = "s3"
)

// ErrorKind is the closed taxonomy of failure classes every provider
// implementation maps its own errors onto. The sync engine branches on
// ErrorKind, never on a provider's native error type or HTTP status code.
type ErrorKind int

// Provider error classes.
const (
	ErrKindUnknown ErrorKind = iota
	ErrKindAuth              // credentials invalid or expired, refresh failed
	ErrKindNetwork           // transient connectivity failure
	ErrKindRateLimit         // backend asked the caller to slow down
	ErrKindNotFound          // referenced object does not exist remotely
	ErrKindConflict          // remote state changed since caller's view
	ErrKindPermission        // caller lacks rights to perform the operation
	ErrKindQuota             // storage quota exceeded
	ErrKindIntegrity         // content hash/size mismatch after transfer
	ErrKindCancelled         // caller's context was cancelled
	ErrKindFatal             // unrecoverable, non-retryable error
)

// Error wraps a provider-native error with its classified kind. Providers
// return *Error from every fallible operation so the engine can branch
// without importing provider-specific error types.
type Error struct {
	Kind     ErrorKind
	Provider Kind
	Op       string // operation being attempted, e.g. "upload_file"
	Err      error
}

func (e *Error) Error() string {
	return e.Op + " (" + string(e.Provider) + "): " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, provider.Error{Kind: provider.ErrKindNotFound}).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}

	return false
}

// NewError constructs a classified provider error.
func NewError(kind ErrorKind, prov Kind, op string, err error) *Error {
	return &Error{Kind: kind, Provider: prov, Op: op, Err: err}
}

// IsKind reports whether err is a *Error (at any wrap depth) with the given Kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}

	return false
}

// FileType distinguishes files from folders in a provider-agnostic way.
type FileType string

// Remote object kinds.
const (
	FileTypeFile   FileType = "file"
	FileTypeFolder FileType = "folder"
)

// File is the provider-agnostic view of a single remote object. Every
// provider adapter translates its native listing/metadata type into this
// shape before handing it to the sync engine.
type File struct {
	ID           string // provider-native object identifier
	ParentID     string
	Name         string
	Path         string // provider path, slash-separated, rooted at the configured remote root
	Type         FileType
	Size         int64
	ContentHash  string // provider's native content hash/etag, opaque
	HashKind     string // algorithm name for ContentHash (quickxorhash, sha256, etag, ...)
	ModifiedTime time.Time
	Deleted      bool // true when this entry represents a tombstone in a change feed
}

// Quota reports the storage usage for an account.
type Quota struct {
	Used  int64
	Total int64 // 0 means unknown/unlimited
}

// ChangePage is one page of a change feed. Cursor is opaque and must be
// persisted by the caller to resume from this point on the next poll.
type ChangePage struct {
	Files      []File
	Cursor     string
	HasMore    bool
	Reset      bool // true when the provider invalidated the previous cursor and a full resync is required
}

// Provider is the contract every cloud backend implements. Operation names
// match the vocabulary used throughout the sync engine and journal so log
// lines and action records read the same regardless of backend.
type Provider interface {
	// Name returns a short backend identifier, e.g. "onedrive".
	Name() Kind

	// IsAuthenticated reports whether the provider currently holds usable
	// credentials without making a network call.
	IsAuthenticated() bool

	// RefreshAuth exchanges a refresh token (or equivalent) for a fresh
	// access token. Returns a provider.Error with ErrKindAuth on failure.
	RefreshAuth(ctx context.Context) error

	// GetQuota returns the account's storage usage.
	GetQuota(ctx context.Context) (Quota, error)

	// List lists the immediate children of a folder.
	List(ctx context.Context, folderID string) ([]File, error)

	// GetFile fetches metadata for a single object by ID.
	GetFile(ctx context.Context, id string) (File, error)

	// CreateFolder creates a folder under parentID and returns its metadata.
	CreateFolder(ctx context.Context, parentID, name string) (File, error)

	// UploadFile uploads r (size bytes) as a new child of parentID. Providers
	// that support resumable/chunked upload choose the strategy internally
	// based on size.
	UploadFile(ctx context.Context, parentID, name string, r io.Reader, size int64, mtime time.Time) (File, error)

	// DownloadFile streams the content of id into w, returning bytes written.
	DownloadFile(ctx context.Context, id string, w io.Writer) (int64, error)

	// MoveFile reparents and/or renames an object in one call.
	MoveFile(ctx context.Context, id, newParentID, newName string) (File, error)

	// RenameFile renames an object in place.
	RenameFile(ctx context.Context, id, newName string) (File, error)

	// Delete moves an object to the provider's trash/recycle bin when one
	// exists, otherwise performs a permanent delete.
	Delete(ctx context.Context, id string) error

	// PermanentDelete removes an object bypassing any trash/recycle bin.
	PermanentDelete(ctx context.Context, id string) error

	// GetChanges returns one page of the change feed since cursor. An empty
	// cursor requests a full initial enumeration. Providers without a native
	// change feed (S3) emulate this by diffing a full listing against the
	// caller-supplied previous snapshot; see the s3 provider for the shape
	// of that fallback.
	GetChanges(ctx context.Context, cursor string) (ChangePage, error)
}
