package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cloudsync-oss/cloudsync/internal/driveid"
	"github.com/cloudsync-oss/cloudsync/internal/provider"
	"github.com/cloudsync-oss/cloudsync/pkg/quickxorhash"
	"github.com/sethvargo/go-retry"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 30 * time.Second
	retryMaxTries  = 5
)

// ExecutorConfig holds the dependencies shared by every Executor created
// during a sync cycle. It is built once per Engine and handed to each
// NewExecution call alongside a freshly loaded Baseline.
type ExecutorConfig struct {
	client   provider.Provider
	syncRoot string
	driveID  driveid.ID
	logger   *slog.Logger
}

// NewExecutorConfig builds an ExecutorConfig. syncRoot must be an absolute
// path to the local sync directory.
func NewExecutorConfig(client provider.Provider, syncRoot string, driveID driveid.ID, logger *slog.Logger) *ExecutorConfig {
	if logger == nil {
		logger = slog.Default()
	}

	return &ExecutorConfig{
		client:   client,
		syncRoot: syncRoot,
		driveID:  driveID,
		logger:   logger,
	}
}

// Executor dispatches a single action against the filesystem and a
// provider.Provider, returning an Outcome for the baseline to commit. One
// Executor is constructed per action batch against a loaded Baseline snapshot
// so path lookups (parent folder resolution) see a consistent view.
type Executor struct {
	client   provider.Provider
	syncRoot string
	driveID  driveid.ID
	logger   *slog.Logger
	baseline *Baseline

	hashFunc func(string) (string, error)
	nowFunc  func() time.Time
}

// NewExecution creates an Executor bound to a loaded Baseline snapshot.
func NewExecution(cfg *ExecutorConfig, bl *Baseline) *Executor {
	return &Executor{
		client:   cfg.client,
		syncRoot: cfg.syncRoot,
		driveID:  cfg.driveID,
		logger:   cfg.logger,
		baseline: bl,
		hashFunc: computeLocalHash,
		nowFunc:  time.Now,
	}
}

// executeFolderCreate creates a folder on the local filesystem or via the
// provider, depending on action.CreateSide.
func (e *Executor) executeFolderCreate(ctx context.Context, action *Action) Outcome {
	e.logger.Info("folder create", slog.String("path", action.Path), slog.String("side", action.CreateSide.String()))

	if action.CreateSide == CreateLocal {
		localPath := filepath.Join(e.syncRoot, action.Path)
		if err := os.MkdirAll(localPath, 0o755); err != nil { //nolint:mnd // standard dir perms
			return e.failedOutcome(action, ActionFolderCreate, fmt.Errorf("creating local folder %s: %w", action.Path, err))
		}

		return Outcome{
			Action:   ActionFolderCreate,
			Success:  true,
			Path:     action.Path,
			DriveID:  e.resolveDriveID(action),
			ItemType: ItemTypeFolder,
			Mtime:    e.nowFunc().UnixNano(),
		}
	}

	parentID, err := e.resolveParentID(path.Dir(action.Path))
	if err != nil {
		return e.failedOutcome(action, ActionFolderCreate, err)
	}

	name := path.Base(action.Path)

	var created provider.File

	err = e.withRetry(ctx, "create folder "+action.Path, func() error {
		result, createErr := e.client.CreateFolder(ctx, parentID, name)
		created = result

		return createErr
	})
	if err != nil {
		return e.failedOutcome(action, ActionFolderCreate, fmt.Errorf("creating remote folder %s: %w", action.Path, err))
	}

	return Outcome{
		Action:   ActionFolderCreate,
		Success:  true,
		Path:     action.Path,
		DriveID:  e.resolveDriveID(action),
		ItemID:   created.ID,
		ParentID: parentID,
		ItemType: ItemTypeFolder,
		ETag:     created.ContentHash,
	}
}

// executeMove renames or reparents an item via the provider. Folder moves
// rely on the baseline's Put/Delete during commit to cascade descendant
// paths; the executor only performs the single provider call.
func (e *Executor) executeMove(ctx context.Context, action *Action) Outcome {
	newParentID, err := e.resolveParentID(path.Dir(action.NewPath))
	if err != nil {
		return e.failedOutcome(action, action.Type, err)
	}

	newName := path.Base(action.NewPath)

	e.logger.Info("move", slog.String("from", action.Path), slog.String("to", action.NewPath))

	var moved provider.File

	err = e.withRetry(ctx, "move "+action.Path, func() error {
		result, moveErr := e.client.MoveFile(ctx, action.ItemID, newParentID, newName)
		moved = result

		return moveErr
	})
	if err != nil {
		return e.failedOutcome(action, action.Type, fmt.Errorf("moving %s -> %s: %w", action.Path, action.NewPath, err))
	}

	itemType := ItemTypeFile
	if action.View != nil && action.View.Baseline != nil {
		itemType = action.View.Baseline.ItemType
	}

	return Outcome{
		Action:   action.Type,
		Success:  true,
		Path:     action.NewPath,
		OldPath:  action.Path,
		DriveID:  e.resolveDriveID(action),
		ItemID:   action.ItemID,
		ParentID: newParentID,
		ItemType: itemType,
		ETag:     moved.ContentHash,
	}
}

// executeSyncedUpdate snapshots the current view as the new synced baseline,
// used when local and remote agree on content after a false-positive conflict.
func (e *Executor) executeSyncedUpdate(action *Action) Outcome {
	e.logger.Debug("synced update", slog.String("path", action.Path))

	o := Outcome{
		Action:   ActionUpdateSynced,
		Success:  true,
		Path:     action.Path,
		DriveID:  e.resolveDriveID(action),
		ItemID:   action.ItemID,
		ItemType: ItemTypeFile,
	}

	if action.View != nil {
		if action.View.Local != nil {
			o.LocalHash = action.View.Local.Hash
			o.Size = action.View.Local.Size
			o.Mtime = action.View.Local.Mtime
			o.ItemType = action.View.Local.ItemType
		}

		if action.View.Remote != nil {
			o.RemoteHash = action.View.Remote.Hash
			o.ParentID = action.View.Remote.ParentID
			o.ETag = action.View.Remote.ETag
			o.RemoteMtime = action.View.Remote.Mtime
		}
	}

	return o
}

// executeCleanup removes a stale baseline entry. No filesystem or provider
// call is needed — the item is already absent on both sides.
func (e *Executor) executeCleanup(action *Action) Outcome {
	e.logger.Debug("cleanup", slog.String("path", action.Path), slog.String("item_id", action.ItemID))

	return Outcome{
		Action:  ActionCleanup,
		Success: true,
		Path:    action.Path,
		DriveID: e.resolveDriveID(action),
		ItemID:  action.ItemID,
	}
}

// resolveDriveID picks the DriveID to record on an Outcome: the action's own
// value when set, falling back to the executor's configured drive.
func (e *Executor) resolveDriveID(action *Action) driveid.ID {
	if !action.DriveID.IsZero() {
		return action.DriveID
	}

	return e.driveID
}

// resolveParentID resolves the provider item ID of the folder at parentPath.
// The sync root itself resolves to an empty ID, which providers treat as the
// account root.
func (e *Executor) resolveParentID(parentPath string) (string, error) {
	if parentPath == "." || parentPath == "/" || parentPath == "" {
		return "", nil
	}

	entry, ok := e.baseline.GetByPath(parentPath)
	if !ok {
		return "", fmt.Errorf("sync: parent folder %q not found in baseline", parentPath)
	}

	return entry.ItemID, nil
}

// failedOutcome builds a failed Outcome carrying the triggering error.
func (e *Executor) failedOutcome(action *Action, actionType ActionType, err error) Outcome {
	return Outcome{
		Action:  actionType,
		Success: false,
		Path:    action.Path,
		DriveID: e.resolveDriveID(action),
		ItemID:  action.ItemID,
		Error:   err,
	}
}

// withRetry retries fn with exponential backoff on transient provider
// errors (network, rate limit). Auth, permission, not-found and other
// classes of failure are returned immediately.
func (e *Executor) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := retry.NewExponential(retryBaseDelay)
	backoff = retry.WithMaxRetries(retryMaxTries, backoff)
	backoff = retry.WithCappedDuration(retryMaxDelay, backoff)

	attempt := 0

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		err := fn()
		if err == nil {
			return nil
		}

		if provider.IsKind(err, provider.ErrKindNetwork) || provider.IsKind(err, provider.ErrKindRateLimit) {
			e.logger.Warn("retrying after transient provider error",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)

			return retry.RetryableError(err)
		}

		return err
	})
}

// computeLocalHash hashes a local file with QuickXorHash and returns base64.
func computeLocalHash(localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := quickxorhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", localPath, err)
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
