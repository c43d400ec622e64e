package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/cloudsync-oss/cloudsync/internal/driveid"
	"github.com/cloudsync-oss/cloudsync/internal/provider"
)

// ErrCursorReset indicates the saved change cursor was rejected by the
// provider and a full resync is required.
var ErrCursorReset = errors.New("sync: change cursor rejected, resync required")

// Constants for the remote observer (satisfy mnd linter).
const (
	maxObserverPages = 10000
	maxPathDepth     = 256
)

// inflightKey identifies an item within the scope of a single account so
// entries from the current change batch can be looked up while materializing
// paths for their children.
type inflightKey struct {
	accountID string
	itemID    string
}

// inflightParent tracks a non-root item seen in the current change batch,
// allowing children later in the same batch to materialize paths before
// the baseline is updated.
type inflightParent struct {
	name     string
	parentID string
	isRoot   bool
}

// RemoteObserver transforms a provider's change feed into []ChangeEvent. It
// handles pagination, path materialization, change classification, and NFC
// name normalization, independent of which backend produced the feed.
type RemoteObserver struct {
	client    provider.Provider
	baseline  *Baseline
	accountID driveid.ID
	logger    *slog.Logger
}

// NewRemoteObserver creates a RemoteObserver for the given account. The
// baseline must be a loaded Baseline (from BaselineManager.Load); it is
// read-only during observation.
func NewRemoteObserver(client provider.Provider, baseline *Baseline, accountID driveid.ID, logger *slog.Logger) *RemoteObserver {
	return &RemoteObserver{
		client:    client,
		baseline:  baseline,
		accountID: accountID,
		logger:    logger,
	}
}

// FullDelta fetches all change pages and returns the accumulated change
// events plus the new cursor for the next sync cycle.
func (o *RemoteObserver) FullDelta(ctx context.Context, savedCursor string) ([]ChangeEvent, string, error) {
	o.logger.Info("remote observer starting change enumeration",
		slog.String("account_id", o.accountID.String()),
		slog.Bool("has_cursor", savedCursor != ""),
	)

	var events []ChangeEvent
	inflight := make(map[inflightKey]inflightParent)
	cursor := savedCursor

	for page := 0; page < maxObserverPages; page++ {
		pageEvents, newCursor, done, err := o.fetchPage(ctx, cursor, page, inflight)
		if err != nil {
			return nil, "", err
		}

		events = append(events, pageEvents...)

		if done {
			o.logger.Info("remote observer completed change enumeration",
				slog.Int("pages", page+1),
				slog.Int("events", len(events)),
			)

			return events, newCursor, nil
		}

		cursor = newCursor
	}

	return nil, "", fmt.Errorf("sync: exceeded maximum page count (%d)", maxObserverPages)
}

// fetchPage fetches a single change page, processes items, and returns
// events. Returns done=true with the next cursor once HasMore is false.
func (o *RemoteObserver) fetchPage(
	ctx context.Context, cursor string, page int, inflight map[inflightKey]inflightParent,
) ([]ChangeEvent, string, bool, error) {
	cp, err := o.client.GetChanges(ctx, cursor)
	if err != nil {
		return nil, "", false, fmt.Errorf("sync: fetching change page %d: %w", page, err)
	}

	if cp.Reset {
		return nil, "", false, ErrCursorReset
	}

	var events []ChangeEvent
	for i := range cp.Files {
		if ev := o.processItem(&cp.Files[i], inflight); ev != nil {
			events = append(events, *ev)
		}
	}

	return events, cp.Cursor, !cp.HasMore, nil
}

// processItem converts a single provider.File into a ChangeEvent,
// registering it in the inflight parent map for path materialization.
// Returns nil for root items (structural, not content changes).
func (o *RemoteObserver) processItem(item *provider.File, inflight map[inflightKey]inflightParent) *ChangeEvent {
	isRoot := item.ParentID == "" && item.Type == provider.FileTypeFolder

	key := inflightKey{accountID: o.accountID.String(), itemID: item.ID}
	inflight[key] = inflightParent{
		name:     nfcNormalize(item.Name),
		parentID: item.ParentID,
		isRoot:   isRoot,
	}

	if isRoot {
		o.logger.Debug("skipping root item", slog.String("item_id", item.ID))

		return nil
	}

	return o.classifyAndConvert(item, inflight)
}

// classifyAndConvert classifies the change type and builds a ChangeEvent.
func (o *RemoteObserver) classifyAndConvert(item *provider.File, inflight map[inflightKey]inflightParent) *ChangeEvent {
	name := nfcNormalize(item.Name)
	existing, _ := o.baseline.GetByID(driveid.NewItemKey(o.accountID, item.ID))

	ev := ChangeEvent{
		Source:    SourceRemote,
		ItemID:    item.ID,
		ParentID:  item.ParentID,
		DriveID:   o.accountID,
		ItemType:  classifyItemType(item),
		Name:      name,
		Size:      item.Size,
		Hash:      item.ContentHash,
		Mtime:     toUnixNano(item.ModifiedTime),
		ETag:      item.ContentHash,
		IsDeleted: item.Deleted,
	}

	switch {
	case item.Deleted:
		ev.Type = ChangeDelete

		if ev.Name == "" && existing != nil {
			ev.Name = path.Base(existing.Path)
		}

		if existing != nil {
			ev.Path = existing.Path
		}

	case existing != nil:
		ev.Path = o.materializePath(item, inflight)
		if ev.Path != existing.Path {
			ev.Type = ChangeMove
			ev.OldPath = existing.Path
		} else {
			ev.Type = ChangeModify
		}

	default:
		ev.Type = ChangeCreate
		ev.Path = o.materializePath(item, inflight)
	}

	return &ev
}

// materializePath builds the full relative path by walking the parent
// chain. It checks the inflight map first (for items in the current change
// batch), then the baseline. Stops at the account root or when a baseline
// entry provides a shortcut.
func (o *RemoteObserver) materializePath(item *provider.File, inflight map[inflightKey]inflightParent) string {
	segments := []string{nfcNormalize(item.Name)}
	parentID := item.ParentID

	for depth := 0; depth < maxPathDepth; depth++ {
		if parentID == "" {
			break
		}

		parentKey := inflightKey{accountID: o.accountID.String(), itemID: parentID}

		if p, ok := inflight[parentKey]; ok {
			if p.isRoot {
				break
			}

			segments = append(segments, p.name)
			parentID = p.parentID

			continue
		}

		if entry, ok := o.baseline.GetByID(driveid.NewItemKey(o.accountID, parentID)); ok && entry.Path != "" {
			slices.Reverse(segments)

			return entry.Path + "/" + strings.Join(segments, "/")
		}

		o.logger.Warn("orphaned item: parent not found in inflight or baseline",
			slog.String("item_id", item.ID),
			slog.String("parent_id", parentID),
		)

		break
	}

	slices.Reverse(segments)

	return strings.Join(segments, "/")
}

// ---------------------------------------------------------------------------
// Pure helper functions
// ---------------------------------------------------------------------------

// classifyItemType determines the ItemType from a provider.File.
func classifyItemType(item *provider.File) ItemType {
	if item.Type == provider.FileTypeFolder {
		return ItemTypeFolder
	}

	return ItemTypeFile
}

// toUnixNano converts a time.Time to Unix nanoseconds. Returns 0 for
// the zero time value.
func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// nfcNormalize applies Unicode NFC normalization to a string. Applied to
// each name segment individually, not to joined paths.
func nfcNormalize(s string) string {
	return norm.NFC.String(s)
}
