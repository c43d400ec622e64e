// Package sync implements the bidirectional sync engine for cloudsync.
// It provides baseline state management, change observation, planning,
// execution, filtering, and conflict handling — the full sync pipeline.
package sync

import (
	"fmt"
	"time"

	"github.com/cloudsync-oss/cloudsync/internal/config"
	"github.com/cloudsync-oss/cloudsync/internal/driveid"
)

// ChangeSource identifies which observer produced a ChangeEvent.
type ChangeSource int

// Change sources.
const (
	SourceLocal ChangeSource = iota
	SourceRemote
)

// String implements fmt.Stringer for logging.
func (s ChangeSource) String() string {
	if s == SourceRemote {
		return "remote"
	}

	return "local"
}

// ChangeType classifies the kind of change a ChangeEvent reports.
type ChangeType int

// Change types produced by the local and remote observers.
const (
	ChangeCreate ChangeType = iota
	ChangeModify
	ChangeDelete
	ChangeMove
)

// String implements fmt.Stringer for logging.
func (t ChangeType) String() string {
	switch t {
	case ChangeCreate:
		return "create"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	case ChangeMove:
		return "move"
	default:
		return "unknown"
	}
}

// ChangeEvent is a single observed change, emitted by either the local
// filesystem observer or the remote change-feed observer and consumed by
// Buffer and the planner.
type ChangeEvent struct {
	Source    ChangeSource
	Type      ChangeType
	DriveID   driveid.ID
	ItemID    string
	ParentID  string
	Path      string // materialized relative path
	OldPath   string // previous path, set only for ChangeMove
	Name      string
	ItemType  ItemType
	Size      int64
	Hash      string
	Mtime     int64 // Unix nanoseconds
	ETag      string
	CTag      string
	IsDeleted bool
}

// ItemType represents the kind of drive item.
type ItemType string

// Item types as stored in the database item_type column.
const (
	ItemTypeFile   ItemType = "file"
	ItemTypeFolder ItemType = "folder"
	ItemTypeRoot   ItemType = "root"
)

// String implements fmt.Stringer for logging and DB encoding.
func (t ItemType) String() string {
	if t == "" {
		return "unknown"
	}

	return string(t)
}

// ParseItemType converts a database item_type column value back to an
// ItemType, rejecting values outside the known set.
func ParseItemType(s string) (ItemType, error) {
	switch ItemType(s) {
	case ItemTypeFile, ItemTypeFolder, ItemTypeRoot:
		return ItemType(s), nil
	default:
		return "", fmt.Errorf("sync: unknown item type %q", s)
	}
}

// RemoteState is the provider-side view of a path, derived from the most
// recent remote ChangeEvent observed for it in the current cycle.
type RemoteState struct {
	ItemID    string
	DriveID   driveid.ID
	ParentID  string
	Name      string
	ItemType  ItemType
	Size      int64
	Hash      string
	Mtime     int64
	ETag      string
	CTag      string
	IsDeleted bool
}

// LocalState is the filesystem-side view of a path, derived from the most
// recent local ChangeEvent, or from the baseline when the path was not
// touched locally this cycle.
type LocalState struct {
	Name     string
	ItemType ItemType
	Size     int64
	Hash     string
	Mtime    int64
}

// PathView is the three-way merge input for a single path: what the
// remote side reports, what the local filesystem reports, and what was
// recorded as of the last successful sync (Baseline). The planner
// classifies each PathView into zero or more Actions.
type PathView struct {
	Path     string
	Remote   *RemoteState
	Local    *LocalState
	Baseline *BaselineEntry
}

// BaselineEntry is a single row of the synced-state snapshot: the state
// of a path as of its last successful sync.
type BaselineEntry struct {
	Path       string
	DriveID    driveid.ID
	ItemID     string
	ParentID   string
	ItemType   ItemType
	LocalHash  string
	RemoteHash string
	Size       int64
	Mtime      int64
	SyncedAt   int64
	ETag       string
}

// Baseline is the in-memory index of BaselineEntry rows, keyed both by
// materialized path and by (drive, item) identity for O(1) lookups from
// either direction.
type Baseline struct {
	ByPath map[string]*BaselineEntry
	ByID   map[driveid.ItemKey]*BaselineEntry
}

// Len returns the number of tracked entries.
func (b *Baseline) Len() int {
	return len(b.ByPath)
}

// GetByPath looks up an entry by its materialized relative path.
func (b *Baseline) GetByPath(path string) (*BaselineEntry, bool) {
	e, ok := b.ByPath[path]
	return e, ok
}

// GetByID looks up an entry by its (drive, item) identity.
func (b *Baseline) GetByID(key driveid.ItemKey) (*BaselineEntry, bool) {
	e, ok := b.ByID[key]
	return e, ok
}

// ForEachPath calls fn for every tracked entry, in no particular order.
func (b *Baseline) ForEachPath(fn func(entry *BaselineEntry)) {
	for _, e := range b.ByPath {
		fn(e)
	}
}

// Put inserts or replaces an entry, keeping ByPath and ByID consistent.
func (b *Baseline) Put(entry *BaselineEntry) {
	if old, ok := b.ByPath[entry.Path]; ok && !old.DriveID.Equal(entry.DriveID) {
		delete(b.ByID, driveid.NewItemKey(old.DriveID, old.ItemID))
	}

	b.ByPath[entry.Path] = entry
	b.ByID[driveid.NewItemKey(entry.DriveID, entry.ItemID)] = entry
}

// Delete removes the entry at path, if any.
func (b *Baseline) Delete(path string) {
	entry, ok := b.ByPath[path]
	if !ok {
		return
	}

	delete(b.ByPath, path)
	delete(b.ByID, driveid.NewItemKey(entry.DriveID, entry.ItemID))
}

// ConflictResolution describes how a conflict was, or should be, resolved.
type ConflictResolution string

// Conflict resolution strategies as stored in the conflicts table.
const (
	ResolutionUnresolved ConflictResolution = "unresolved"
	ResolutionKeepBoth   ConflictResolution = "keep_both"
	ResolutionKeepLocal  ConflictResolution = "keep_local"
	ResolutionKeepRemote ConflictResolution = "keep_remote"
	ResolutionManual     ConflictResolution = "manual"
)

// Conflict type tags as stored in the conflicts table and on Action/Outcome.
const (
	ConflictEditEdit     = "edit_edit"
	ConflictEditDelete   = "edit_delete"
	ConflictCreateCreate = "create_create"
)

// Values for the resolved_by column. Plain strings rather than a distinct
// type: Outcome.ResolvedBy and ConflictRecord.ResolvedBy are compared and
// assigned against these directly throughout the executor and baseline.
const (
	ResolvedByUser = "user"
	ResolvedByAuto = "auto"
)

// ConflictRecord represents a file conflict entry in the conflict ledger.
type ConflictRecord struct {
	ID           string
	DriveID      driveid.ID
	ItemID       string
	Path         string // file path at time of conflict detection
	ConflictType string
	DetectedAt   int64 // Unix nanoseconds
	LocalHash    string
	RemoteHash   string
	LocalMtime   int64
	RemoteMtime  int64
	Resolution   ConflictResolution
	ResolvedAt   int64
	ResolvedBy   string
}

// ActionType represents the kind of sync action to perform.
type ActionType int

// Action types produced by the planner.
const (
	ActionDownload     ActionType = iota // Pull remote file to local
	ActionUpload                         // Push local file to remote
	ActionLocalDelete                    // Delete local file/folder
	ActionRemoteDelete                   // Delete remote file/folder
	ActionLocalMove                      // Rename/move local file/folder
	ActionRemoteMove                     // Rename/move remote file/folder
	ActionFolderCreate                   // Create folder (local or remote)
	ActionConflict                       // Record and resolve conflict
	ActionUpdateSynced                   // Update synced base (false conflict)
	ActionCleanup                        // Remove stale baseline record
)

// String implements fmt.Stringer and is the canonical encoding stored in
// the action_queue.action_type column; ParseActionType reverses it.
func (t ActionType) String() string {
	switch t {
	case ActionDownload:
		return "download"
	case ActionUpload:
		return "upload"
	case ActionLocalDelete:
		return "local_delete"
	case ActionRemoteDelete:
		return "remote_delete"
	case ActionLocalMove:
		return "local_move"
	case ActionRemoteMove:
		return "remote_move"
	case ActionFolderCreate:
		return "folder_create"
	case ActionConflict:
		return "conflict"
	case ActionUpdateSynced:
		return "update_synced"
	case ActionCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// FolderCreateSide indicates whether a folder should be created locally or remotely.
type FolderCreateSide int

// Folder creation sides.
const (
	CreateLocal  FolderCreateSide = iota + 1 // Create folder on local filesystem
	CreateRemote                             // Create folder via the provider
)

// String implements fmt.Stringer for logging.
func (s FolderCreateSide) String() string {
	switch s {
	case CreateLocal:
		return "local"
	case CreateRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// SyncMode controls which sides of the sync are active.
type SyncMode int

// Sync direction modes.
const (
	SyncBidirectional SyncMode = iota
	SyncDownloadOnly
	SyncUploadOnly
)

// String implements fmt.Stringer for logging.
func (m SyncMode) String() string {
	switch m {
	case SyncBidirectional:
		return "bidirectional"
	case SyncDownloadOnly:
		return "download_only"
	case SyncUploadOnly:
		return "upload_only"
	default:
		return "unknown"
	}
}

// Action represents a single planned operation produced by the planner.
type Action struct {
	Type         ActionType
	DriveID      driveid.ID
	ItemID       string
	Path         string           // current path (source path for moves)
	OldPath      string           // unused by the planner; reserved
	NewPath      string           // destination path, set only for moves
	CreateSide   FolderCreateSide // only set for ActionFolderCreate
	View         *PathView        // three-way merge context this action was derived from
	ConflictInfo *ConflictRecord
}

// ActionPlan is the flat, dependency-ordered collection of actions produced
// by the planner for a single sync cycle. Deps[i] lists the indices into
// Actions that action i must wait on.
type ActionPlan struct {
	Actions []Action
	Deps    [][]int
	CycleID string
}

// Outcome reports the result of executing a single Action. It carries
// enough state for BaselineManager.CommitOutcome to update the baseline
// (or conflicts table) without consulting the original Action.
type Outcome struct {
	Action      ActionType
	Success     bool
	Path        string
	OldPath     string // set for move outcomes
	DriveID     driveid.ID
	ItemID      string
	ParentID    string
	ItemType    ItemType
	LocalHash   string
	RemoteHash  string
	Size        int64
	Mtime       int64
	RemoteMtime int64
	ETag        string

	ConflictType string
	ResolvedBy   string

	Error error
}

// FilterResult indicates whether an item should be synced and why.
type FilterResult struct {
	Included bool
	Reason   string // empty when included, explanation when excluded
}

// Filter determines whether a file or directory should be included in sync.
// It encapsulates the three-layer filter cascade (ignore rules, name
// validation, size limits).
type Filter interface {
	ShouldSync(path string, isDir bool, size int64) FilterResult
}

// --- Timestamp helpers ---
// All internal code uses int64 Unix nanoseconds exclusively. Conversion
// happens at system boundaries only.

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// ToUnixNano converts a time.Time to Unix nanoseconds.
// Returns 0 for the zero time.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// secondsPerNano is the divisor to truncate nanoseconds to seconds precision.
const secondsPerNano = int64(time.Second)

// TruncateToSeconds truncates a nanosecond timestamp to whole-second
// precision. Several providers do not store fractional seconds, so
// comparisons must use truncated values to avoid false positives from
// filesystem timestamp precision differences.
func TruncateToSeconds(ns int64) int64 {
	return (ns / secondsPerNano) * secondsPerNano
}

// Int64Ptr returns a pointer to the given int64 value.
// Used for nullable database columns.
func Int64Ptr(v int64) *int64 {
	return &v
}

// NewFilterConfig extracts the filter configuration needed by the filter
// engine from a resolved account configuration.
func NewFilterConfig(resolved *config.ResolvedDrive) config.FilterConfig {
	return resolved.FilterConfig
}

// NewSafetyConfig extracts the big-delete safety thresholds needed by the
// planner from a resolved account configuration. Returns a pointer because
// SafetyConfig is large enough to exceed gocritic's hugeParam threshold.
func NewSafetyConfig(resolved *config.ResolvedDrive) *SafetyConfig {
	c := resolved.SafetyConfig

	return &SafetyConfig{
		BigDeleteMinItems:   c.BigDeleteMinItems,
		BigDeleteMaxCount:   c.BigDeleteThreshold,
		BigDeleteMaxPercent: float64(c.BigDeletePercentage),
	}
}
