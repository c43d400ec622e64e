package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/cloudsync-oss/cloudsync/internal/driveid"
)

// RowStatus is the lifecycle state of a single baseline row, tracked
// independently of the in-memory Baseline cache used for planning.
type RowStatus string

// Row statuses, mirroring the lifecycle of a tracked path.
const (
	StatusSynced          RowStatus = "synced"
	StatusPendingUpload   RowStatus = "pending_upload"
	StatusPendingDownload RowStatus = "pending_download"
	StatusSyncing         RowStatus = "syncing"
	StatusConflict        RowStatus = "conflict"
	StatusError           RowStatus = "error"
	StatusIgnored         RowStatus = "ignored"
)

// SyncStateRow is a single row of the sync-state store, exposed to store
// consumers that need per-path status tracking beyond what the in-memory
// Baseline cache provides for planning.
type SyncStateRow struct {
	Path       string
	DriveID    driveid.ID
	ItemID     string
	LocalHash  string
	RemoteHash string
	Mtime      int64
	Status     RowStatus
	Version    int64
	Tombstone  bool
	SyncedAt   int64
}

// StoreStats summarizes row counts across all tracked paths.
type StoreStats struct {
	Total      int
	Synced     int
	Pending    int
	Conflict   int
	Error      int
	TotalBytes int64
}

const (
	sqlGetByLocalPath = `SELECT path, drive_id, item_id, local_hash, remote_hash,
		mtime, status, version, tombstone, synced_at
		FROM baseline WHERE path = ? AND tombstone = 0`

	sqlGetByRemoteID = `SELECT path, drive_id, item_id, local_hash, remote_hash,
		mtime, status, version, tombstone, synced_at
		FROM baseline WHERE drive_id = ? AND item_id = ? AND tombstone = 0`

	sqlListAllRows = `SELECT path, drive_id, item_id, local_hash, remote_hash,
		mtime, status, version, tombstone, synced_at
		FROM baseline WHERE tombstone = 0 ORDER BY path`

	sqlListByStatus = `SELECT path, drive_id, item_id, local_hash, remote_hash,
		mtime, status, version, tombstone, synced_at
		FROM baseline WHERE drive_id = ? AND status = ? AND tombstone = 0 ORDER BY path`

	sqlUpdateStatus = `UPDATE baseline
		SET status = ?, version = version + 1
		WHERE path = ? AND tombstone = 0`

	sqlMarkTombstone = `UPDATE baseline
		SET tombstone = 1, status = 'synced', version = version + 1
		WHERE path = ?`

	sqlRenamePath = `UPDATE baseline
		SET path = ?, version = version + 1
		WHERE path = ? AND tombstone = 0`

	sqlStatsTotals = `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'synced' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status IN ('pending_upload', 'pending_download', 'syncing') THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'conflict' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(size), 0)
		FROM baseline WHERE tombstone = 0`
)

// GetByLocalPath returns the sync-state row for path, or nil if untracked.
func (m *BaselineManager) GetByLocalPath(ctx context.Context, path string) (*SyncStateRow, error) {
	row := m.db.QueryRowContext(ctx, sqlGetByLocalPath, path)
	return scanStateRow(row)
}

// GetByRemoteID returns the sync-state row matching a provider's drive and
// item identity, or nil if untracked.
func (m *BaselineManager) GetByRemoteID(ctx context.Context, drive driveid.ID, itemID string) (*SyncStateRow, error) {
	row := m.db.QueryRowContext(ctx, sqlGetByRemoteID, drive.String(), itemID)
	return scanStateRow(row)
}

// ListAllRows returns every non-tombstoned row, ordered by path.
func (m *BaselineManager) ListAllRows(ctx context.Context) ([]SyncStateRow, error) {
	return m.queryStateRows(ctx, sqlListAllRows)
}

// ListPendingUploads returns rows awaiting an upload for the given drive.
func (m *BaselineManager) ListPendingUploads(ctx context.Context, drive driveid.ID) ([]SyncStateRow, error) {
	return m.queryStateRows(ctx, sqlListByStatus, drive.String(), string(StatusPendingUpload))
}

// ListPendingDownloads returns rows awaiting a download for the given drive.
func (m *BaselineManager) ListPendingDownloads(ctx context.Context, drive driveid.ID) ([]SyncStateRow, error) {
	return m.queryStateRows(ctx, sqlListByStatus, drive.String(), string(StatusPendingDownload))
}

// UpdateStatus transitions a row's status, bumping its version. A no-op
// (zero rows affected) is not an error — the row may have been tombstoned
// or renamed concurrently.
func (m *BaselineManager) UpdateStatus(ctx context.Context, path string, status RowStatus) error {
	_, err := m.db.ExecContext(ctx, sqlUpdateStatus, string(status), path)
	if err != nil {
		return fmt.Errorf("sync: updating status for %s: %w", path, err)
	}

	m.logger.Debug("row status updated", slog.String("path", path), slog.String("status", string(status)))

	return nil
}

// MarkTombstone soft-deletes a row: it stays in the table for audit and
// retry purposes but drops out of every tombstone=0 query.
func (m *BaselineManager) MarkTombstone(ctx context.Context, path string) error {
	_, err := m.db.ExecContext(ctx, sqlMarkTombstone, path)
	if err != nil {
		return fmt.Errorf("sync: marking tombstone for %s: %w", path, err)
	}

	if m.baseline != nil {
		m.baseline.Delete(path)
	}

	return nil
}

// RenamePath moves a row from oldPath to newPath in place, preserving its
// status, version counter (incremented), and identity.
func (m *BaselineManager) RenamePath(ctx context.Context, oldPath, newPath string) error {
	_, err := m.db.ExecContext(ctx, sqlRenamePath, newPath, oldPath)
	if err != nil {
		return fmt.Errorf("sync: renaming %s to %s: %w", oldPath, newPath, err)
	}

	if m.baseline == nil {
		return nil
	}

	if entry, ok := m.baseline.GetByPath(oldPath); ok {
		renamed := *entry
		renamed.Path = newPath
		m.baseline.Delete(oldPath)
		m.baseline.Put(&renamed)
	}

	return nil
}

// GetCursor returns the saved delta cursor for a provider, or empty string
// if none has been saved yet. Alias over GetDeltaToken matching the
// store-operation naming used elsewhere in the codebase.
func (m *BaselineManager) GetCursor(ctx context.Context, driveID string) (string, error) {
	return m.GetDeltaToken(ctx, driveID)
}

// SetCursor persists a provider's delta cursor in its own transaction.
func (m *BaselineManager) SetCursor(ctx context.Context, driveID, cursor string) error {
	return m.CommitDeltaToken(ctx, cursor, driveID)
}

// Stats aggregates row counts and total tracked bytes across all
// non-tombstoned rows.
func (m *BaselineManager) Stats(ctx context.Context) (StoreStats, error) {
	var s StoreStats

	row := m.db.QueryRowContext(ctx, sqlStatsTotals)

	err := row.Scan(&s.Total, &s.Synced, &s.Pending, &s.Conflict, &s.Error, &s.TotalBytes)
	if err != nil {
		return StoreStats{}, fmt.Errorf("sync: computing store stats: %w", err)
	}

	return s, nil
}

func (m *BaselineManager) queryStateRows(ctx context.Context, query string, args ...any) ([]SyncStateRow, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sync: querying sync-state rows: %w", err)
	}
	defer rows.Close()

	var out []SyncStateRow

	for rows.Next() {
		r, err := scanStateRowMulti(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating sync-state rows: %w", err)
	}

	return out, nil
}

// stateRowScanner abstracts *sql.Row / *sql.Rows, mirroring conflictScanner.
type stateRowScanner interface {
	Scan(dest ...any) error
}

func scanStateRowFields(s stateRowScanner) (*SyncStateRow, error) {
	var (
		r          SyncStateRow
		driveID    string
		localHash  sql.NullString
		remoteHash sql.NullString
		mtime      sql.NullInt64
		tombstone  int
	)

	err := s.Scan(
		&r.Path, &driveID, &r.ItemID, &localHash, &remoteHash,
		&mtime, &r.Status, &r.Version, &tombstone, &r.SyncedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	r.DriveID = driveid.New(driveID)
	r.LocalHash = localHash.String
	r.RemoteHash = remoteHash.String
	r.Tombstone = tombstone != 0

	if mtime.Valid {
		r.Mtime = mtime.Int64
	}

	return &r, nil
}

func scanStateRow(row *sql.Row) (*SyncStateRow, error) {
	r, err := scanStateRowFields(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // absence is a valid, expected result here
	}

	if err != nil {
		return nil, fmt.Errorf("sync: scanning sync-state row: %w", err)
	}

	return r, nil
}

func scanStateRowMulti(rows *sql.Rows) (*SyncStateRow, error) {
	r, err := scanStateRowFields(rows)
	if err != nil {
		return nil, fmt.Errorf("sync: scanning sync-state row: %w", err)
	}

	return r, nil
}
