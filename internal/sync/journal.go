package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ActivityEvent is an immutable record of one user-visible sync action.
// Written once via Journal.Append and never mutated afterward.
type ActivityEvent struct {
	ID          string
	CreatedAt   time.Time
	Kind        ActivityKind
	Path        string
	DisplayName string
	Provider    string
	ByteCount   int64 // 0 when not applicable
	ErrorText   string
}

// ActivityKind classifies an ActivityEvent.
type ActivityKind string

// Activity kinds recorded in the journal.
const (
	ActivityUpload           ActivityKind = "upload"
	ActivityDownload         ActivityKind = "download"
	ActivityDelete           ActivityKind = "delete"
	ActivityMove             ActivityKind = "move"
	ActivityRename           ActivityKind = "rename"
	ActivityConflictResolved ActivityKind = "conflict-resolved"
	ActivityError            ActivityKind = "error"
)

const (
	sqlJournalAppend = `INSERT INTO activity_log
		(id, created_at, kind, path, display_name, provider, byte_count, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlJournalRecent = `SELECT id, created_at, kind, path, display_name, provider,
		byte_count, error_text
		FROM activity_log ORDER BY created_at DESC LIMIT ?`

	sqlJournalForDate = `SELECT id, created_at, kind, path, display_name, provider,
		byte_count, error_text
		FROM activity_log
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC`

	sqlJournalPurge = `DELETE FROM activity_log WHERE created_at < ?`
)

// Journal is an append-only log of ActivityEvents, read by UI collaborators
// but never consulted by the engine for sync decisions — those always come
// from the sync-state store. Shares its *sql.DB with BaselineManager
// (sole-writer pattern via SetMaxOpenConns(1)).
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewJournal creates a Journal backed by the given database connection.
func NewJournal(db *sql.DB, logger *slog.Logger) *Journal {
	return &Journal{db: db, logger: logger, nowFunc: time.Now}
}

// Append records a new event. Assigns a UUID and timestamp if not already
// set, so callers can construct an ActivityEvent without touching either
// field. Non-blocking with respect to the engine's own decision-making: the
// engine never reads back what it just appended here.
func (j *Journal) Append(ctx context.Context, event ActivityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = j.nowFunc()
	}

	_, err := j.db.ExecContext(ctx, sqlJournalAppend,
		event.ID, event.CreatedAt.UnixNano(), string(event.Kind), event.Path,
		event.DisplayName, event.Provider, nullInt64(event.ByteCount), nullString(event.ErrorText),
	)
	if err != nil {
		return fmt.Errorf("sync: appending journal event: %w", err)
	}

	j.logger.Debug("journal event appended",
		slog.String("kind", string(event.Kind)),
		slog.String("path", event.Path),
	)

	return nil
}

// Recent returns the newest limit events, newest-first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]ActivityEvent, error) {
	rows, err := j.db.QueryContext(ctx, sqlJournalRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("sync: querying recent journal events: %w", err)
	}
	defer rows.Close()

	return scanJournalRows(rows)
}

// ForDate returns every event whose local date matches day (YYYY-MM-DD in
// local time), newest-first.
func (j *Journal) ForDate(ctx context.Context, day string) ([]ActivityEvent, error) {
	start, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return nil, fmt.Errorf("sync: parsing journal date %q: %w", day, err)
	}

	end := start.Add(24 * time.Hour)

	rows, err := j.db.QueryContext(ctx, sqlJournalForDate, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("sync: querying journal events for %s: %w", day, err)
	}
	defer rows.Close()

	return scanJournalRows(rows)
}

// PurgeOlderThan deletes every event older than days and returns the number
// of rows removed.
func (j *Journal) PurgeOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := j.nowFunc().Add(-time.Duration(days) * 24 * time.Hour)

	result, err := j.db.ExecContext(ctx, sqlJournalPurge, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sync: purging journal events older than %d days: %w", days, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sync: counting purged journal events: %w", err)
	}

	j.logger.Info("journal purged", slog.Int("days", days), slog.Int64("purged_count", n))

	return int(n), nil
}

func scanJournalRows(rows *sql.Rows) ([]ActivityEvent, error) {
	var out []ActivityEvent

	for rows.Next() {
		var (
			e          ActivityEvent
			createdAt  int64
			kind       string
			byteCount  sql.NullInt64
			errorText  sql.NullString
		)

		if err := rows.Scan(&e.ID, &createdAt, &kind, &e.Path, &e.DisplayName,
			&e.Provider, &byteCount, &errorText); err != nil {
			return nil, fmt.Errorf("sync: scanning journal row: %w", err)
		}

		e.CreatedAt = time.Unix(0, createdAt)
		e.Kind = ActivityKind(kind)
		e.ByteCount = byteCount.Int64
		e.ErrorText = errorText.String

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating journal rows: %w", err)
	}

	return out, nil
}
