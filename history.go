package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudsync-oss/cloudsync/internal/sync"
)

// defaultHistoryLimit caps the number of events shown when --date is not
// given and no --limit override is set.
const defaultHistoryLimit = 50

func newHistoryCmd() *cobra.Command {
	var limit int
	var date string
	var purgeDays int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync activity",
		Long: `Display recently recorded sync activity: uploads, downloads, deletes,
moves, conflict resolutions, and errors.

By default shows the most recent events across all time. Use --date to
restrict to a single day (YYYY-MM-DD). Use --purge-older-than to delete
events older than the given number of days instead of listing anything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, limit, date, purgeDays)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "maximum number of events to show")
	cmd.Flags().StringVar(&date, "date", "", "restrict to a single day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&purgeDays, "purge-older-than", 0, "delete events older than this many days and exit")

	return cmd
}

func runHistory(cmd *cobra.Command, limit int, date string, purgeDays int) error {
	cc := mustCLIContext(cmd.Context())

	dbPath := cc.Cfg.StatePath()
	if dbPath == "" {
		return fmt.Errorf("cannot determine state DB path for drive %q", cc.Cfg.CanonicalID)
	}

	mgr, err := sync.NewBaselineManager(dbPath, cc.Logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	journal := sync.NewJournal(mgr.DB(), cc.Logger)
	ctx := cmd.Context()

	if purgeDays > 0 {
		purged, err := journal.PurgeOlderThan(ctx, purgeDays)
		if err != nil {
			return err
		}

		fmt.Printf("Purged %d event(s) older than %d days.\n", purged, purgeDays)

		return nil
	}

	var events []sync.ActivityEvent

	if date != "" {
		events, err = journal.ForDate(ctx, date)
	} else {
		events, err = journal.Recent(ctx, limit)
	}

	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No activity recorded.")
		return nil
	}

	if cc.Flags.JSON {
		return printHistoryJSON(events)
	}

	printHistoryTable(events)

	return nil
}

type historyEventJSON struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	Provider  string `json:"provider"`
	ByteCount int64  `json:"byte_count,omitempty"`
	Error     string `json:"error,omitempty"`
}

func printHistoryJSON(events []sync.ActivityEvent) error {
	items := make([]historyEventJSON, len(events))
	for i := range events {
		e := &events[i]
		items[i] = historyEventJSON{
			ID:        e.ID,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
			Kind:      string(e.Kind),
			Path:      e.Path,
			Provider:  e.Provider,
			ByteCount: e.ByteCount,
			Error:     e.ErrorText,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printHistoryTable(events []sync.ActivityEvent) {
	headers := []string{"WHEN", "KIND", "PATH", "PROVIDER"}
	rows := make([][]string, len(events))

	for i := range events {
		e := &events[i]
		rows[i] = []string{e.CreatedAt.Local().Format(time.RFC3339), string(e.Kind), e.Path, e.Provider}
	}

	printTable(os.Stdout, headers, rows)
}
