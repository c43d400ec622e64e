package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudsync-oss/cloudsync/internal/config"
	"github.com/cloudsync-oss/cloudsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var flagDownloadOnly, flagUploadOnly, flagDryRun, flagForce, flagWatch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize files with configured cloud drives",
		Long: `Run a sync cycle between the local directory and each configured drive.

By default, sync is bidirectional and runs one cycle against every configured
(non-paused) drive, or a single drive when --drive/--account is given. Use
--download-only or --upload-only for one-way sync. Use --dry-run to preview
what would happen without making changes. Use --watch to run continuously,
syncing again whenever the local tree settles after a change or the poll
interval elapses.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagDownloadOnly, flagUploadOnly, flagDryRun, flagForce, flagWatch)
		},
	}

	cmd.Flags().BoolVar(&flagDownloadOnly, "download-only", false, "only download remote changes")
	cmd.Flags().BoolVar(&flagUploadOnly, "upload-only", false, "only upload local changes")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "preview sync actions without executing")
	cmd.Flags().BoolVar(&flagForce, "force", false, "override big-delete safety threshold")
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "run continuously instead of a single cycle")

	cmd.MarkFlagsMutuallyExclusive("download-only", "upload-only")

	return cmd
}

func runSync(cmd *cobra.Command, downloadOnly, uploadOnly, dryRun, force, watch bool) error {
	cc := mustCLIContext(cmd.Context())

	mode := sync.SyncBidirectional
	if downloadOnly {
		mode = sync.SyncDownloadOnly
	}

	if uploadOnly {
		mode = sync.SyncUploadOnly
	}

	cfgPath := resolveLoginConfigPath(cc.Flags.ConfigPath)

	cfg, err := config.LoadOrDefault(cfgPath, cc.Logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var selectors []string
	if sel := cc.Flags.SingleDrive(); sel != "" {
		selectors = []string{sel}
	}

	drives, err := config.ResolveDrives(cfg, selectors, false, cc.Logger)
	if err != nil {
		return fmt.Errorf("resolving drives: %w", err)
	}

	if len(drives) == 0 {
		fmt.Println("No drives configured. Run 'cloudsync drive add' to add a drive.")
		return nil
	}

	orch := sync.NewOrchestrator(&sync.OrchestratorConfig{
		Config:       cfg,
		Drives:       drives,
		ConfigPath:   cfgPath,
		MetaHTTP:     defaultHTTPClient(),
		TransferHTTP: transferHTTPClient(),
		UserAgent:    "cloudsync/" + version,
		Logger:       cc.Logger,
	})

	if watch {
		cc.Logger.Info("sync: entering watch mode", "drives", len(drives), "mode", mode)
		return orch.RunWatch(cmd.Context(), mode, sync.WatchOpts{DryRun: dryRun, Force: force})
	}

	reports := orch.RunOnce(cmd.Context(), mode, sync.RunOpts{DryRun: dryRun, Force: force})

	if cc.Flags.JSON {
		if err := printSyncJSON(reports); err != nil {
			return err
		}
	} else {
		printDriveReports(reports, cc.Flags.Quiet)
	}

	return driveReportsError(reports)
}

// driveReportsError summarizes per-drive outcomes into a single error, or nil
// if every drive succeeded. A drive with a non-nil Err failed outright; a
// drive with a report but nonzero Failed action count still counts as a
// problem worth surfacing but does not fail the overall command.
func driveReportsError(reports []*sync.DriveReport) error {
	var failed int

	var first error

	for _, r := range reports {
		if r.Err != nil {
			failed++

			if first == nil {
				first = r.Err
			}
		}
	}

	switch {
	case failed == 0:
		return nil
	case len(reports) == 1:
		return first
	default:
		return fmt.Errorf("%d of %d drives failed: %w", failed, len(reports), first)
	}
}

// printDriveReports renders one or more drive sync outcomes as text. A
// single-drive run omits the per-drive header since there's nothing to
// disambiguate.
func printDriveReports(reports []*sync.DriveReport, quiet bool) {
	multi := len(reports) > 1

	for i, r := range reports {
		if i > 0 {
			fmt.Println()
		}

		if multi {
			label := r.DisplayName
			if label == "" {
				label = r.CanonicalID.String()
			}

			fmt.Printf("%s:\n", label)
		}

		if r.Err != nil {
			statusf(quiet, "  error: %v\n", r.Err)
			continue
		}

		printDriveReportText(r.Report, quiet)
	}
}

func printDriveReportText(report *sync.SyncReport, quiet bool) {
	durationMs := report.Duration.Milliseconds()

	if report.DryRun {
		if totalChanges(report) == 0 && report.Conflicts == 0 {
			statusf(quiet, "  dry run complete (%dms) - already in sync\n", durationMs)
			return
		}

		statusf(quiet, "  dry run - no changes made (%dms)\n", durationMs)
		printSyncCountsText(report, quiet)

		return
	}

	if totalChanges(report) == 0 && report.Conflicts == 0 && len(report.Errors) == 0 {
		statusf(quiet, "  already in sync\n")
		return
	}

	statusf(quiet, "  sync complete (%s, %dms)\n", report.Mode, durationMs)
	printSyncCountsText(report, quiet)
}

func totalChanges(report *sync.SyncReport) int {
	return report.FolderCreates + report.Moves + report.Downloads + report.Uploads +
		report.LocalDeletes + report.RemoteDeletes + report.SyncedUpdates + report.Cleanups
}

func printSyncCountsText(report *sync.SyncReport, quiet bool) {
	if report.FolderCreates > 0 {
		statusf(quiet, "    folders created: %d\n", report.FolderCreates)
	}

	if report.Downloads > 0 {
		statusf(quiet, "    downloaded:      %d\n", report.Downloads)
	}

	if report.Uploads > 0 {
		statusf(quiet, "    uploaded:        %d\n", report.Uploads)
	}

	if report.Moves > 0 {
		statusf(quiet, "    moved:           %d\n", report.Moves)
	}

	if report.LocalDeletes > 0 || report.RemoteDeletes > 0 {
		statusf(quiet, "    deleted:         %d local, %d remote\n", report.LocalDeletes, report.RemoteDeletes)
	}

	if report.Conflicts > 0 {
		statusf(quiet, "    conflicts:       %d\n", report.Conflicts)
	}

	if len(report.Errors) > 0 {
		statusf(quiet, "    errors:          %d\n", len(report.Errors))
	}
}

// syncJSONOutput is the JSON output schema for one drive's sync report.
type syncJSONOutput struct {
	Drive         string   `json:"drive"`
	Error         string   `json:"error,omitempty"`
	Mode          string   `json:"mode,omitempty"`
	DryRun        bool     `json:"dry_run"`
	DurationMs    int64    `json:"duration_ms"`
	FolderCreates int      `json:"folder_creates"`
	Downloads     int      `json:"downloads"`
	Uploads       int      `json:"uploads"`
	Moves         int      `json:"moves"`
	LocalDeletes  int      `json:"local_deletes"`
	RemoteDeletes int      `json:"remote_deletes"`
	Conflicts     int      `json:"conflicts"`
	Errors        []string `json:"errors,omitempty"`
}

func printSyncJSON(reports []*sync.DriveReport) error {
	out := make([]syncJSONOutput, len(reports))

	for i, r := range reports {
		label := r.DisplayName
		if label == "" {
			label = r.CanonicalID.String()
		}

		if r.Err != nil {
			out[i] = syncJSONOutput{Drive: label, Error: r.Err.Error()}
			continue
		}

		errs := make([]string, 0, len(r.Report.Errors))
		for _, e := range r.Report.Errors {
			errs = append(errs, e.Error())
		}

		out[i] = syncJSONOutput{
			Drive:         label,
			Mode:          r.Report.Mode.String(),
			DryRun:        r.Report.DryRun,
			DurationMs:    r.Report.Duration.Milliseconds(),
			FolderCreates: r.Report.FolderCreates,
			Downloads:     r.Report.Downloads,
			Uploads:       r.Report.Uploads,
			Moves:         r.Report.Moves,
			LocalDeletes:  r.Report.LocalDeletes,
			RemoteDeletes: r.Report.RemoteDeletes,
			Conflicts:     r.Report.Conflicts,
			Errors:        errs,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}
