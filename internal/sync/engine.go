package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/cloudsync-oss/cloudsync/internal/driveid"
	"github.com/cloudsync-oss/cloudsync/internal/provider"
)

// forceSafetyMax is the maximum threshold used when --force is set,
// effectively disabling big-delete protection.
const forceSafetyMax = math.MaxInt32

// EngineConfig holds the options for NewEngine. Uses a struct because
// seven fields is too many for positional parameters.
type EngineConfig struct {
	DBPath   string            // path to the SQLite state database
	SyncRoot string            // absolute path to the local sync directory
	DriveID  driveid.ID        // normalized drive identifier
	Client   provider.Provider // backend handling metadata, transfers, and the change feed
	Logger   *slog.Logger
}

// RunOpts holds per-cycle options for RunOnce.
type RunOpts struct {
	DryRun bool
	Force  bool
}

// SyncReport summarizes the result of a single sync cycle.
type SyncReport struct {
	Mode     SyncMode
	DryRun   bool
	Duration time.Duration

	// Plan counts (always populated, even for dry-run).
	FolderCreates int
	Moves         int
	Downloads     int
	Uploads       int
	LocalDeletes  int
	RemoteDeletes int
	Conflicts     int
	SyncedUpdates int
	Cleanups      int

	// Execution results (zero for dry-run).
	Succeeded int
	Failed    int
	Errors    []error
}

// Engine orchestrates a complete sync cycle: observe → plan → execute → commit.
// Single-drive only; multi-drive orchestration is deferred to Phase 5.
type Engine struct {
	baseline *BaselineManager
	ledger   *Ledger
	journal  *Journal
	planner  *Planner
	execCfg  *ExecutorConfig
	client   provider.Provider
	syncRoot string
	driveID  driveid.ID
	logger   *slog.Logger

	// failures suppresses paths that fail repeatedly. Only populated in watch
	// mode; nil in one-shot RunOnce, where recordCycleResults is a no-op.
	failures *failureTracker

	// recovered tracks whether ledger recovery has run yet for this Engine's
	// lifetime. Recovery must run once before the first cycle, not on every
	// cycle of a long-lived watch-mode Engine.
	recovered bool
}

// NewEngine creates an Engine, initializing the BaselineManager (which opens
// the SQLite database and runs migrations). Returns an error if DB init fails.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	bm, err := NewBaselineManager(cfg.DBPath, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("sync: creating engine: %w", err)
	}

	execCfg := NewExecutorConfig(cfg.Client, cfg.SyncRoot, cfg.DriveID, cfg.Logger)
	ledger := NewLedger(bm.DB(), cfg.Logger)
	journal := NewJournal(bm.DB(), cfg.Logger)

	return &Engine{
		baseline: bm,
		ledger:   ledger,
		journal:  journal,
		planner:  NewPlanner(cfg.Logger),
		execCfg:  execCfg,
		client:   cfg.Client,
		syncRoot: cfg.SyncRoot,
		driveID:  cfg.DriveID,
		logger:   cfg.Logger,
	}, nil
}

// Close releases resources held by the engine (database connection).
func (e *Engine) Close() error {
	return e.baseline.Close()
}

// RunOnce executes a single sync cycle:
//  1. Load baseline
//  2. Observe remote (skip if upload-only)
//  3. Observe local (skip if download-only)
//  4. Buffer and flush changes
//  5. Early return if no changes
//  6. Plan actions (flat list + dependency edges)
//  7. Return early if dry-run
//  8. Write actions to ledger, build tracker, start worker pool
//  9. Wait for completion, commit delta token
func (e *Engine) RunOnce(ctx context.Context, mode SyncMode, opts RunOpts) (*SyncReport, error) {
	start := time.Now()

	if !e.recovered {
		e.recovered = true

		if n, err := e.recoverFromLedger(ctx); err != nil {
			e.logger.Warn("ledger recovery failed, continuing with this cycle anyway",
				slog.String("error", err.Error()))
		} else if n > 0 {
			e.logger.Info("recovered actions from a prior crashed cycle", slog.Int("count", n))
		}
	}

	e.logger.Info("sync cycle starting",
		slog.String("mode", mode.String()),
		slog.Bool("dry_run", opts.DryRun),
		slog.Bool("force", opts.Force),
	)

	// Step 1: Load baseline.
	bl, err := e.baseline.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: loading baseline: %w", err)
	}

	// Step 2: Observe remote changes.
	var remoteEvents []ChangeEvent
	var deltaToken string

	if mode != SyncUploadOnly {
		remoteEvents, deltaToken, err = e.observeRemote(ctx, bl)
		if err != nil {
			return nil, err
		}
	}

	// Step 3: Observe local changes.
	var localEvents []ChangeEvent

	if mode != SyncDownloadOnly {
		localEvents, err = e.observeLocal(ctx, bl)
		if err != nil {
			return nil, err
		}
	}

	// Step 4: Buffer and flush.
	buf := NewBuffer(e.logger)
	buf.AddAll(remoteEvents)
	buf.AddAll(localEvents)

	changes := buf.FlushImmediate()

	// Step 5: Early return if no changes.
	if len(changes) == 0 {
		e.logger.Info("sync cycle complete: no changes detected",
			slog.Duration("duration", time.Since(start)),
		)

		return &SyncReport{
			Mode:     mode,
			DryRun:   opts.DryRun,
			Duration: time.Since(start),
		}, nil
	}

	// Step 6: Plan actions.
	safety := e.resolveSafetyConfig(opts)

	plan, err := e.planner.Plan(changes, bl, mode, safety)
	if err != nil {
		return nil, err
	}

	// Step 7: Build report from plan counts.
	counts := countByType(plan.Actions)
	report := buildReportFromCounts(counts, mode, opts)

	if opts.DryRun {
		report.Duration = time.Since(start)

		e.logger.Info("dry-run complete: no changes applied",
			slog.Duration("duration", report.Duration),
		)

		return report, nil
	}

	// Steps 8-9: Execute plan and commit delta token.
	if execErr := e.executePlan(ctx, plan, deltaToken, report); execErr != nil {
		return report, execErr
	}

	report.Duration = time.Since(start)

	e.logger.Info("sync cycle complete",
		slog.Duration("duration", report.Duration),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
	)

	return report, nil
}

// executePlan writes actions to the ledger, populates the dependency tracker,
// runs the worker pool, and commits the delta token after completion.
func (e *Engine) executePlan(
	ctx context.Context, plan *ActionPlan, deltaToken string, report *SyncReport,
) error {
	ids, writeErr := e.ledger.WriteActions(ctx, plan.Actions, plan.Deps, plan.CycleID)
	if writeErr != nil {
		return fmt.Errorf("sync: writing actions to ledger: %w", writeErr)
	}

	tracker := NewDepTracker(len(plan.Actions), e.logger)

	for i := range plan.Actions {
		var depIDs []int64
		for _, depIdx := range plan.Deps[i] {
			depIDs = append(depIDs, ids[depIdx])
		}

		tracker.Add(&plan.Actions[i], ids[i], depIDs, plan.CycleID)
	}

	pool := NewWorkerPool(e.execCfg, e.ledger, tracker, e.baseline, e.logger, len(plan.Actions))
	pool.Start(ctx, runtime.NumCPU())
	pool.Wait()
	pool.Stop()

	if commitErr := e.baseline.CommitDeltaToken(ctx, deltaToken, e.driveID.String()); commitErr != nil {
		e.logger.Error("failed to commit delta token", slog.String("error", commitErr.Error()))
	}

	report.Succeeded, report.Failed, report.Errors = pool.Stats()

	e.recordCycleResults(ctx, plan.CycleID)

	return nil
}

// recordCycleResults reads every terminal ledger row for a cycle, appends one
// ActivityEvent per row to the journal, and updates the failure tracker so
// repeatedly-failing paths get suppressed in watch mode. The failure-tracker
// update is a no-op when failures is nil (one-shot RunOnce outside watch
// mode); the journal append always runs.
func (e *Engine) recordCycleResults(ctx context.Context, cycleID string) {
	rows, err := e.ledger.LoadCycleResults(ctx, cycleID)
	if err != nil {
		e.logger.Warn("failed to load cycle results for failure tracking",
			slog.String("cycle_id", cycleID), slog.String("error", err.Error()))

		return
	}

	for i := range rows {
		row := &rows[i]

		e.appendJournalEvent(ctx, row)

		if e.failures == nil {
			continue
		}

		if row.Status == ledgerStatusFailed {
			e.failures.recordFailure(row.Path, row.ErrorMsg)
		} else {
			e.failures.recordSuccess(row.Path)
		}
	}
}

// appendJournalEvent translates one terminal ledger row into an
// ActivityEvent. Logs rather than fails the cycle on a journal error: the
// journal is a read-side convenience, never a source of sync truth.
func (e *Engine) appendJournalEvent(ctx context.Context, row *LedgerRow) {
	actionType, err := ParseActionType(row.ActionType)
	if err != nil {
		e.logger.Warn("unrecognized action type in ledger row, skipping journal entry",
			slog.String("action_type", row.ActionType), slog.String("error", err.Error()))

		return
	}

	event := ActivityEvent{
		Kind:        journalKindForAction(actionType),
		Path:        row.Path,
		DisplayName: displayNameForPath(row.Path),
		Provider:    string(e.client.Name()),
		ByteCount:   row.Size,
	}

	if row.Status == ledgerStatusFailed {
		event.Kind = ActivityError
		event.ErrorText = row.ErrorMsg
	}

	if err := e.journal.Append(ctx, event); err != nil {
		e.logger.Warn("failed to append journal event",
			slog.String("path", row.Path), slog.String("error", err.Error()))
	}
}

// journalKindForAction maps a successful action to its ActivityKind. Failed
// actions are reclassified to ActivityError by the caller regardless of type.
func journalKindForAction(t ActionType) ActivityKind {
	switch t {
	case ActionDownload:
		return ActivityDownload
	case ActionUpload:
		return ActivityUpload
	case ActionLocalDelete, ActionRemoteDelete:
		return ActivityDelete
	case ActionLocalMove, ActionRemoteMove:
		return ActivityMove
	case ActionConflict:
		return ActivityConflictResolved
	case ActionFolderCreate, ActionUpdateSynced, ActionCleanup:
		return ActivityUpload
	default:
		return ActivityUpload
	}
}

func displayNameForPath(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 && idx+1 < len(path) {
		return path[idx+1:]
	}

	return path
}

// buildReportFromCounts populates a SyncReport with plan counts.
func buildReportFromCounts(counts map[ActionType]int, mode SyncMode, opts RunOpts) *SyncReport {
	return &SyncReport{
		Mode:          mode,
		DryRun:        opts.DryRun,
		FolderCreates: counts[ActionFolderCreate],
		Moves:         counts[ActionLocalMove] + counts[ActionRemoteMove],
		Downloads:     counts[ActionDownload],
		Uploads:       counts[ActionUpload],
		LocalDeletes:  counts[ActionLocalDelete],
		RemoteDeletes: counts[ActionRemoteDelete],
		Conflicts:     counts[ActionConflict],
		SyncedUpdates: counts[ActionUpdateSynced],
		Cleanups:      counts[ActionCleanup],
	}
}

// observeRemote fetches change feed pages from the provider. Automatically
// retries with an empty cursor if ErrCursorReset is returned (full resync).
func (e *Engine) observeRemote(ctx context.Context, bl *Baseline) ([]ChangeEvent, string, error) {
	savedToken, err := e.baseline.GetDeltaToken(ctx, e.driveID.String())
	if err != nil {
		return nil, "", fmt.Errorf("sync: getting delta token: %w", err)
	}

	obs := NewRemoteObserver(e.client, bl, e.driveID, e.logger)

	events, token, err := obs.FullDelta(ctx, savedToken)
	if err != nil {
		if !errors.Is(err, ErrCursorReset) {
			return nil, "", err
		}

		// Cursor rejected by provider — retry with empty cursor for full resync.
		e.logger.Warn("change cursor rejected, performing full resync")

		events, token, err = obs.FullDelta(ctx, "")
		if err != nil {
			return nil, "", fmt.Errorf("sync: full resync after delta expiry: %w", err)
		}
	}

	return events, token, nil
}

// observeLocal scans the local filesystem for changes.
func (e *Engine) observeLocal(ctx context.Context, bl *Baseline) ([]ChangeEvent, error) {
	obs := NewLocalObserver(bl, e.logger)

	events, err := obs.FullScan(ctx, e.syncRoot)
	if err != nil {
		return nil, fmt.Errorf("sync: local scan: %w", err)
	}

	return events, nil
}

// resolveSafetyConfig returns the appropriate SafetyConfig based on RunOpts.
// When Force is true, thresholds are set to max values (effectively disabled).
func (e *Engine) resolveSafetyConfig(opts RunOpts) *SafetyConfig {
	if opts.Force {
		return &SafetyConfig{
			BigDeleteMinItems:   0,
			BigDeleteMaxCount:   forceSafetyMax,
			BigDeleteMaxPercent: float64(forceSafetyMax),
		}
	}

	return DefaultSafetyConfig()
}

// ListConflicts returns all unresolved conflicts from the database.
func (e *Engine) ListConflicts(ctx context.Context) ([]ConflictRecord, error) {
	return e.baseline.ListConflicts(ctx)
}

// ListAllConflicts returns all conflicts (resolved and unresolved) from the
// database. Used by 'conflicts --history'.
func (e *Engine) ListAllConflicts(ctx context.Context) ([]ConflictRecord, error) {
	return e.baseline.ListAllConflicts(ctx)
}

// ResolveConflict resolves a single conflict by ID. For keep_both, this is
// a DB-only update. For keep_local, the local file is uploaded to overwrite
// the remote. For keep_remote, the remote file is downloaded to overwrite
// the local. The conflict record and baseline are updated atomically.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID, resolution string) error {
	c, err := e.baseline.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}

	switch resolution {
	case ResolutionKeepBoth:
		// DB-only — executor already saved both copies during sync.
		return e.baseline.ResolveConflict(ctx, c.ID, resolution)

	case ResolutionKeepLocal:
		if err := e.resolveKeepLocal(ctx, c); err != nil {
			return fmt.Errorf("sync: resolving conflict %s (%s): %w", c.ID, ResolutionKeepLocal, err)
		}

		return e.baseline.ResolveConflict(ctx, c.ID, resolution)

	case ResolutionKeepRemote:
		if err := e.resolveKeepRemote(ctx, c); err != nil {
			return fmt.Errorf("sync: resolving conflict %s (%s): %w", c.ID, ResolutionKeepRemote, err)
		}

		return e.baseline.ResolveConflict(ctx, c.ID, resolution)

	default:
		return fmt.Errorf("sync: unknown resolution strategy %q", resolution)
	}
}

// resolveKeepLocal uploads the local file to overwrite the remote version.
func (e *Engine) resolveKeepLocal(ctx context.Context, c *ConflictRecord) error {
	return e.resolveTransfer(ctx, c, ActionUpload)
}

// resolveKeepRemote downloads the remote file to overwrite the local version.
func (e *Engine) resolveKeepRemote(ctx context.Context, c *ConflictRecord) error {
	return e.resolveTransfer(ctx, c, ActionDownload)
}

// resolveTransfer executes a single transfer (upload or download) for conflict
// resolution and commits the result to the baseline. Uses CommitOutcome with
// ledgerID=0 (no ledger action for manual conflict resolution).
func (e *Engine) resolveTransfer(ctx context.Context, c *ConflictRecord, actionType ActionType) error {
	bl, err := e.baseline.Load(ctx)
	if err != nil {
		return fmt.Errorf("sync: loading baseline for resolve: %w", err)
	}

	exec := NewExecution(e.execCfg, bl)

	action := &Action{
		Type:    actionType,
		DriveID: c.DriveID,
		ItemID:  c.ItemID,
		Path:    c.Path,
		View:    &PathView{Path: c.Path},
	}

	var outcome Outcome
	if actionType == ActionUpload {
		outcome = exec.executeUpload(ctx, action)
	} else {
		outcome = exec.executeDownload(ctx, action)
	}

	if !outcome.Success {
		return fmt.Errorf("transfer failed: %w", outcome.Error)
	}

	return e.baseline.CommitOutcome(ctx, &outcome)
}
