package sync

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/cloudsync-oss/cloudsync/internal/driveid"
)

// staleClaimTimeout is how long an action may sit in the claimed state
// before recoverFromLedger assumes its worker crashed and reclaims it.
const staleClaimTimeout = 15 * time.Minute

// RecoverFromLedger reclaims stale claims and re-executes every
// pending/claimed action left over from a previous run that crashed
// mid-cycle. Callers run this once at startup, before the first RunOnce.
func (e *Engine) RecoverFromLedger(ctx context.Context) (int, error) {
	return e.recoverFromLedger(ctx)
}

func (e *Engine) recoverFromLedger(ctx context.Context) (int, error) {
	if _, err := e.ledger.ReclaimStale(ctx, staleClaimTimeout); err != nil {
		return 0, fmt.Errorf("sync: reclaiming stale actions: %w", err)
	}

	rows, err := e.ledger.LoadAllPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync: loading pending ledger rows: %w", err)
	}

	if len(rows) == 0 {
		return 0, nil
	}

	e.logger.Info("recovering actions from ledger", slog.Int("count", len(rows)))

	firstIDs := make(map[string]int64)
	tracker := NewDepTracker(len(rows), e.logger)

	for i := range rows {
		row := &rows[i]

		firstID, ok := firstIDs[row.CycleID]
		if !ok {
			firstID, err = e.ledger.FirstIDForCycle(ctx, row.CycleID)
			if err != nil {
				return 0, err
			}

			firstIDs[row.CycleID] = firstID
		}

		var depIDs []int64

		for _, idx := range row.DependsOn {
			depIDs = append(depIDs, firstID+idx)
		}

		tracker.Add(buildSyntheticAction(row), row.ID, depIDs, row.CycleID)
	}

	pool := NewWorkerPool(e.execCfg, e.ledger, tracker, e.baseline, e.logger, len(rows))
	pool.Start(ctx, runtime.NumCPU())
	pool.Wait()
	pool.Stop()

	succeeded, failed, _ := pool.Stats()

	for cycleID := range firstIDs {
		e.recordCycleResults(ctx, cycleID)
	}

	e.logger.Info("ledger recovery complete",
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
	)

	return succeeded + failed, nil
}

// buildSyntheticAction reconstructs an Action from a persisted ledger row so
// it can be re-dispatched through the normal executor path after a crash.
func buildSyntheticAction(row *LedgerRow) *Action {
	actionType, parseErr := ParseActionType(row.ActionType)
	if parseErr != nil {
		actionType = ActionCleanup
	}

	return &Action{
		Type:    actionType,
		DriveID: driveid.New(row.DriveID),
		ItemID:  row.ItemID,
		Path:    row.Path,
		OldPath: row.OldPath,
		NewPath: row.NewPath,
		View:    buildSyntheticView(row),
	}
}

// buildSyntheticView rebuilds a minimal PathView from ledger metadata. It
// carries only what was persisted at plan time (no live local/remote
// comparison), which is sufficient for re-executing a single action.
func buildSyntheticView(row *LedgerRow) *PathView {
	view := &PathView{Path: row.Path}

	if row.ItemID != "" || row.Hash != "" || row.Size != 0 || row.Mtime != 0 {
		view.Remote = &RemoteState{
			ItemID:   row.ItemID,
			DriveID:  driveid.New(row.DriveID),
			ParentID: row.ParentID,
			Hash:     row.Hash,
			Size:     row.Size,
			Mtime:    row.Mtime,
		}
	}

	return view
}
