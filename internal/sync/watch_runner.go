package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cloudsync-oss/cloudsync/internal/sync/watch"
)

// defaultPollInterval is how often RunWatch forces a remote poll even when
// the local tree has been quiet, so remote-only changes are still picked up.
const defaultPollInterval = 5 * time.Minute

// WatchOpts holds options for a long-running watch-mode sync loop.
type WatchOpts struct {
	DryRun bool
	Force  bool

	// PollInterval bounds how long RunWatch waits between cycles when the
	// local tree is quiet. Zero uses defaultPollInterval.
	PollInterval time.Duration

	// DebounceQuiet is how long the local tree must be silent before a burst
	// of filesystem events triggers a cycle. Zero uses watch.DefaultQuietPeriod.
	DebounceQuiet time.Duration
}

// RunWatch runs sync cycles continuously: once immediately, then whenever the
// local tree settles after a burst of changes or the poll interval elapses,
// whichever comes first. Returns nil when ctx is cancelled; any other error
// aborts the loop (e.g. the local observer failing to start).
func (e *Engine) RunWatch(ctx context.Context, mode SyncMode, opts WatchOpts) error {
	e.failures = newFailureTracker(e.logger)
	defer func() { e.failures = nil }()

	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	debouncer := watch.NewDebouncer(opts.DebounceQuiet)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	watchErrCh := make(chan error, 1)

	if mode != SyncUploadOnly {
		fsWatcher := watch.NewWatcher(e.logger)

		go func() {
			watchErrCh <- fsWatcher.Run(watchCtx, e.syncRoot, debouncer)
		}()

		go debouncer.Run(watchCtx)
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	runOpts := RunOpts{DryRun: opts.DryRun, Force: opts.Force}

	if _, err := e.RunOnce(ctx, mode, runOpts); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("watch: initial sync cycle failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-watchErrCh:
			if err != nil && ctx.Err() == nil {
				return err
			}

		case <-debouncer.C():
			e.runWatchCycle(ctx, mode, runOpts)

		case <-ticker.C:
			e.runWatchCycle(ctx, mode, runOpts)
		}
	}
}

func (e *Engine) runWatchCycle(ctx context.Context, mode SyncMode, opts RunOpts) {
	if _, err := e.RunOnce(ctx, mode, opts); err != nil && ctx.Err() == nil {
		e.logger.Error("watch: sync cycle failed", slog.String("error", err.Error()))
	}
}
