package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher recursively monitors a directory tree and feeds a Debouncer on any
// create, write, remove, or rename event. It does not classify changes —
// that's the sync engine's job on its next full scan; Watcher only answers
// "has anything happened since the last cycle".
type Watcher struct {
	logger *slog.Logger
}

// NewWatcher creates a Watcher.
func NewWatcher(logger *slog.Logger) *Watcher {
	return &Watcher{logger: logger}
}

// Run watches root and feeds d on every filesystem event, adding watches on
// newly created subdirectories as they appear. Blocks until ctx is cancelled
// or the underlying fsnotify watcher fails to initialize.
func (w *Watcher) Run(ctx context.Context, root string, d *Debouncer) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addRecursive(fw, root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if ev.Has(fsnotify.Create) {
				if info, statErr := statIsDir(ev.Name); statErr == nil && info {
					if addErr := addRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn("watch: failed to add new directory",
							slog.String("path", ev.Name), slog.String("error", addErr.Error()))
					}
				}
			}

			d.Feed()

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watch: fsnotify error", slog.String("error", watchErr.Error()))
		}
	}
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return fw.Add(path)
		}

		return nil
	})
}

func statIsDir(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	return fi.IsDir(), nil
}
