// Package watcher keeps the backup catalog in step with files that are
// deleted or renamed directly in the local storage directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/edvin/dbbackup/internal/metrics"
	"github.com/edvin/dbbackup/internal/storage"
)

const (
	// MaxErrors within ErrorDecay stops the watcher for good.
	MaxErrors  = 5
	ErrorDecay = 30 * time.Second
	// RenameWindow is how long a rename waits for the Create carrying the
	// new name before it is treated as a removal.
	RenameWindow = 2 * time.Second
)

// Catalog is the part of the backup service the watcher updates.
type Catalog interface {
	DeleteRecordByPath(ctx context.Context, path string) (int64, error)
	RenamePath(ctx context.Context, oldPath, newPath string) (int64, error)
}

type pendingRename struct {
	key string
	at  time.Time
}

// Watcher is a suture.Service over fsnotify.
type Watcher struct {
	store   *storage.Local
	catalog Catalog
	logger  zerolog.Logger
	now     func() time.Time

	errCount int
	lastErr  time.Time
	pending  *pendingRename
}

func New(store *storage.Local, catalog Catalog, logger zerolog.Logger) *Watcher {
	return &Watcher{
		store:   store,
		catalog: catalog,
		logger:  logger.With().Str("component", "watcher").Str("root", store.Root()).Logger(),
		now:     time.Now,
	}
}

func (w *Watcher) String() string { return "storage-watcher" }

// Serve watches the storage root until ctx ends or too many errors pile
// up. In the latter case the returned error wraps suture.ErrDoNotRestart.
func (w *Watcher) Serve(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := addTree(fw, w.store.Root()); err != nil {
		return err
	}
	w.logger.Info().Msg("watching storage directory")

	expiry := time.NewTimer(RenameWindow)
	expiry.Stop()
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			err := w.handle(ctx, ev, func(dir string) error { return addTree(fw, dir) })
			if ev.Has(fsnotify.Rename) && w.pending != nil {
				expiry.Reset(RenameWindow)
			}
			if err != nil {
				if stop := w.fail(err); stop != nil {
					return stop
				}
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			if stop := w.fail(err); stop != nil {
				return stop
			}

		case <-expiry.C:
			if err := w.expireRename(ctx); err != nil {
				if stop := w.fail(err); stop != nil {
					return stop
				}
			}
		}
	}
}

// handle applies one filesystem event to the catalog. watch is called for
// directories that appear so they are observed too.
func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event, watch func(dir string) error) error {
	key, ok := w.store.Rel(ev.Name)
	if !ok {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := watch(ev.Name); err != nil {
				return err
			}
		}
		if w.pending == nil {
			return nil
		}
		prev := *w.pending
		w.pending = nil
		if w.now().Sub(prev.at) > RenameWindow {
			return w.remove(ctx, prev.key)
		}
		return w.rename(ctx, prev.key, key)

	case ev.Has(fsnotify.Rename):
		if w.pending != nil {
			if err := w.remove(ctx, w.pending.key); err != nil {
				w.pending = nil
				return err
			}
		}
		w.pending = &pendingRename{key: key, at: w.now()}
		return nil

	case ev.Has(fsnotify.Remove):
		return w.remove(ctx, key)
	}
	return nil
}

// expireRename treats an unpaired rename as the file leaving the tree.
func (w *Watcher) expireRename(ctx context.Context) error {
	if w.pending == nil {
		return nil
	}
	key := w.pending.key
	w.pending = nil
	return w.remove(ctx, key)
}

func (w *Watcher) remove(ctx context.Context, key string) error {
	n, err := w.catalog.DeleteRecordByPath(ctx, key)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.WatcherEvents.WithLabelValues("remove").Inc()
		w.logger.Info().Str("path", key).Int64("rows", n).Msg("backup file removed outside the manager")
	}
	return nil
}

func (w *Watcher) rename(ctx context.Context, oldKey, newKey string) error {
	n, err := w.catalog.RenamePath(ctx, oldKey, newKey)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.WatcherEvents.WithLabelValues("rename").Inc()
		w.logger.Info().Str("from", oldKey).Str("to", newKey).Msg("backup file renamed outside the manager")
	}
	return nil
}

// fail counts err and returns a terminal error once MaxErrors happened
// without ErrorDecay of quiet in between.
func (w *Watcher) fail(err error) error {
	now := w.now()
	if now.Sub(w.lastErr) > ErrorDecay {
		w.errCount = 0
	}
	w.lastErr = now
	w.errCount++
	metrics.WatcherEvents.WithLabelValues("error").Inc()
	w.logger.Error().Err(err).Int("count", w.errCount).Msg("watcher error")

	if w.errCount >= MaxErrors {
		return fmt.Errorf("watcher stopped after %d errors: %w: %w", w.errCount, suture.ErrDoNotRestart, err)
	}
	return nil
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
