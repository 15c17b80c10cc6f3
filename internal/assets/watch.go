package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the asset tree and refreshes versions for files that
// change on disk. Stop must be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchAssets wires fsnotify around the manager's base path. Writes to files
// under the tree re-hash any asset with a registered version, which
// invalidates its cache entries when the content actually changed; files with
// no version record just have their cache entries dropped. onError receives
// watcher problems and refresh failures; it may be nil.
func (m *Manager) WatchAssets(ctx context.Context, onError func(error)) (*Watcher, error) {
	root, err := filepath.Abs(m.basePath)
	if err != nil {
		return nil, fmt.Errorf("assets: resolve watch root: %w", err)
	}
	if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("assets: watch root: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("assets: watch root %s is not a directory", root)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("assets: watch: %w", err)
	}

	reportError := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	ready := make(chan struct{})
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil {
				reportError(fmt.Errorf("assets: watch close: %w", err))
			}
		}()
		defer signalReady()

		dirs := map[string]struct{}{}
		addDir := func(dir string) {
			dir = filepath.Clean(dir)
			if _, ok := dirs[dir]; ok {
				return
			}
			if err := watcher.Add(dir); err != nil {
				reportError(fmt.Errorf("assets: watch add %s: %w", dir, err))
				return
			}
			dirs[dir] = struct{}{}
		}

		if err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				reportError(fmt.Errorf("assets: walk watcher %s: %w", path, walkErr))
				return nil
			}
			if d.IsDir() {
				addDir(path)
			}
			return nil
		}); err != nil {
			reportError(fmt.Errorf("assets: traverse watcher %s: %w", root, err))
		}

		signalReady()

		const debounce = 25 * time.Millisecond
		changed := map[string]struct{}{}
		var refreshTimer *time.Timer
		var refreshSignal <-chan time.Time
		scheduleRefresh := func() {
			if refreshTimer == nil {
				refreshTimer = time.NewTimer(debounce)
			} else {
				if !refreshTimer.Stop() {
					select {
					case <-refreshTimer.C:
					default:
					}
				}
				refreshTimer.Reset(debounce)
			}
			refreshSignal = refreshTimer.C
		}
		flushTimer := func() {
			if refreshTimer == nil {
				return
			}
			if !refreshTimer.Stop() {
				select {
				case <-refreshTimer.C:
				default:
				}
			}
			refreshSignal = nil
		}
		defer flushTimer()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-refreshSignal:
				flushTimer()
				batch := changed
				changed = map[string]struct{}{}
				for assetID := range batch {
					if err := m.refreshChanged(watchCtx, assetID); err != nil {
						if errors.Is(err, context.Canceled) {
							return
						}
						reportError(err)
					}
				}
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if event.Op&fsnotify.Create != 0 {
					info, err := os.Stat(name)
					if err == nil && info.IsDir() {
						addDir(name)
						continue
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				rel, err := filepath.Rel(root, name)
				if err != nil || rel == "." {
					continue
				}
				changed[filepath.ToSlash(rel)] = struct{}{}
				scheduleRefresh()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				reportError(fmt.Errorf("assets: watch error: %w", err))
			}
		}
	}()

	<-ready

	return w, nil
}

// refreshChanged reconciles one on-disk change. Assets with a version record
// re-hash under their current label so only a real content change invalidates;
// everything else drops straight out of the cache.
func (m *Manager) refreshChanged(ctx context.Context, assetID string) error {
	prior, ok, err := m.versions.Lookup(ctx, assetID)
	if err != nil {
		return fmt.Errorf("assets: refresh %s: %w", assetID, err)
	}
	if ok {
		if err := m.SetAssetVersion(ctx, assetID, prior.Version); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Deleted from disk. The record stays, the cache must not.
				removed := m.cache.InvalidateAsset(assetID)
				m.metrics.ObserveInvalidation(removed)
				return nil
			}
			return err
		}
		return nil
	}
	removed := m.cache.InvalidateAsset(assetID)
	if removed > 0 {
		m.metrics.ObserveInvalidation(removed)
		m.logger.Info("file change dropped cache entries",
			slog.String("asset", assetID),
			slog.Int("removed", removed))
	}
	return nil
}
