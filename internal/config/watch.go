package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const engineConfigDebounce = 500 * time.Millisecond

// WatchEngineConfig reloads the tunables file into store whenever it changes, until ctx is done.
// The directory is watched instead of the file so editors that replace the file are picked up.
// onReload, if set, runs after each successful reload.
func WatchEngineConfig(ctx context.Context, path string, store *EngineConfigStore, onReload func(*EngineConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}

	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	logrus.Infof("👁️  [ENGINE-CONFIG] Watching %s for changes (hot-reload enabled)", path)

	var (
		mu            sync.Mutex
		debounceTimer *time.Timer
	)

	reload := func() {
		if err := store.Reload(absPath); err != nil {
			logrus.Warnf("❌ [ENGINE-CONFIG] Reload of %s rejected, keeping previous tunables: %v", path, err)
			return
		}
		logrus.Infof("✅ [ENGINE-CONFIG] Tunables reloaded from %s", path)
		if onReload != nil {
			onReload(store.Get())
		}
	}

	defer func() {
		mu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		mu.Unlock()
		watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			mu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(engineConfigDebounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Warnf("⚠️  [ENGINE-CONFIG] File watcher error: %v", err)
		}
	}
}
