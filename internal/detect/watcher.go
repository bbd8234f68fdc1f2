package detect

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the safety net behind fsnotify; some filesystems deliver
// no events at all.
const pollInterval = 60 * time.Second

// ModelWatcher tracks whether the detector's model file exists and is
// non-empty. New pipelines consult it when picking between the remote
// detector and simulation, so dropping a model file in place upgrades the
// next start without a restart.
type ModelWatcher struct {
	path  string
	ready atomic.Bool
}

// WatchModel begins watching path until ctx is cancelled. The parent
// directory is watched rather than the file, which may not exist yet. When
// fsnotify is unavailable the watcher degrades to polling alone.
func WatchModel(ctx context.Context, path string) *ModelWatcher {
	m := &ModelWatcher{path: filepath.Clean(path)}
	m.refresh()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(filepath.Dir(m.path))
	}
	if err != nil {
		log.Printf("[DETECT] model watch on %s unavailable (%v), polling only", m.path, err)
		if watcher != nil {
			watcher.Close()
		}
		watcher = nil
	}

	go m.run(ctx, watcher)
	return m
}

// Ready reports whether the model file is present and non-empty.
func (m *ModelWatcher) Ready() bool { return m.ready.Load() }

func (m *ModelWatcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != m.path {
				continue
			}
			// Writers land the file in stages; give them a beat.
			time.Sleep(100 * time.Millisecond)
			m.refresh()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[DETECT] model watcher: %v", err)
		case <-ticker.C:
			m.refresh()
		}
	}
}

func (m *ModelWatcher) refresh() {
	info, err := os.Stat(m.path)
	now := err == nil && info.Size() > 0
	if m.ready.Swap(now) != now {
		if now {
			log.Printf("[DETECT] model %s available, new pipelines use the remote detector", m.path)
		} else {
			log.Printf("[DETECT] model %s gone, new pipelines fall back to simulation", m.path)
		}
	}
}
