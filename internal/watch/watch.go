// Package watch monitors capture directories for new frames landing on disk.
package watch

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"astrokeep/internal/fsutil"
)

// FrameEvent is one observed change to a frame file.
type FrameEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified", "deleted", "renamed"
	Time      time.Time `json:"time"`
}

// Watcher monitors directories for frame file changes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	Events    chan FrameEvent
	watchDirs []string
	done      chan struct{}
}

// New creates a watcher over the given directories. Call Start to begin.
func New(dirs []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:   fsw,
		Events:    make(chan FrameEvent, 100),
		watchDirs: dirs,
		done:      make(chan struct{}),
	}, nil
}

// Start registers the directories and begins delivering events.
func (w *Watcher) Start() error {
	for _, dir := range w.watchDirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		slog.Info("watching directory", "dir", dir)
	}
	go w.processEvents()
	return nil
}

// Stop shuts the watcher down. The event channel is closed by the
// processing goroutine once it drains, so in-flight sends cannot hit a
// closed channel.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	defer close(w.Events)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			var operation string
			switch {
			case event.Op.Has(fsnotify.Create):
				operation = "created"
			case event.Op.Has(fsnotify.Write):
				operation = "modified"
			case event.Op.Has(fsnotify.Remove):
				operation = "deleted"
			case event.Op.Has(fsnotify.Rename):
				operation = "renamed"
			default:
				continue
			}

			if !fsutil.IsFrameFile(event.Name) {
				continue
			}

			fe := FrameEvent{
				Path:      event.Name,
				Operation: operation,
				Time:      time.Now(),
			}
			select {
			case w.Events <- fe:
			default:
				slog.Warn("event buffer full, dropping event", "path", event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}
