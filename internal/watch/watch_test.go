package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherSeesNewFrame(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	frame := filepath.Join(dir, "2025-04-13_19-31-10.fits")
	if err := os.WriteFile(frame, []byte("frame"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case e := <-w.Events:
		if e.Path != frame {
			t.Fatalf("event path = %s, want %s", e.Path, frame)
		}
		if e.Operation != "created" && e.Operation != "modified" {
			t.Fatalf("operation = %s", e.Operation)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event for new frame")
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// events racing the shutdown must land in the buffer or be dropped,
	// never panic on a closed channel
	for i := 0; i < 20; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame%02d.fits", i))
		if err := os.WriteFile(name, []byte("frame"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-w.Events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after Stop")
		}
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case e := <-w.Events:
		t.Fatalf("unexpected event for %s", e.Path)
	case <-time.After(500 * time.Millisecond):
	}
}
