package watcher

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// Helper functions
// =============================================================================

func startWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(dir, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func writeInteraction(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func waitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// =============================================================================
// Tests for file filtering and hashing
// =============================================================================

func TestIsInteractionFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"interaction.json", true},
		{"UPPER.JSON", true},
		{"nested.v2.json", true},
		{"interaction.jsonl", false},
		{"notes.txt", false},
		{"json", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isInteractionFile(tt.name); got != tt.want {
			t.Errorf("isInteractionFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	body := `{"prompt": "original text"}`
	path := writeInteraction(t, dir, "sample.json", body)

	hash, size, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if size != int64(len(body)) {
		t.Errorf("size = %d, want %d", size, len(body))
	}
	if want := sha256.Sum256([]byte(body)); hash != want {
		t.Errorf("hash = %x, want %x", hash, want)
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, _, err := HashFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// =============================================================================
// Tests for the drop-directory watch loop
// =============================================================================

func TestWatcherPicksUpExistingFile(t *testing.T) {
	dir := t.TempDir()
	body := `{"prompt": "already here"}`
	path := writeInteraction(t, dir, "pre.json", body)

	w := startWatcher(t, dir)
	ev := waitEvent(t, w)

	if ev.Path != path {
		t.Errorf("Path = %q, want %q", ev.Path, path)
	}
	if ev.Size != int64(len(body)) {
		t.Errorf("Size = %d, want %d", ev.Size, len(body))
	}
	if want := sha256.Sum256([]byte(body)); ev.Hash != want {
		t.Errorf("Hash = %x, want %x", ev.Hash, want)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestWatcherPicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	path := writeInteraction(t, dir, "incoming.json", `{"prompt": "new arrival"}`)

	ev := waitEvent(t, w)
	if ev.Path != path {
		t.Errorf("Path = %q, want %q", ev.Path, path)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	writeInteraction(t, dir, "notes.txt", "not an interaction")

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %q", ev.Path)
	case <-time.After(3 * time.Second):
	}
}

func TestWatcherEmitsOncePerArrival(t *testing.T) {
	dir := t.TempDir()
	writeInteraction(t, dir, "once.json", `{"prompt": "one shot"}`)

	w := startWatcher(t, dir)
	waitEvent(t, w)

	if n := w.TrackedFiles(); n != 0 {
		t.Errorf("TrackedFiles = %d after emit, want 0", n)
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("duplicate event for %q", ev.Path)
	case <-time.After(3 * time.Second):
	}
}

func TestWatcherStopClosesChannels(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, ok := <-w.Events(); ok {
		t.Error("Events channel should be closed after Stop")
	}
	if _, ok := <-w.Errors(); ok {
		t.Error("Errors channel should be closed after Stop")
	}
}

func TestWatcherDir(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if w.Dir() != abs {
		t.Errorf("Dir() = %q, want %q", w.Dir(), abs)
	}
}
