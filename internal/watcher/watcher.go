// Package watcher monitors the capture drop directory for incoming
// interaction files.
//
// Producers write one JSON interaction per file. A file is picked up once
// it has been stable for the debounce interval, so partially written files
// are never consumed.
package watcher

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents an interaction file ready for processing.
type Event struct {
	Path      string
	Hash      [32]byte
	Size      int64
	Timestamp time.Time
}

// Watcher monitors a drop directory for stable interaction files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	interval  time.Duration

	// State tracking: path -> last modification time
	state   map[string]time.Time
	stateMu sync.RWMutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher over the given drop directory.
func New(dir string, debounceSec int) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounceSec < 1 {
		debounceSec = 1
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		dir:       dir,
		interval:  time.Duration(debounceSec) * time.Second,
		state:     make(map[string]time.Time),
		events:    make(chan Event, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of ready interaction files.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching the drop directory, picking up any files already
// present.
func (w *Watcher) Start() error {
	absDir, err := filepath.Abs(w.dir)
	if err != nil {
		return err
	}
	w.dir = absDir

	if err := w.fsWatcher.Add(absDir); err != nil {
		return err
	}

	// Scan files that arrived before the watch started.
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && isInteractionFile(entry.Name()) {
			w.trackFile(filepath.Join(absDir, entry.Name()))
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// isInteractionFile filters the drop directory to JSON payloads.
func isInteractionFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}

// trackFile adds a file to state tracking.
func (w *Watcher) trackFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	w.stateMu.Lock()
	w.state[path] = info.ModTime()
	w.stateMu.Unlock()
}

// eventLoop handles fsnotify events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !isInteractionFile(event.Name) {
				continue
			}

			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}

			w.stateMu.Lock()
			w.state[event.Name] = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// debounceLoop checks for stable files and emits ready events.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.checkStableFiles(now)
		}
	}
}

// stableFile represents a file ready for hashing.
type stableFile struct {
	path    string
	lastMod time.Time
}

// checkStableFiles finds files that haven't changed for the debounce
// interval. The lock is released during file I/O so eventLoop never
// blocks on hashing.
func (w *Watcher) checkStableFiles(now time.Time) {
	threshold := now.Add(-w.interval)

	var stableFiles []stableFile
	w.stateMu.RLock()
	for path, lastMod := range w.state {
		if lastMod.Before(threshold) {
			stableFiles = append(stableFiles, stableFile{path: path, lastMod: lastMod})
		}
	}
	w.stateMu.RUnlock()

	if len(stableFiles) == 0 {
		return
	}

	type hashResult struct {
		path    string
		lastMod time.Time
		hash    [32]byte
		size    int64
		err     error
	}
	results := make([]hashResult, len(stableFiles))

	for i, sf := range stableFiles {
		hash, size, err := HashFile(sf.path)
		results[i] = hashResult{
			path:    sf.path,
			lastMod: sf.lastMod,
			hash:    hash,
			size:    size,
			err:     err,
		}
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	for _, r := range results {
		if r.err != nil {
			select {
			case w.errors <- r.err:
			default:
			}
			continue
		}

		currentLastMod, exists := w.state[r.path]
		if !exists {
			continue
		}
		if currentLastMod != r.lastMod {
			// Modified during hashing; let it stabilize again.
			continue
		}

		event := Event{
			Path:      r.path,
			Hash:      r.hash,
			Size:      r.size,
			Timestamp: now,
		}

		select {
		case w.events <- event:
			// Processed once per arrival; a rewrite re-tracks it.
			delete(w.state, r.path)
		default:
			// Event channel full, try again later.
		}
	}
}

// HashFile computes the streaming SHA-256 hash of a file.
func HashFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var hash [32]byte
	copy(hash[:], h.Sum(nil))
	return hash, size, nil
}

// Dir returns the watched drop directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// TrackedFiles returns the current number of tracked files.
func (w *Watcher) TrackedFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}
