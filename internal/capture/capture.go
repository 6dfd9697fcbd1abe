// Package capture implements the evidence capture boundary.
//
// An Entry records one audited interaction: the prompt, the origin and
// control responses, free-form metadata, and the computed IntegrityMatrix.
// Entries are append-only; the entry hash is computed over all other fields
// at creation and never altered afterward.
package capture

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"driftd/internal/degrade"
)

// ErrInvalidInput is returned when a required field is empty.
var ErrInvalidInput = errors.New("capture: invalid input")

// Entry is one audited interaction, hash-sealed at creation.
type Entry struct {
	SessionID   string                   `json:"session_id"`
	Timestamp   time.Time                `json:"timestamp"`
	Prompt      string                   `json:"prompt"`
	OriginText  string                   `json:"origin_text"`
	ControlText string                   `json:"control_text"`
	Metadata    map[string]string        `json:"metadata,omitempty"`
	Matrix      *degrade.IntegrityMatrix `json:"matrix,omitempty"`
	EntryHash   string                   `json:"entry_hash"`
}

// Request is the raw interaction handed to the capture boundary.
type Request struct {
	Prompt      string
	OriginText  string
	ControlText string
	Metadata    map[string]string
	Timestamp   time.Time // zero value means now
}

// Recorder seals interactions into Entries bound to the deployment's root
// identifiers.
type Recorder struct {
	rootHash string
	cid      string
}

// NewRecorder creates a Recorder for the given identity pair.
func NewRecorder(rootHash, cid string) *Recorder {
	return &Recorder{rootHash: rootHash, cid: cid}
}

// Record builds a sealed Entry from a request and its computed matrix.
// The matrix may be nil when capture happens before analysis.
func (r *Recorder) Record(req Request, matrix *degrade.IntegrityMatrix) (*Entry, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidInput)
	}
	if req.OriginText == "" || req.ControlText == "" {
		return nil, fmt.Errorf("%w: empty response text", ErrInvalidInput)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	e := &Entry{
		SessionID:   newSessionID(),
		Timestamp:   ts.UTC(),
		Prompt:      req.Prompt,
		OriginText:  req.OriginText,
		ControlText: req.ControlText,
		Metadata:    req.Metadata,
		Matrix:      matrix,
	}
	e.EntryHash = r.computeEntryHash(e)
	return e, nil
}

// computeEntryHash seals an entry: SHA-256 over a length-prefixed encoding
// of every field joined to the root identifiers. Each field is written as
// "<len>:<bytes>" so content cannot shift across field boundaries without
// changing the hash. Field order is a compatibility contract.
func (r *Recorder) computeEntryHash(e *Entry) string {
	h := sha256.New()
	field := func(s string) {
		fmt.Fprintf(h, "%d:", len(s))
		io.WriteString(h, s)
	}

	field(e.SessionID)
	field(e.Timestamp.Format(time.RFC3339Nano))
	field(e.Prompt)
	field(e.OriginText)
	field(e.ControlText)

	// Metadata participates as a counted list of sorted key/value pairs so
	// independent reimplementations hash identically.
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	field(strconv.Itoa(len(keys)))
	for _, k := range keys {
		field(k)
		field(e.Metadata[k])
	}

	if e.Matrix != nil {
		field(e.Matrix.IntegrityHash)
	} else {
		field("")
	}
	field(r.rootHash)
	field(r.cid)

	return hex.EncodeToString(h.Sum(nil))
}

// VerifyEntry recomputes the entry hash and reports whether it matches.
func (r *Recorder) VerifyEntry(e *Entry) bool {
	return r.computeEntryHash(e) == e.EntryHash
}

func newSessionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("capture: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}

// Log is an append-only JSONL store of entries with a session index.
type Log struct {
	mu       sync.Mutex
	path     string
	index    map[string]int // session id -> line number
	recorder *Recorder
	count    int
}

// OpenLog opens or creates the JSONL log at path and rebuilds the session
// index from existing lines.
func OpenLog(path string, recorder *Recorder) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l := &Log{path: path, index: make(map[string]int), recorder: recorder}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("log line %d: %w", line, err)
		}
		l.index[e.SessionID] = line
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	l.count = line

	return l, nil
}

// Append writes an entry as one JSON line. Entries are never rewritten.
func (l *Log) Append(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}

	l.index[e.SessionID] = l.count
	l.count++
	return nil
}

// Get reads the entry with the given session id, or nil if absent.
func (l *Log) Get(sessionID string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, ok := l.index[sessionID]
	if !ok {
		return nil, nil
	}

	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if line >= len(entries) {
		return nil, fmt.Errorf("log index out of range for session %s", sessionID)
	}
	return entries[line], nil
}

// Entries returns all entries in append order.
func (l *Log) Entries() ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAll()
}

// Count returns the number of appended entries.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *Log) readAll() ([]*Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("log line %d: %w", len(entries), err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return entries, nil
}
