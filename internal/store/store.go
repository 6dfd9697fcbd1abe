// Package store persists audit entries, monitoring results, alerts, and
// chain links in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"driftd/internal/chain"
	"driftd/internal/degrade"
	"driftd/internal/monitor"
	"driftd/internal/temporal"
)

// Schema for the driftd audit store.
const schema = `
CREATE TABLE IF NOT EXISTS entries (
    session_id    TEXT PRIMARY KEY,
    stream_id     TEXT NOT NULL,
    timestamp_ns  INTEGER NOT NULL,
    entry_hash    TEXT NOT NULL,
    origin_hash   TEXT NOT NULL,
    control_hash  TEXT NOT NULL,
    matrix        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_stream ON entries(stream_id, timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON entries(timestamp_ns);

CREATE TABLE IF NOT EXISTS results (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL REFERENCES entries(session_id),
    stream_id     TEXT NOT NULL,
    timestamp_ns  INTEGER NOT NULL,
    deg_index     REAL NOT NULL,
    status        TEXT NOT NULL,
    severity      TEXT NOT NULL,
    alert_level   TEXT NOT NULL,
    intervention  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_stream ON results(stream_id, timestamp_ns);

CREATE TABLE IF NOT EXISTS alerts (
    alert_id      TEXT PRIMARY KEY,
    stream_id     TEXT NOT NULL,
    session_id    TEXT NOT NULL,
    timestamp_ns  INTEGER NOT NULL,
    level         TEXT NOT NULL,
    message       TEXT NOT NULL,
    deg_index     REAL NOT NULL,
    evidence_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_stream ON alerts(stream_id, timestamp_ns);

CREATE TABLE IF NOT EXISTS links (
    ordinal       INTEGER PRIMARY KEY,
    entry_hash    TEXT NOT NULL,
    prev_hash     TEXT NOT NULL,
    link_hash     TEXT NOT NULL UNIQUE,
    timestamp_ns  INTEGER NOT NULL
);
`

// EntryRecord is a stored audit entry reference: hashes and metrics only,
// never raw payloads.
type EntryRecord struct {
	SessionID   string
	StreamID    string
	Timestamp   time.Time
	EntryHash   string
	OriginHash  string
	ControlHash string
	Matrix      *degrade.IntegrityMatrix
}

// Store is the SQLite audit store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertEntry persists an audit entry reference.
func (s *Store) InsertEntry(r *EntryRecord) error {
	matrixJSON, err := json.Marshal(r.Matrix)
	if err != nil {
		return fmt.Errorf("marshal matrix: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO entries (session_id, stream_id, timestamp_ns, entry_hash, origin_hash, control_hash, matrix)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.StreamID, r.Timestamp.UnixNano(), r.EntryHash, r.OriginHash, r.ControlHash, string(matrixJSON),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry record by session id, or nil if absent.
func (s *Store) GetEntry(sessionID string) (*EntryRecord, error) {
	var r EntryRecord
	var tsNs int64
	var matrixJSON string

	err := s.db.QueryRow(`
		SELECT session_id, stream_id, timestamp_ns, entry_hash, origin_hash, control_hash, matrix
		FROM entries WHERE session_id = ?`, sessionID,
	).Scan(&r.SessionID, &r.StreamID, &tsNs, &r.EntryHash, &r.OriginHash, &r.ControlHash, &matrixJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}

	r.Timestamp = time.Unix(0, tsNs).UTC()
	if err := json.Unmarshal([]byte(matrixJSON), &r.Matrix); err != nil {
		return nil, fmt.Errorf("unmarshal matrix: %w", err)
	}
	return &r, nil
}

// EntriesByStream retrieves entries for a stream within a time range, in
// timestamp order.
func (s *Store) EntriesByStream(streamID string, start, end time.Time) ([]*EntryRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, stream_id, timestamp_ns, entry_hash, origin_hash, control_hash, matrix
		FROM entries
		WHERE stream_id = ? AND timestamp_ns >= ? AND timestamp_ns <= ?
		ORDER BY timestamp_ns ASC`, streamID, start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var records []*EntryRecord
	for rows.Next() {
		var r EntryRecord
		var tsNs int64
		var matrixJSON string
		if err := rows.Scan(&r.SessionID, &r.StreamID, &tsNs, &r.EntryHash, &r.OriginHash, &r.ControlHash, &matrixJSON); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		r.Timestamp = time.Unix(0, tsNs).UTC()
		if err := json.Unmarshal([]byte(matrixJSON), &r.Matrix); err != nil {
			return nil, fmt.Errorf("unmarshal matrix: %w", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return records, nil
}

// PointsForPeriod loads the temporal analysis input for a stream: ordered
// (timestamp, matrix) pairs.
func (s *Store) PointsForPeriod(streamID string, start, end time.Time) ([]temporal.Point, error) {
	records, err := s.EntriesByStream(streamID, start, end)
	if err != nil {
		return nil, err
	}
	points := make([]temporal.Point, len(records))
	for i, r := range records {
		points[i] = temporal.Point{Timestamp: r.Timestamp, Matrix: r.Matrix}
	}
	return points, nil
}

// Streams lists the stream ids with entries at or after the given time.
func (s *Store) Streams(since time.Time) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT stream_id
		FROM entries
		WHERE timestamp_ns >= ?
		ORDER BY stream_id ASC`, since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		streams = append(streams, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streams: %w", err)
	}
	return streams, nil
}

// InsertResult persists a monitoring result.
func (s *Store) InsertResult(r *monitor.Result) error {
	intervention := 0
	if r.InterventionDetected {
		intervention = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO results (session_id, stream_id, timestamp_ns, deg_index, status, severity, alert_level, intervention)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.StreamID, r.Timestamp.UnixNano(),
		r.Matrix.DegradationIndex, string(r.Matrix.Status),
		string(r.Severity), string(r.AlertLevel), intervention,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// InterventionCount returns the number of interventions on a stream.
func (s *Store) InterventionCount(streamID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM results WHERE stream_id = ? AND intervention = 1`, streamID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count interventions: %w", err)
	}
	return n, nil
}

// InsertAlert persists an emitted alert event.
func (s *Store) InsertAlert(a *monitor.Alert) error {
	_, err := s.db.Exec(`
		INSERT INTO alerts (alert_id, stream_id, session_id, timestamp_ns, level, message, deg_index, evidence_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AlertID, a.StreamID, a.SessionID, a.Timestamp.UnixNano(),
		string(a.Level), a.Message, a.Index, a.EvidenceHash,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// AlertsByStream retrieves alerts for a stream, newest first.
func (s *Store) AlertsByStream(streamID string, limit int) ([]*monitor.Alert, error) {
	rows, err := s.db.Query(`
		SELECT alert_id, stream_id, session_id, timestamp_ns, level, message, deg_index, evidence_hash
		FROM alerts
		WHERE stream_id = ?
		ORDER BY timestamp_ns DESC
		LIMIT ?`, streamID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*monitor.Alert
	for rows.Next() {
		var a monitor.Alert
		var tsNs int64
		var level string
		if err := rows.Scan(&a.AlertID, &a.StreamID, &a.SessionID, &tsNs, &level, &a.Message, &a.Index, &a.EvidenceHash); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Timestamp = time.Unix(0, tsNs).UTC()
		a.Level = monitor.AlertLevel(level)
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// InsertLink mirrors a chain link into the queryable index.
func (s *Store) InsertLink(l *chain.Link) error {
	_, err := s.db.Exec(`
		INSERT INTO links (ordinal, entry_hash, prev_hash, link_hash, timestamp_ns)
		VALUES (?, ?, ?, ?, ?)`,
		l.Ordinal, l.EntryHash, l.PrevHash, l.LinkHash, l.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// GetLink retrieves a mirrored link by ordinal, or nil if absent.
func (s *Store) GetLink(ordinal uint64) (*chain.Link, error) {
	var l chain.Link
	var tsNs int64

	err := s.db.QueryRow(`
		SELECT ordinal, entry_hash, prev_hash, link_hash, timestamp_ns
		FROM links WHERE ordinal = ?`, ordinal,
	).Scan(&l.Ordinal, &l.EntryHash, &l.PrevHash, &l.LinkHash, &tsNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get link: %w", err)
	}

	l.Timestamp = time.Unix(0, tsNs).UTC()
	return &l, nil
}

// LinkCount returns the number of mirrored links.
func (s *Store) LinkCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM links`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count links: %w", err)
	}
	return n, nil
}
