package monitor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"driftd/internal/capture"
	"driftd/internal/degrade"
)

const (
	testRootHash = "606a347f6e2502a23179c18e4a637ca15138aa2f04194c6e6a578f8d1f8d7287"
	testCID      = "bafybeihqz3x7k5t2m4n6p8r9s1v3w5y7a9c1e3g5i7k9m1o3q5s7u9w1y3"
)

// =============================================================================
// Helper functions
// =============================================================================

func testMonitor(t *testing.T) *Monitor {
	t.Helper()
	engine := degrade.NewEngine(testRootHash, testCID)
	return New(engine, testRootHash, testCID, DefaultConfig())
}

func testEntry(t *testing.T, origin, control string) *capture.Entry {
	t.Helper()
	rec := capture.NewRecorder(testRootHash, testCID)
	entry, err := rec.Record(capture.Request{
		Prompt:      "test prompt",
		OriginText:  origin,
		ControlText: control,
	}, nil)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	return entry
}

// stableEntry analyzes to index 0.
func stableEntry(t *testing.T) *capture.Entry {
	t.Helper()
	text := "the measured signal remains unchanged across both channels"
	return testEntry(t, text, text)
}

// criticalEntry analyzes to index 1: disjoint vocabularies.
func criticalEntry(t *testing.T) *capture.Entry {
	t.Helper()
	return testEntry(t,
		"alpha bravo charlie delta echo foxtrot",
		"uniform victor whiskey xray yankee zulu")
}

// =============================================================================
// Tests for Monitor
// =============================================================================

func TestMonitorStableEntry(t *testing.T) {
	m := testMonitor(t)

	result, alert, err := m.Monitor("stream-1", stableEntry(t))
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}

	if result.InterventionDetected {
		t.Error("stable entry should not detect intervention")
	}
	if result.Severity != SeverityLow {
		t.Errorf("Severity = %s, want LOW", result.Severity)
	}
	if result.AlertLevel != LevelInfo {
		t.Errorf("AlertLevel = %s, want INFO", result.AlertLevel)
	}
	if result.AlertTriggered {
		t.Error("stable entry should not trigger an alert condition")
	}
	// First sight on a stream always emits, even at INFO.
	if alert == nil {
		t.Fatal("first entry on a stream should emit")
	}
	if alert.Level != LevelInfo {
		t.Errorf("alert level = %s, want INFO", alert.Level)
	}
}

func TestMonitorCriticalEntry(t *testing.T) {
	m := testMonitor(t)

	result, alert, err := m.Monitor("stream-1", criticalEntry(t))
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}

	if !result.InterventionDetected {
		t.Error("disjoint texts should detect intervention")
	}
	if result.Severity != SeverityCritical {
		t.Errorf("Severity = %s, want CRITICAL", result.Severity)
	}
	if alert == nil {
		t.Fatal("critical entry should emit an alert")
	}
	if alert.Level != LevelCritical {
		t.Errorf("alert level = %s, want CRITICAL", alert.Level)
	}
	if alert.Index != 1 {
		t.Errorf("alert index = %v, want 1", alert.Index)
	}
	if len(alert.EvidenceHash) != 64 {
		t.Errorf("EvidenceHash length = %d, want 64 hex chars", len(alert.EvidenceHash))
	}
	if alert.AlertID != alert.EvidenceHash[:16] {
		t.Error("AlertID should be the evidence hash prefix")
	}
}

func TestMonitorDeduplication(t *testing.T) {
	m := testMonitor(t)

	// Same level twice within the cooldown: second emission suppressed.
	_, first, err := m.Monitor("stream-1", criticalEntry(t))
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if first == nil {
		t.Fatal("first critical entry should emit")
	}

	_, second, err := m.Monitor("stream-1", criticalEntry(t))
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if second != nil {
		t.Error("repeated level within cooldown should be suppressed")
	}
}

func TestMonitorLevelChangeEmits(t *testing.T) {
	m := testMonitor(t)

	if _, alert, _ := m.Monitor("stream-1", criticalEntry(t)); alert == nil {
		t.Fatal("first entry should emit")
	}
	// Level drops CRITICAL -> INFO: emits despite the cooldown.
	_, alert, err := m.Monitor("stream-1", stableEntry(t))
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if alert == nil {
		t.Error("level change should emit")
	}
}

func TestMonitorCooldownElapsed(t *testing.T) {
	m := testMonitor(t)

	current := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return current })

	if _, alert, _ := m.Monitor("stream-1", criticalEntry(t)); alert == nil {
		t.Fatal("first entry should emit")
	}

	current = current.Add(time.Minute)
	if _, alert, _ := m.Monitor("stream-1", criticalEntry(t)); alert != nil {
		t.Error("entry within cooldown should be suppressed")
	}

	current = current.Add(DefaultConfig().Cooldown)
	if _, alert, _ := m.Monitor("stream-1", criticalEntry(t)); alert == nil {
		t.Error("entry after cooldown should emit")
	}
}

func TestMonitorStreamsIndependent(t *testing.T) {
	m := testMonitor(t)

	if _, alert, _ := m.Monitor("stream-1", criticalEntry(t)); alert == nil {
		t.Fatal("stream-1 first entry should emit")
	}
	// A different stream has its own dedup state.
	if _, alert, _ := m.Monitor("stream-2", criticalEntry(t)); alert == nil {
		t.Error("stream-2 first entry should emit")
	}
}

func TestMonitorNilEntry(t *testing.T) {
	m := testMonitor(t)
	if _, _, err := m.Monitor("stream-1", nil); err == nil {
		t.Error("expected error for nil entry")
	}
}

func TestMonitorEmptyStreamFallsBackToSession(t *testing.T) {
	m := testMonitor(t)
	entry := criticalEntry(t)

	result, _, err := m.Monitor("", entry)
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if result.StreamID != entry.SessionID {
		t.Errorf("StreamID = %s, want session id %s", result.StreamID, entry.SessionID)
	}
}

func TestMonitorReusesPrecomputedMatrix(t *testing.T) {
	engine := degrade.NewEngine(testRootHash, testCID)
	m := New(engine, testRootHash, testCID, DefaultConfig())

	matrix, err := engine.Analyze("alpha bravo charlie", "alpha bravo charlie")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	rec := capture.NewRecorder(testRootHash, testCID)
	entry, err := rec.Record(capture.Request{
		Prompt:      "test prompt",
		OriginText:  "alpha bravo charlie",
		ControlText: "alpha bravo charlie",
	}, matrix)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	result, _, err := m.Monitor("stream-1", entry)
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if result.Matrix != matrix {
		t.Error("monitor should reuse the precomputed matrix")
	}
}

// =============================================================================
// Tests for MonitorBatch and Stats
// =============================================================================

func TestMonitorBatch(t *testing.T) {
	m := testMonitor(t)

	entries := []*capture.Entry{
		stableEntry(t),
		criticalEntry(t),
		criticalEntry(t), // same level, suppressed
	}

	results, alerts, err := m.MonitorBatch("stream-1", entries)
	if err != nil {
		t.Fatalf("MonitorBatch failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("results = %d, want 3", len(results))
	}
	// INFO (first sight) + CRITICAL (level change).
	if len(alerts) != 2 {
		t.Errorf("alerts = %d, want 2", len(alerts))
	}

	stats := m.Stats()
	if stats.Monitored != 3 {
		t.Errorf("Monitored = %d, want 3", stats.Monitored)
	}
	if stats.Interventions != 2 {
		t.Errorf("Interventions = %d, want 2", stats.Interventions)
	}
	if stats.Alerts != 2 {
		t.Errorf("Alerts = %d, want 2", stats.Alerts)
	}
}

func TestMonitorConcurrent(t *testing.T) {
	m := testMonitor(t)

	const workers = 8
	const perWorker = 10

	entry := criticalEntry(t)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			stream := fmt.Sprintf("stream-%d", w)
			for i := 0; i < perWorker; i++ {
				if _, _, err := m.Monitor(stream, entry); err != nil {
					t.Errorf("Monitor failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	stats := m.Stats()
	if stats.Monitored != workers*perWorker {
		t.Errorf("Monitored = %d, want %d", stats.Monitored, workers*perWorker)
	}
}
