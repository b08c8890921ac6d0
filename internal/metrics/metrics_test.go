package metrics

import "testing"

func TestMetrics_IncAddGet(t *testing.T) {
	m := New()
	m.Inc(EventSent)
	m.Inc(EventSent)
	m.Add(EventReceived, 5)

	if got := m.Get(EventSent); got != 2 {
		t.Fatalf("%s=%d, want 2", EventSent, got)
	}
	if got := m.Get(EventReceived); got != 5 {
		t.Fatalf("%s=%d, want 5", EventReceived, got)
	}
	if got := m.Get(ToolCallFailed); got != 0 {
		t.Fatalf("%s=%d, want 0", ToolCallFailed, got)
	}
}

func TestMetrics_SnapshotIsCopy(t *testing.T) {
	m := New()
	m.Inc(SessionStarted)
	snap := m.Snapshot()
	snap[SessionStarted] = 100
	if got := m.Get(SessionStarted); got != 1 {
		t.Fatalf("snapshot mutation leaked: %d", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(EventSent)
	if got := m.Get(EventSent); got != 0 {
		t.Fatalf("nil Get=%d", got)
	}
	if len(m.Snapshot()) != 0 {
		t.Fatalf("nil Snapshot not empty")
	}
}
