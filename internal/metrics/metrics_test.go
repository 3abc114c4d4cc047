package metrics

import (
	"testing"
	"time"
)

func TestOperationAggregation(t *testing.T) {
	r := Default()
	r.OperationObserved("test.sync", OutcomeOK, 10*time.Millisecond)
	r.OperationObserved("test.sync", OutcomeOK, 30*time.Millisecond)
	r.OperationObserved("test.sync", OutcomePaused, 2*time.Millisecond)

	stats := r.OperationStats()
	stat, ok := stats["test.sync"]
	if !ok {
		t.Fatal("missing aggregate for test.sync")
	}
	if stat.Count != 3 || stat.Errors != 1 {
		t.Fatalf("count/errors: got %d/%d, want 3/1", stat.Count, stat.Errors)
	}
	if stat.AvgLatencyMs != 14 {
		t.Fatalf("avg latency: got %d, want 14", stat.AvgLatencyMs)
	}
	if stat.MaxLatencyMs != 30 || stat.LastLatencyMs != 2 {
		t.Fatalf("max/last latency: got %d/%d, want 30/2", stat.MaxLatencyMs, stat.LastLatencyMs)
	}

	if Default().ErrorCounters()[OutcomePaused] < 1 {
		t.Fatal("paused outcome not counted")
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default must return the same recorder")
	}
	// Registering collectors twice would panic; reaching here means the
	// second Default call skipped re-registration.
	Default().EventAppended("treasury.deposit")
	Default().ReserveSet("0xa1", 100)
	Default().RPCServed("treasury.sync", "ok")
}
