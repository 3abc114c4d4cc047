package ratelimiter

import (
	"testing"
	"time"
)

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	if !l.Allow("caller-a", now) || !l.Allow("caller-a", now) {
		t.Fatal("burst of 2 should admit two requests")
	}
	if l.Allow("caller-a", now) {
		t.Fatal("third immediate request should be rejected")
	}
	// Other keys have their own bucket.
	if !l.Allow("caller-b", now) {
		t.Fatal("distinct key should be admitted")
	}
	// Tokens refill over time.
	if !l.Allow("caller-a", now.Add(time.Second)) {
		t.Fatal("request after refill should be admitted")
	}
}

func TestNilAndEmptyKeyPassThrough(t *testing.T) {
	var l *MapLimiter
	if !l.Allow("anything", time.Now()) {
		t.Fatal("nil limiter must admit everything")
	}
	if l.Size() != 0 {
		t.Fatal("nil limiter has no keys")
	}
	l = New(1, 1, time.Minute)
	if !l.Allow("", time.Now()) {
		t.Fatal("empty key must bypass limiting")
	}
}

func TestInvalidConfigDisablesLimiting(t *testing.T) {
	if New(0, 5, time.Minute) != nil {
		t.Fatal("zero rps must disable the limiter")
	}
	if New(5, 0, time.Minute) != nil {
		t.Fatal("zero burst must disable the limiter")
	}
}

func TestSizeTracksKeys(t *testing.T) {
	l := New(10, 10, time.Minute)
	now := time.Now()
	l.Allow("a", now)
	l.Allow("b", now)
	l.Allow("a", now)
	if got := l.Size(); got != 2 {
		t.Fatalf("size: got %d, want 2", got)
	}
}
