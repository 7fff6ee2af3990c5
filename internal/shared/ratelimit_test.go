package shared

import "testing"

func TestRateLimitersPerKey(t *testing.T) {
	rl := NewRateLimiters(0.001, 2)

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("a") {
		t.Error("third event should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other keys have their own bucket")
	}

	rl.Forget("a")
	if rl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rl.Len())
	}
	if !rl.Allow("a") {
		t.Error("forgotten key should start with a full bucket")
	}
}
