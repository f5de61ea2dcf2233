package delivery

import (
	"testing"
	"time"
)

func TestBackoffPolicy_DoublesEachAttempt(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Multiplier: 2, Jitter: 0, Cap: time.Hour}
	if got := p.NextDelay(0); got != time.Second {
		t.Errorf("NextDelay(0) = %v, want 1s", got)
	}
	if got := p.NextDelay(1); got != 2*time.Second {
		t.Errorf("NextDelay(1) = %v, want 2s", got)
	}
	if got := p.NextDelay(3); got != 8*time.Second {
		t.Errorf("NextDelay(3) = %v, want 8s", got)
	}
}

func TestBackoffPolicy_CapsAtMaximum(t *testing.T) {
	p := BackoffPolicy{Base: time.Minute, Multiplier: 2, Jitter: 0, Cap: 5 * time.Minute}
	got := p.NextDelay(10)
	if got != 5*time.Minute {
		t.Errorf("NextDelay(10) = %v, want capped at 5m", got)
	}
}

func TestBackoffPolicy_JitterStaysWithinBounds(t *testing.T) {
	p := BackoffPolicy{Base: time.Minute, Multiplier: 1, Jitter: 0.25, Cap: time.Hour}
	for i := 0; i < 50; i++ {
		got := p.NextDelay(0)
		if got < 45*time.Second || got > 75*time.Second {
			t.Fatalf("NextDelay(0) = %v, want within [45s, 75s]", got)
		}
	}
}

func TestDefaultBackoffPolicy_MatchesSpecDefaults(t *testing.T) {
	p := DefaultBackoffPolicy()
	if p.Base != 60*time.Second || p.Multiplier != 2 || p.Jitter != 0.25 || p.Cap != time.Hour {
		t.Errorf("unexpected default policy: %+v", p)
	}
}
