package connection

import (
	"testing"
	"time"
)

func TestReconnectPolicy_Enabled(t *testing.T) {
	tests := []struct {
		attempts int
		want     bool
	}{
		{0, false},
		{1, true},
		{5, true},
		{-1, true},
	}

	for _, tt := range tests {
		p := ReconnectPolicy{MaxAttempts: tt.attempts}
		if got := p.Enabled(); got != tt.want {
			t.Errorf("MaxAttempts=%d: Enabled() = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestReconnectPolicy_Exhausted(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 3}

	for attempt := 1; attempt <= 3; attempt++ {
		if p.Exhausted(attempt) {
			t.Errorf("attempt %d should be allowed", attempt)
		}
	}
	if !p.Exhausted(4) {
		t.Error("attempt 4 should exhaust a 3-attempt policy")
	}

	unlimited := ReconnectPolicy{MaxAttempts: -1}
	if unlimited.Exhausted(1000) {
		t.Error("unlimited policy should never be exhausted")
	}
}

func TestReconnectPolicy_DelayWithoutJitter(t *testing.T) {
	p := ReconnectPolicy{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestReconnectPolicy_DelayJitterBounds(t *testing.T) {
	p := DefaultReconnectPolicy()

	for attempt := 1; attempt <= 6; attempt++ {
		for i := 0; i < 100; i++ {
			d := p.Delay(attempt)
			if d < 0 || d > p.MaxDelay {
				t.Fatalf("Delay(%d) = %v, outside [0, %v]", attempt, d, p.MaxDelay)
			}
		}
	}

	// First attempt: 1s ± 50%
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("Delay(1) = %v, want within [500ms, 1.5s]", d)
		}
	}
}
