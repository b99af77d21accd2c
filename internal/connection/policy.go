package connection

import (
	"math/rand"
	"time"
)

// ReconnectPolicy decides whether and when to retry after a connection drop.
//
// MaxAttempts: 0 disables reconnection, negative means unlimited.
// Delays grow as BaseDelay * 2^(attempt-1), capped at MaxDelay, then randomized by
// ±Jitter of the computed delay.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultReconnectPolicy returns sensible defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    5 * time.Second,
		Jitter:      0.5,
	}
}

// Enabled reports whether any reconnection is attempted.
func (p ReconnectPolicy) Enabled() bool {
	return p.MaxAttempts != 0
}

// Exhausted reports whether attempt (1-based) is beyond the allowed attempts.
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	if p.MaxAttempts < 0 {
		return false
	}
	return attempt > p.MaxAttempts
}

// Delay returns the wait before attempt (1-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter > 0 && d > 0 {
		delta := float64(d) * p.Jitter
		d = time.Duration(float64(d) - delta + rand.Float64()*2*delta)
		if d < 0 {
			d = 0
		}
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}

	return d
}
