package push

import "time"

// Backoff is a capped exponential reconnect schedule without jitter.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int // zero means unlimited
}

// DefaultBackoff starts at 3s, doubles up to 30s and gives up after 10 attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: 3 * time.Second, Max: 30 * time.Second, MaxAttempts: 10}
}

// Delay returns the wait before reconnect attempt number attempt+1.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether attempt reconnects have already been made without success.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
