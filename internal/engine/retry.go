package engine

import "time"

// ReconnectPolicy decides how long to wait before re-opening a session after
// a non-logout close. The contract is only that every such close is followed
// by exactly one new connection attempt; the delay curve is tunable.
type ReconnectPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay per consecutive attempt up to a cap.
// The attempt counter resets when a connection reaches the open state.
type ExponentialBackoff struct {
	Base time.Duration
	Cap  time.Duration
}

func NewExponentialBackoff(base, cap time.Duration) *ExponentialBackoff {
	if base <= 0 {
		base = 2 * time.Second
	}
	if cap < base {
		cap = base
	}
	return &ExponentialBackoff{Base: base, Cap: cap}
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			return b.Cap
		}
	}
	if delay > b.Cap {
		return b.Cap
	}
	return delay
}

// ImmediateReconnect reconnects without delay, matching the behavior of
// transports that already pace their own connection attempts.
type ImmediateReconnect struct{}

func (ImmediateReconnect) NextDelay(int) time.Duration { return 0 }
