package ruleengine

import (
	"context"
	"time"
)

// WindowCounter is the state of one fixed rate-limit window after a hit.
type WindowCounter struct {
	Count       int64
	WindowStart time.Time
}

// CounterStore keeps fixed-window hit counters.
//
// Hit atomically loads the counter for key, starts a new window when none
// exists or more than window has elapsed since the stored start, increments
// it and stores it with a TTL slightly longer than window. Two concurrent
// hits on the same key must never observe the same count.
type CounterStore interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (WindowCounter, error)
}

// CounterTTL is the expiry counter stores apply to a window entry.
func CounterTTL(window time.Duration) time.Duration {
	return window + window/10
}
