// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience provides the retry machinery used by the ingest
// supervisor: bounded exponential backoff with cancellable timers.
package resilience

import (
	"sync"
	"time"
)

// Backoff computes bounded exponential delays: min(base·2^attempt, cap).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff matches the supervisor retry policy: 2s base, 10s cap.
var DefaultBackoff = Backoff{Base: 2 * time.Second, Cap: 10 * time.Second}

// Delay returns the delay before the given attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 2 * time.Second
	}
	capD := b.Cap
	if capD <= 0 {
		capD = 10 * time.Second
	}
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= capD {
			return capD
		}
	}
	if d > capD {
		return capD
	}
	return d
}

// RetryTimers tracks one cancellable retry timer per key. Scheduling a
// retry for a key replaces any pending one; stop requests cancel them.
type RetryTimers struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewRetryTimers creates an empty timer set.
func NewRetryTimers() *RetryTimers {
	return &RetryTimers{timers: make(map[string]*time.Timer)}
}

// Schedule arms a timer for key after delay. fn runs on the timer
// goroutine; it must re-enter the owning component through its own lock.
func (r *RetryTimers) Schedule(key string, delay time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[key]; ok {
		t.Stop()
	}
	r.timers[key] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, key)
		r.mu.Unlock()
		fn()
	})
}

// Cancel stops a pending timer for key, if any. Returns true when a
// timer was pending and has been stopped before firing.
func (r *RetryTimers) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[key]
	if !ok {
		return false
	}
	delete(r.timers, key)
	return t.Stop()
}

// CancelAll stops every pending timer.
func (r *RetryTimers) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, t := range r.timers {
		t.Stop()
		delete(r.timers, k)
	}
}

// Pending reports whether a timer is armed for key.
func (r *RetryTimers) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}
