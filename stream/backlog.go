// Package stream delivers a run's lifecycle events to clients over
// server-sent events and gates how many long-lived streams may be open at
// once. Admission is checked before any stream resource is allocated, so
// an overloaded server answers cheaply.
package stream

import (
	"fmt"
	"sync"
	"time"
)

// DefaultRetryAfter is the retry hint attached to busy responses when the
// backlog is constructed without one.
const DefaultRetryAfter = 5 * time.Second

// ErrBusy reports a rejected stream admission. Pending and Limit describe
// the backlog at rejection time; RetryAfter is the suggested client
// backoff.
type ErrBusy struct {
	Pending    int
	Limit      int
	RetryAfter time.Duration
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("stream: backlog full (%d/%d), retry in %s", e.Pending, e.Limit, e.RetryAfter)
}

// Backlog counts open streams against a fixed ceiling. It is the only
// cross-run shared mutable resource; a plain mutex keeps the count exact
// under concurrent admits and releases. A ceiling of zero rejects every
// admission unconditionally.
type Backlog struct {
	mu         sync.Mutex
	pending    int
	limit      int
	retryAfter time.Duration
}

// NewBacklog constructs a backlog with the given ceiling. A non-positive
// retryAfter falls back to DefaultRetryAfter.
func NewBacklog(limit int, retryAfter time.Duration) *Backlog {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	return &Backlog{limit: limit, retryAfter: retryAfter}
}

// Admit claims a stream slot. On success the returned release function
// frees the slot; calling it more than once is safe. On rejection the
// error is an *ErrBusy carrying the backlog state at rejection time.
func (b *Backlog) Admit() (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending >= b.limit {
		return nil, &ErrBusy{Pending: b.pending, Limit: b.limit, RetryAfter: b.retryAfter}
	}
	b.pending++

	var once sync.Once
	release := func() {
		once.Do(func() {
			b.mu.Lock()
			b.pending--
			b.mu.Unlock()
		})
	}
	return release, nil
}

// Snapshot answers the synchronous backlog query: current pending count
// and the ceiling.
func (b *Backlog) Snapshot() (pending, limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending, b.limit
}

// Full reports whether a new admission would be rejected right now. The
// answer may be stale by the time a stream is actually opened; Admit is
// the authoritative check.
func (b *Backlog) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending >= b.limit
}
