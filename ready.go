// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"context"
	"sync"
	"time"
)

// readiness tracks whether the current document load has finished.
//
// States are NotReady and Ready. beginLoad moves to NotReady, finish with the
// latest sequence moves to Ready; nothing else changes the state. A failed load
// leaves the bridge NotReady.
type readiness struct {
	mu      sync.Mutex
	ready   bool
	seq     uint64        // Sequence of the latest load request
	readyCh chan struct{} // Closed while ready
}

func newReadiness() *readiness {
	return &readiness{readyCh: make(chan struct{})}
}

// beginLoad resets to NotReady and returns the sequence of the new load.
func (r *readiness) beginLoad() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if r.ready {
		r.ready = false
		r.readyCh = make(chan struct{})
	}
	return r.seq
}

// finish moves to Ready if seq is the latest load. It reports whether the state changed.
func (r *readiness) finish(seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq == 0 || seq != r.seq || r.ready {
		return false
	}
	r.ready = true
	close(r.readyCh)
	return true
}

func (r *readiness) isReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *readiness) wait() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readyCh
}

// IsReady reports whether the current document has finished loading.
func (b *Bridge) IsReady() bool {
	return b.readiness.isReady()
}

// WaitReady blocks until the current document has finished loading or timeout
// elapses, and reports whether it is ready. A negative timeout waits
// indefinitely; a zero timeout only checks. Content channels run their loop on
// their own goroutine, so calls and console messages keep flowing while waiting.
func (b *Bridge) WaitReady(timeout time.Duration) bool {
	if timeout < 0 {
		return b.WaitReadyContext(context.Background()) == nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return b.WaitReadyContext(ctx) == nil
}

// WaitReadyContext blocks until the current document has finished loading or ctx
// is done, in which case it returns ctx.Err().
func (b *Bridge) WaitReadyContext(ctx context.Context) error {
	ch := b.readiness.wait()
	select {
	case <-ch:
		return nil
	default:
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
