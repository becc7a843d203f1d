package core

// limiter.go bounds concurrent staging requests and serializes requests that
// target the same workspace.
//
// Requests for different workspaces share nothing and run in parallel up to
// the limiter's capacity. Two requests for one workspace would otherwise race
// their clone and copy batches exactly like a single unsequenced plan.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyStagingRequests is returned when all slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyStagingRequests = errors.New("too many concurrent staging requests, please try again later")

// DefaultMaxConcurrentStaging is the default limit for parallel staging requests.
const DefaultMaxConcurrentStaging = 8

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// StagingLimiter controls concurrent staging using a semaphore.
type StagingLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.Mutex
	active int
	idle   chan struct{} // closed while no request is in progress
}

// NewStagingLimiter creates a limiter allowing at most maxConcurrent requests.
func NewStagingLimiter(maxConcurrent int, maxWait time.Duration) *StagingLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentStaging
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	idle := make(chan struct{})
	close(idle)
	return &StagingLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		idle:      idle,
	}
}

// Acquire waits for a slot. The caller must call Release when done.
func (l *StagingLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		if l.active == 0 {
			l.idle = make(chan struct{})
		}
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyStagingRequests
	}
}

// Release frees a slot taken by Acquire.
func (l *StagingLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		close(l.idle)
	}
	l.mu.Unlock()

	<-l.semaphore
}

// WaitForDrain blocks until no request is in progress or ctx ends.
func (l *StagingLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StagingLimiterStatus is a snapshot of the limiter.
type StagingLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *StagingLimiter) Status() StagingLimiterStatus {
	l.mu.Lock()
	active := l.active
	l.mu.Unlock()

	return StagingLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}

// workspaceLocks hands out one lock per workspace id. Entries are removed
// when the last holder releases.
type workspaceLocks struct {
	mu    sync.Mutex
	locks map[string]*workspaceLock
}

type workspaceLock struct {
	ch   chan struct{}
	refs int
}

func newWorkspaceLocks() *workspaceLocks {
	return &workspaceLocks{locks: make(map[string]*workspaceLock)}
}

// lock blocks until workspaceID is free or ctx ends. The returned func unlocks.
func (w *workspaceLocks) lock(ctx context.Context, workspaceID string) (func(), error) {
	w.mu.Lock()
	l, ok := w.locks[workspaceID]
	if !ok {
		l = &workspaceLock{ch: make(chan struct{}, 1)}
		w.locks[workspaceID] = l
	}
	l.refs++
	w.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			w.release(workspaceID, l)
		}, nil
	case <-ctx.Done():
		w.release(workspaceID, l)
		return nil, ctx.Err()
	}
}

func (w *workspaceLocks) release(workspaceID string, l *workspaceLock) {
	w.mu.Lock()
	defer w.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(w.locks, workspaceID)
	}
}
