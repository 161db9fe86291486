package core

// op_limiter.go controls concurrency of auth operations.
//
// Two limits apply. A session may run only one auth operation at a time;
// a second request while one is in flight fails fast with ErrAuthInProgress.
// Across all sessions a semaphore caps the number of concurrent calls to the
// identity backend. When all slots are occupied, new requests wait up to
// maxWait before failing with ErrTooManyAuthRequests.
//
// WaitForDrain blocks until every in-flight operation completes, for
// graceful shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAuthInProgress is returned when a session already has an auth operation in flight.
var ErrAuthInProgress = errors.New("auth operation already in progress")

// ErrTooManyAuthRequests is returned when all backend slots stay occupied for maxWait.
var ErrTooManyAuthRequests = errors.New("too many auth requests in flight, please try again later")

// DefaultMaxConcurrentOps is the default limit for parallel backend calls.
const DefaultMaxConcurrentOps = 16

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 10 * time.Second

// OpLimiter bounds auth operations per session and process-wide.
type OpLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu       sync.RWMutex
	active   int
	inflight map[string]struct{}
}

// NewOpLimiter creates a limiter that allows at most maxConcurrent simultaneous
// backend operations. Requests that cannot acquire a slot within maxWait
// receive ErrTooManyAuthRequests.
func NewOpLimiter(maxConcurrent int, maxWait time.Duration) *OpLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentOps
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &OpLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		inflight:  make(map[string]struct{}),
	}
}

// Begin claims the single-flight slot for key. It returns false if an
// operation for key is already running. The returned func releases the claim
// and must be called exactly once.
func (l *OpLimiter) Begin(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.inflight[key]; busy {
		return nil, false
	}
	l.inflight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.inflight, key)
			l.mu.Unlock()
		})
	}, true
}

// Acquire attempts to acquire a backend slot.
// The caller MUST call Release() when the operation completes.
func (l *OpLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Distinguish caller cancellation from our own wait timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyAuthRequests
	}
}

// Release releases a previously acquired slot.
func (l *OpLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of backend operations in progress.
func (l *OpLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all active operations complete or ctx is done.
func (l *OpLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// OpLimiterStatus is a snapshot of the limiter's state.
type OpLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
	Sessions      int `json:"sessions_in_flight"`
}

// Status returns the current limiter state for the health endpoint.
func (l *OpLimiter) Status() OpLimiterStatus {
	l.mu.RLock()
	active := l.active
	sessions := len(l.inflight)
	l.mu.RUnlock()

	return OpLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
		Sessions:      sessions,
	}
}
