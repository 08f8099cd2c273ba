package service

import (
	"context"
	"sync"
	"time"
)

// inFlightRequest tracks a single call that multiple callers may wait for.
type inFlightRequest[T any] struct {
	mu      sync.Mutex
	result  T
	err     error
	done    bool
	waiters []chan struct{} // closed when result is ready
}

// requestCoalescer runs at most one fn per key at a time; concurrent callers for
// the same key wait for and share its result.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest[T]
	timeout  time.Duration
}

func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		inFlight: make(map[string]*inFlightRequest[T]),
		timeout:  timeout,
	}
}

// GetOrDo waits for an in-flight call for key or starts fn. shared reports whether
// the result came from a call started by another caller. fn runs in its own
// goroutine and is not cancelled when a waiter gives up; waiting is bounded by
// ctx and the coalescer timeout.
func (rc *requestCoalescer[T]) GetOrDo(ctx context.Context, key string, fn func() (T, error)) (result T, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest[T]{}
		rc.inFlight[key] = req
	}
	notify := make(chan struct{})
	req.mu.Lock()
	if req.done {
		result, err = req.result, req.err
		req.mu.Unlock()
		rc.mu.Unlock()
		return result, true, err
	}
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()
	rc.mu.Unlock()

	if !exists {
		go rc.run(key, req, fn)
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-notify:
		req.mu.Lock()
		result, err = req.result, req.err
		req.mu.Unlock()
		return result, exists, err
	case <-waitCtx.Done():
		var zero T
		return zero, exists, waitCtx.Err()
	}
}

func (rc *requestCoalescer[T]) run(key string, req *inFlightRequest[T], fn func() (T, error)) {
	result, err := fn()

	req.mu.Lock()
	req.result = result
	req.err = err
	req.done = true
	waiters := req.waiters
	req.waiters = nil
	req.mu.Unlock()

	for _, notify := range waiters {
		close(notify)
	}

	rc.cleanup(key)
}

// cleanup removes the in-flight request for key once it completes.
func (rc *requestCoalescer[T]) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
