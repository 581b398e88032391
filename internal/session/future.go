package session

import (
	"context"
	"sync"
)

// Future is the pending result of a session. It settles exactly once.
type Future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	settled   bool
	val       T
	err       error
	callbacks []func(T, error)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// settle records the outcome. Later calls are no-ops and report false.
func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.val, f.err = v, err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx ends. A context error leaves
// the session itself untouched.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while pending.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err, f.settled
}

// OnSettle registers fn to run with the outcome. If the future has already
// settled fn runs immediately on the calling goroutine; otherwise it runs on
// the goroutine that settles it.
func (f *Future[T]) OnSettle(fn func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	fn(v, err)
}

// Resolved returns an already-settled future.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.settle(v, nil)
	return f
}

// Rejected returns an already-failed future.
func Rejected[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.settle(zero, err)
	return f
}
