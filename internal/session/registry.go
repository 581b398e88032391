package session

import (
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/shared/id"
)

var (
	// ErrTimeout rejects sessions that outlive the registry's timeout policy.
	ErrTimeout = errors.New("session timed out")
	// ErrClosed rejects sessions outstanding when the registry closes.
	ErrClosed = errors.New("session registry closed")
)

type options struct {
	timeout   time.Duration
	generator *id.Generator
	observer  func(pending int)
}

// Option configures a Registry.
type Option func(*options)

// WithTimeout rejects sessions with ErrTimeout after d. Zero disables the
// policy and sessions wait indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithGenerator sets the key generator.
func WithGenerator(g *id.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithObserver is called with the pending count after every change.
func WithObserver(fn func(pending int)) Option {
	return func(o *options) { o.observer = fn }
}

type entry[T any] struct {
	future *Future[T]
	timer  *time.Timer
}

// Registry correlates outstanding asynchronous calls with their replies.
// Insertion happens on call, removal exactly once on the matching reply;
// replies for unknown keys are reported and otherwise ignored.
type Registry[T any] struct {
	prefix string
	opts   options

	mu      sync.Mutex
	pending map[string]*entry[T]
	closed  error
}

// NewRegistry creates a registry whose keys carry prefix.
func NewRegistry[T any](prefix string, opts ...Option) *Registry[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.generator == nil {
		o.generator = id.Default()
	}
	return &Registry[T]{
		prefix:  prefix,
		opts:    o,
		pending: make(map[string]*entry[T]),
	}
}

// Allocate creates a session under a fresh key.
func (r *Registry[T]) Allocate() (string, *Future[T]) {
	key := r.opts.generator.NewKey(r.prefix).String()
	return key, r.Track(key)
}

// Track creates a session under a caller-chosen key. If the key is already
// pending, the existing future is returned.
func (r *Registry[T]) Track(key string) *Future[T] {
	r.mu.Lock()
	if r.closed != nil {
		err := r.closed
		r.mu.Unlock()
		return Rejected[T](err)
	}
	if e, ok := r.pending[key]; ok {
		r.mu.Unlock()
		return e.future
	}

	e := &entry[T]{future: newFuture[T]()}
	if r.opts.timeout > 0 {
		e.timer = time.AfterFunc(r.opts.timeout, func() {
			r.Reject(key, ErrTimeout)
		})
	}
	r.pending[key] = e
	count := len(r.pending)
	r.mu.Unlock()

	r.observe(count)
	return e.future
}

// Resolve settles the session successfully. It reports false for unknown
// keys.
func (r *Registry[T]) Resolve(key string, v T) bool {
	e := r.take(key)
	if e == nil {
		return false
	}
	return e.future.settle(v, nil)
}

// Reject settles the session with err. It reports false for unknown keys.
func (r *Registry[T]) Reject(key string, err error) bool {
	e := r.take(key)
	if e == nil {
		return false
	}
	var zero T
	return e.future.settle(zero, err)
}

// Remove drops the session without settling it. Removing an unknown or
// already-removed key is a no-op.
func (r *Registry[T]) Remove(key string) bool {
	return r.take(key) != nil
}

// Has reports whether key is pending.
func (r *Registry[T]) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Pending returns the number of outstanding sessions.
func (r *Registry[T]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close rejects every outstanding session with err (ErrClosed when nil) and
// makes later allocations fail immediately.
func (r *Registry[T]) Close(err error) {
	if err == nil {
		err = ErrClosed
	}

	r.mu.Lock()
	if r.closed != nil {
		r.mu.Unlock()
		return
	}
	r.closed = err
	pending := r.pending
	r.pending = make(map[string]*entry[T])
	r.mu.Unlock()

	var zero T
	for _, e := range pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.future.settle(zero, err)
	}
	r.observe(0)
}

func (r *Registry[T]) take(key string) *entry[T] {
	r.mu.Lock()
	e, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	count := len(r.pending)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	r.observe(count)
	return e
}

func (r *Registry[T]) observe(count int) {
	if r.opts.observer != nil {
		r.opts.observer(count)
	}
}
