package guest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrScriptTimeout interrupts a job that runs longer than the eval timeout.
var ErrScriptTimeout = errors.New("script execution timed out")

// ErrLoopStopped is returned by Do after the loop has stopped.
var ErrLoopStopped = errors.New("event loop stopped")

// Job runs on the loop goroutine with exclusive access to the VM.
type Job func(vm *goja.Runtime)

// Loop owns a goja runtime and serializes every access to it. Jobs never
// block on I/O replies; asynchronous results come back as further jobs.
type Loop struct {
	vm      *goja.Runtime
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	queue  []Job
	closed bool
	wake   chan struct{}
	done   chan struct{}

	// interrupt generation, guards against a late timer hitting the next job
	imu sync.Mutex
	gen uint64
}

// NewLoop creates a loop with a fresh runtime. Node-style globals are
// removed.
func NewLoop(cfg Config, logger *zap.Logger) *Loop {
	vm := goja.New()
	if cfg.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(cfg.MaxCallStack)
	}

	for _, name := range []string{"require", "process", "module", "exports"} {
		_ = vm.Set(name, goja.Undefined())
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	return &Loop{
		vm:      vm,
		timeout: cfg.EvalTimeout,
		logger:  logger,
		queue:   make([]Job, 0, queueSize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Post queues job. It never blocks and is safe from any goroutine, including
// the loop itself. It reports false once the loop has stopped.
func (l *Loop) Post(job Job) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, job)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it.
func (l *Loop) Do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	result := make(chan error, 1)
	if !l.Post(func(vm *goja.Runtime) { result <- fn(vm) }) {
		return ErrLoopStopped
	}

	select {
	case err := <-result:
		return err
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until ctx ends or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			jobs := l.queue
			l.queue = make([]Job, 0, cap(jobs))
			l.mu.Unlock()

			if len(jobs) == 0 {
				break
			}
			for _, job := range jobs {
				l.exec(job)
			}
		}
	}
}

// Stop ends the loop. Queued jobs are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}

// Done is closed once the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) exec(job Job) {
	var timer *time.Timer
	if l.timeout > 0 {
		l.imu.Lock()
		l.gen++
		gen := l.gen
		l.imu.Unlock()

		timer = time.AfterFunc(l.timeout, func() {
			l.imu.Lock()
			defer l.imu.Unlock()
			if l.gen == gen {
				l.vm.Interrupt(ErrScriptTimeout)
			}
		})
	}

	defer func() {
		if timer != nil {
			timer.Stop()
			l.imu.Lock()
			l.gen++
			l.vm.ClearInterrupt()
			l.imu.Unlock()
		}
		if r := recover(); r != nil {
			l.logger.Error("Guest job panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	job(l.vm)
}
