package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a breaker.
type Settings struct {
	// Probes is how many trial requests a half-open breaker admits, and how
	// many must succeed before it closes again.
	Probes uint32
	// Window clears the counts of a closed breaker periodically.
	Window time.Duration
	// Cooldown is how long an open breaker rejects before half-opening.
	Cooldown time.Duration
	// Trip decides when a closed breaker opens. Defaults to five
	// consecutive failures.
	Trip func(counts Counts) bool
	// OnStateChange is called with the breaker name on every transition.
	OnStateChange func(name string, from State, to State)
}

// Counts holds the statistics of the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards one upstream. Callers ask Allow before a request and
// report the outcome through the returned function.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	counts     Counts
	generation uint64
	expiry     time.Time
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.Probes == 0 {
		settings.Probes = 1
	}
	if settings.Window == 0 {
		settings.Window = time.Minute
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Trip == nil {
		settings.Trip = ConsecutiveFailures(5)
	}

	b := &Breaker{
		name:     name,
		settings: settings,
		now:      time.Now,
	}
	b.expiry = b.now().Add(settings.Window)
	return b
}

// ConsecutiveFailures trips after n failures in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh(b.now())
}

// Counts returns a copy of the current counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Allow admits a request or rejects it with ErrCircuitOpen or
// ErrTooManyRequests. An admitted caller must call done exactly once.
// Outcomes reported after the breaker changed generation are ignored.
func (b *Breaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.refresh(b.now())
	switch {
	case state == StateOpen:
		return nil, ErrCircuitOpen
	case state == StateHalfOpen && b.counts.Requests >= b.settings.Probes:
		return nil, ErrTooManyRequests
	}

	b.counts.Requests++
	generation := b.generation

	var once sync.Once
	return func(success bool) {
		once.Do(func() { b.report(generation, success) })
	}, nil
}

// Execute runs fn when the breaker admits it and records the result.
func (b *Breaker) Execute(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			done(false)
			panic(r)
		}
	}()

	err = fn()
	done(err == nil)
	return err
}

func (b *Breaker) report(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state := b.refresh(now)
	if generation != b.generation {
		return
	}

	if success {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.settings.Trip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// refresh applies time-based transitions and returns the state.
func (b *Breaker) refresh(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && !now.Before(b.expiry) {
			b.newGeneration(now.Add(b.settings.Window))
		}
	case StateOpen:
		if !now.Before(b.expiry) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	switch to {
	case StateClosed:
		b.newGeneration(now.Add(b.settings.Window))
	case StateOpen:
		b.newGeneration(now.Add(b.settings.Cooldown))
	case StateHalfOpen:
		b.newGeneration(time.Time{})
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) newGeneration(expiry time.Time) {
	b.generation++
	b.counts = Counts{}
	b.expiry = expiry
}
