package resilience

import "sync"

// Group keeps one breaker per key, created on first use with shared
// settings. The fetch service keys breakers by upstream host.
type Group struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty group.
func NewGroup(settings Settings) *Group {
	return &Group{
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it if needed.
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[key]
	if !ok {
		b = New(key, g.settings)
		g.breakers[key] = b
	}
	return b
}

// Allow is shorthand for Get(key).Allow().
func (g *Group) Allow(key string) (func(success bool), error) {
	return g.Get(key).Allow()
}

// States returns the state of every breaker that is not closed.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	states := make(map[string]State)
	for _, b := range breakers {
		if s := b.State(); s != StateClosed {
			states[b.Name()] = s
		}
	}
	return states
}
