package channel

import (
	"context"
	"sync"
)

const pipeBuffer = 64

// PipeEnd is one side of an in-memory transport created by Pipe.
type PipeEnd struct {
	origin string
	in     <-chan Envelope
	out    chan<- Envelope

	closed    chan struct{}
	closeOnce *sync.Once
}

var _ Transport = (*PipeEnd)(nil)

// Pipe returns two connected in-memory transports. Envelopes sent on a carry
// aOrigin as their sender origin, envelopes sent on b carry bOrigin. Closing
// either end closes both.
func Pipe(aOrigin, bOrigin string) (a, b *PipeEnd) {
	ab := make(chan Envelope, pipeBuffer)
	ba := make(chan Envelope, pipeBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}

	a = &PipeEnd{origin: aOrigin, in: ba, out: ab, closed: closed, closeOnce: once}
	b = &PipeEnd{origin: bOrigin, in: ab, out: ba, closed: closed, closeOnce: once}
	return a, b
}

// Origin returns the origin stamped on envelopes sent from this end.
func (p *PipeEnd) Origin() string {
	return p.origin
}

// Send queues env for the other end. The sender origin is overwritten.
func (p *PipeEnd) Send(ctx context.Context, env Envelope) error {
	env.Origin = p.origin

	// Checked first so a closed pipe never accepts into a free buffer slot
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	select {
	case p.out <- env:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next envelope from the other end.
func (p *PipeEnd) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.closed:
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Close closes both ends.
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
