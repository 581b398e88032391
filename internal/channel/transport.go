package channel

import (
	"context"
	"errors"
)

// Wildcard is the peer origin that accepts any sender. It is used only when
// the embedding context is opaque and no origin can be derived.
const Wildcard = "*"

// ErrClosed is returned by transports after Close.
var ErrClosed = errors.New("channel closed")

// Envelope is one message in flight. Origin identifies the sender and is
// always stamped by the transport from the connection itself; Target is the
// origin the sender intends to reach.
type Envelope struct {
	Origin string
	Target string
	Data   []byte
}

// Transport moves envelopes between exactly two parties. Delivery is FIFO per
// direction and nothing more.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}
