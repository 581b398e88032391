package channel

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

// Handler receives authenticated, decoded messages. It runs on the Serve
// goroutine and must not block on replies from the same channel.
type Handler func(ctx context.Context, msg protocol.Message)

// ErrEncode marks a message that has no wire form. Nothing was sent.
var ErrEncode = errors.New("encode")

// Channel is the origin-checked message link between guest and host.
type Channel struct {
	transport Transport
	self      string
	peer      string
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// New creates a channel over t. self is this party's origin; peer is the
// negotiated origin of the other party, or Wildcard.
func New(t Transport, self, peer string, opts ...Option) *Channel {
	c := &Channel{
		transport: t,
		self:      self,
		peer:      peer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Self returns this party's origin.
func (c *Channel) Self() string { return c.self }

// Peer returns the negotiated peer origin.
func (c *Channel) Peer() string { return c.peer }

// Send encodes msg and sends it targeted at the peer origin.
func (c *Channel) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrEncode, msg.Variant(), err)
	}

	env := Envelope{Origin: c.self, Target: c.peer, Data: data}
	if err := c.transport.Send(ctx, env); err != nil {
		return fmt.Errorf("send %s: %w", msg.Variant(), err)
	}

	c.metrics.RecordMessage("out", msg.Variant())
	return nil
}

// Serve reads envelopes until ctx ends or the transport closes, passing each
// accepted message to h. Envelopes from an unexpected origin, addressed to a
// different origin, or that do not decode are logged and dropped. The
// transport is closed when ctx ends. A closed transport returns nil.
func (c *Channel) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.transport.Close() })
	defer stop()

	for {
		env, err := c.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			return err
		}

		if !c.accept(env) {
			continue
		}

		msg, err := protocol.Decode(env.Data)
		if err != nil {
			c.metrics.RecordDropped("malformed")
			c.logger.Warn("Dropping undecodable message",
				zap.String("origin", env.Origin),
				zap.Int("bytes", len(env.Data)),
				zap.Error(err))
			continue
		}

		c.metrics.RecordMessage("in", msg.Variant())
		h(ctx, msg)
	}
}

// Close closes the underlying transport.
func (c *Channel) Close() error {
	return c.transport.Close()
}

func (c *Channel) accept(env Envelope) bool {
	if c.peer != Wildcard && env.Origin != c.peer {
		c.metrics.RecordDropped("origin")
		c.logger.Warn("Rejecting message from unexpected origin",
			zap.String("origin", env.Origin),
			zap.String("expected", c.peer))
		return false
	}
	if env.Target != Wildcard && env.Target != c.self {
		c.metrics.RecordDropped("target")
		c.logger.Warn("Rejecting message addressed elsewhere",
			zap.String("target", env.Target),
			zap.String("self", c.self))
		return false
	}
	return true
}
