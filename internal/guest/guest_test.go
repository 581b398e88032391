package guest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/channel"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

const (
	hostOrigin  = "http://localhost:8000"
	guestOrigin = "http://sandbox.localhost:8000"
	waitTimeout = 2 * time.Second
)

// harness plays the host side of a guest over an in-memory pipe.
type harness struct {
	t     *testing.T
	ctx   context.Context
	host  *channel.Channel
	guest *Guest
	msgs  chan protocol.Message
	seq   atomic.Int64
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	guestEnd, hostEnd := channel.Pipe(guestOrigin, hostOrigin)
	g := New(channel.New(guestEnd, guestOrigin, hostOrigin), cfg, zap.NewNop(), nil)
	host := channel.New(hostEnd, hostOrigin, guestOrigin)

	h := &harness{t: t, ctx: ctx, host: host, guest: g, msgs: make(chan protocol.Message, 64)}

	go func() {
		_ = host.Serve(ctx, func(_ context.Context, msg protocol.Message) { h.msgs <- msg })
	}()
	done := make(chan struct{})
	go func() {
		_ = g.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EvalTimeout = time.Second
	return cfg
}

func (h *harness) send(msg protocol.Message) {
	h.t.Helper()
	require.NoError(h.t, h.host.Send(h.ctx, msg))
}

func (h *harness) next() protocol.Message {
	h.t.Helper()
	select {
	case msg := <-h.msgs:
		return msg
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for guest message")
		return protocol.Message{}
	}
}

func (h *harness) expectNone(d time.Duration) {
	h.t.Helper()
	select {
	case msg := <-h.msgs:
		h.t.Fatalf("unexpected message %s", msg.Variant())
	case <-time.After(d):
	}
}

// startEval sends an eval and returns its key.
func (h *harness) startEval(script string, globals map[string]any) string {
	h.t.Helper()
	key := fmt.Sprintf("eval-%d", h.seq.Add(1))
	h.send(protocol.Message{Eval: &protocol.EvalRequest{Script: script, Globals: globals, Key: key}})
	return key
}

// awaitReply reads messages until the eval reply for key arrives. Other
// messages are returned alongside.
func (h *harness) awaitReply(key string) (*protocol.EvalReply, []protocol.Message) {
	h.t.Helper()
	var others []protocol.Message
	for {
		msg := h.next()
		if msg.EvalReply != nil && msg.EvalReply.Key == key {
			return msg.EvalReply, others
		}
		others = append(others, msg)
	}
}

func (h *harness) eval(script string, globals map[string]any) *protocol.EvalReply {
	h.t.Helper()
	reply, _ := h.awaitReply(h.startEval(script, globals))
	return reply
}

func (h *harness) mustEval(script string) any {
	h.t.Helper()
	reply := h.eval(script, nil)
	require.True(h.t, reply.Success, "eval %q failed: %v", script, reply.Error)
	return reply.Result
}

func (h *harness) init() {
	h.t.Helper()
	h.send(protocol.Message{Init: &protocol.Init{}})
	msg := h.next()
	require.NotNil(h.t, msg.Init)
	require.True(h.t, msg.Init.Ack)
}
