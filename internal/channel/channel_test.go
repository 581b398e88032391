package channel

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

const (
	hostOrigin  = "http://localhost:8000"
	guestOrigin = "http://sandbox.localhost:8000"
)

// collect serves ch in the background and returns received messages on a
// channel.
func collect(t *testing.T, ctx context.Context, ch *Channel) <-chan protocol.Message {
	t.Helper()
	out := make(chan protocol.Message, 16)
	go func() {
		_ = ch.Serve(ctx, func(_ context.Context, msg protocol.Message) { out <- msg })
	}()
	return out
}

func receive(t *testing.T, msgs <-chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return protocol.Message{}
	}
}

func TestPipeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	guestEnd, hostEnd := Pipe(guestOrigin, hostOrigin)
	guest := New(guestEnd, guestOrigin, hostOrigin)
	host := New(hostEnd, hostOrigin, guestOrigin)

	toGuest := collect(t, ctx, guest)
	toHost := collect(t, ctx, host)

	require.NoError(t, host.Send(ctx, protocol.Message{Init: &protocol.Init{}}))
	msg := receive(t, toGuest)
	require.NotNil(t, msg.Init)
	assert.False(t, msg.Init.Ack)

	require.NoError(t, guest.Send(ctx, protocol.Message{Init: &protocol.Init{Ack: true}}))
	msg = receive(t, toHost)
	require.NotNil(t, msg.Init)
	assert.True(t, msg.Init.Ack)
}

func TestPipeStampsSenderOrigin(t *testing.T) {
	a, b := Pipe("http://a.test", "http://b.test")
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, Envelope{Origin: "http://forged.test", Target: "http://b.test"}))
	env, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://a.test", env.Origin)
}

func TestPipeCloseClosesBothEnds(t *testing.T) {
	a, b := Pipe("http://a.test", "http://b.test")
	require.NoError(t, a.Close())

	_, err := b.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Send(context.Background(), Envelope{}), ErrClosed)
}

func TestRejectsForeignOrigin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The "host" here is really some other page
	evilEnd, guestEnd := Pipe("http://evil.test", guestOrigin)
	guest := New(guestEnd, guestOrigin, hostOrigin)
	msgs := collect(t, ctx, guest)

	evil := New(evilEnd, "http://evil.test", guestOrigin)
	require.NoError(t, evil.Send(ctx, protocol.Message{Init: &protocol.Init{}}))

	select {
	case msg := <-msgs:
		t.Fatalf("accepted message from foreign origin: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRejectsWrongTarget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostEnd, guestEnd := Pipe(hostOrigin, guestOrigin)
	guest := New(guestEnd, guestOrigin, hostOrigin)
	msgs := collect(t, ctx, guest)

	// Host believes it is talking to a different frame
	host := New(hostEnd, hostOrigin, "http://sandbox.other.test")
	require.NoError(t, host.Send(ctx, protocol.Message{Init: &protocol.Init{}}))

	select {
	case msg := <-msgs:
		t.Fatalf("accepted message addressed elsewhere: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWildcardPeerAcceptsAnyOrigin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostEnd, guestEnd := Pipe("http://anything.test", opaqueOrigin)
	guest := New(guestEnd, opaqueOrigin, Wildcard)
	msgs := collect(t, ctx, guest)

	host := New(hostEnd, "http://anything.test", Wildcard)
	require.NoError(t, host.Send(ctx, protocol.Message{Init: &protocol.Init{}}))

	msg := receive(t, msgs)
	assert.NotNil(t, msg.Init)
}

func TestDropsMalformedAndContinues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostEnd, guestEnd := Pipe(hostOrigin, guestOrigin)
	guest := New(guestEnd, guestOrigin, hostOrigin)
	msgs := collect(t, ctx, guest)

	require.NoError(t, hostEnd.Send(ctx, Envelope{Target: guestOrigin, Data: []byte(`{"nope": 1}`)}))
	require.NoError(t, hostEnd.Send(ctx, Envelope{Target: guestOrigin, Data: []byte(`not json`)}))

	host := New(hostEnd, hostOrigin, guestOrigin)
	require.NoError(t, host.Send(ctx, protocol.Message{Init: &protocol.Init{}}))

	msg := receive(t, msgs)
	assert.NotNil(t, msg.Init)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, _ := Pipe(guestOrigin, hostOrigin)
	ch := New(a, guestOrigin, hostOrigin)

	done := make(chan error, 1)
	go func() { done <- ch.Serve(ctx, func(context.Context, protocol.Message) {}) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestSendReportsUnencodableMessage(t *testing.T) {
	a, _ := Pipe(guestOrigin, hostOrigin)
	ch := New(a, guestOrigin, hostOrigin)

	err := ch.Send(context.Background(), protocol.Message{EvalReply: &protocol.EvalReply{
		Key:     "eval_1",
		Result:  math.NaN(),
		Success: true,
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncode)
	assert.NotErrorIs(t, err, ErrClosed)
}
