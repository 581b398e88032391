package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan *WebSocket, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrade(w, r, guestOrigin)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	defer srv.Close()

	guestEnd, err := Dial(ctx, wsURL(srv), guestOrigin, nil)
	require.NoError(t, err)
	hostEnd := <-accepted
	assert.Equal(t, guestOrigin, hostEnd.Peer())

	selfOrigin, err := OriginOf(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, selfOrigin, guestEnd.Peer())

	host := New(hostEnd, selfOrigin, guestOrigin)
	guest := New(guestEnd, guestOrigin, selfOrigin)
	toHost := collect(t, ctx, host)
	toGuest := collect(t, ctx, guest)

	require.NoError(t, host.Send(ctx, protocol.Message{Eval: &protocol.EvalRequest{Script: "1+1", Key: "k"}}))
	msg := receive(t, toGuest)
	require.NotNil(t, msg.Eval)
	assert.Equal(t, "1+1", msg.Eval.Script)

	require.NoError(t, guest.Send(ctx, protocol.Message{EvalReply: &protocol.EvalReply{Key: "k", Result: 2.0, Success: true}}))
	msg = receive(t, toHost)
	require.NotNil(t, msg.EvalReply)
	assert.Equal(t, 2.0, msg.EvalReply.Result)
}

func TestUpgradeRejectsUnexpectedOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = Upgrade(w, r, guestOrigin)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), wsURL(srv), "http://evil.test", nil)
	assert.Error(t, err)
}
