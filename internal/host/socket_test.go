package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type relayHarness struct {
	t      *testing.T
	relay  *SocketRelay
	events chan *protocol.SocketEvent
}

func newRelayHarness(t *testing.T, allowed []string) *relayHarness {
	t.Helper()
	h := &relayHarness{t: t, events: make(chan *protocol.SocketEvent, 64)}
	emit := func(_ context.Context, msg protocol.Message) error {
		h.events <- msg.Socket
		return nil
	}
	cfg := config.SocketConfig{HandshakeTimeout: config.Duration(2 * time.Second), MaxMessageBytes: 1 << 16}
	h.relay = NewSocketRelay(cfg, allowed, emit, nil, nil)
	t.Cleanup(h.relay.Close)
	return h
}

func (h *relayHarness) command(key, method string, args ...any) {
	if args == nil {
		args = []any{}
	}
	h.relay.Handle(&protocol.SocketEvent{Key: key, Method: method, Args: args})
}

func (h *relayHarness) next(method string) *protocol.SocketEvent {
	h.t.Helper()
	select {
	case ev := <-h.events:
		require.Equal(h.t, method, ev.Method, "unexpected event %+v", ev)
		return ev
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timed out waiting for %s", method)
		return nil
	}
}

func TestRelayEchoesAndCloses(t *testing.T) {
	h := newRelayHarness(t, nil)
	url := echoServer(t)

	h.command("ws_1", protocol.SocketNew, url)
	open := h.next(protocol.SocketOpen)
	assert.Equal(t, "ws_1", open.Key)
	assert.Equal(t, 1, h.relay.Active())

	h.command("ws_1", protocol.SocketSend, "ping")
	msg := h.next(protocol.SocketMessage)
	assert.Equal(t, []any{map[string]any{"binary": false, "data": "ping"}}, msg.Args)

	h.command("ws_1", protocol.SocketSend, map[string]any{"binary": true, "data": "AQI="})
	msg = h.next(protocol.SocketMessage)
	assert.Equal(t, []any{map[string]any{"binary": true, "data": "AQI="}}, msg.Args)

	h.command("ws_1", protocol.SocketClose, 1000.0, "bye")
	closed := h.next(protocol.SocketClose)
	info := closed.Args[0].(map[string]any)
	assert.Equal(t, 1000, info["code"])
	assert.Equal(t, true, info["wasClean"])
	h.next(protocol.SocketFinish)

	assert.Eventually(t, func() bool { return h.relay.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRelayDialFailure(t *testing.T) {
	h := newRelayHarness(t, nil)

	h.command("ws_1", protocol.SocketNew, "ws://127.0.0.1:1/")
	h.next(protocol.SocketError)
	closed := h.next(protocol.SocketClose)
	info := closed.Args[0].(map[string]any)
	assert.Equal(t, websocket.CloseAbnormalClosure, info["code"])
	assert.Equal(t, false, info["wasClean"])
	h.next(protocol.SocketFinish)
}

func TestRelayRejectsDisallowedHost(t *testing.T) {
	h := newRelayHarness(t, []string{"example.com"})

	h.command("ws_1", protocol.SocketNew, echoServer(t))
	ev := h.next(protocol.SocketError)
	assert.Contains(t, ev.Args[0].(map[string]any)["message"], ErrHostNotAllowed.Error())
	h.next(protocol.SocketClose)
	h.next(protocol.SocketFinish)
}

func TestRelayRejectsBadScheme(t *testing.T) {
	h := newRelayHarness(t, nil)

	h.command("ws_1", protocol.SocketNew, "http://example.com/")
	h.next(protocol.SocketError)
	h.next(protocol.SocketClose)
	h.next(protocol.SocketFinish)
}

func TestRelayIgnoresUnknownKey(t *testing.T) {
	h := newRelayHarness(t, nil)

	h.command("ws_missing", protocol.SocketSend, "x")
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayCloseTearsDown(t *testing.T) {
	h := newRelayHarness(t, nil)
	url := echoServer(t)

	h.command("ws_1", protocol.SocketNew, url)
	h.next(protocol.SocketOpen)

	h.relay.Close()
	assert.Zero(t, h.relay.Active())

	h.command("ws_2", protocol.SocketNew, url)
	assert.Zero(t, h.relay.Active())
}

func TestDecodeFrame(t *testing.T) {
	mt, data, err := decodeFrame("text")
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, []byte("text"), data)

	mt, data, err = decodeFrame(map[string]any{"binary": true, "data": "AQID"})
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, _, err = decodeFrame(map[string]any{"binary": true, "data": "%%%"})
	assert.Error(t, err)
}

func TestCloseArgs(t *testing.T) {
	code, reason := closeArgs(nil)
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Empty(t, reason)

	code, reason = closeArgs([]any{4000.0, "done"})
	assert.Equal(t, 4000, code)
	assert.Equal(t, "done", reason)
}
