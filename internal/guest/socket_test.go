package guest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

func (h *harness) expectSocket() *protocol.SocketEvent {
	h.t.Helper()
	msg := h.next()
	require.NotNil(h.t, msg.Socket, "expected socket message, got %s", msg.Variant())
	return msg.Socket
}

func TestSocketForwardsOneMessagePerCall(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init()

	key := h.startEval(`
		var ws = new WebSocket("ws://echo.test/", "chat");
		ws.send("hi");
		ws.send(new Uint8Array([1, 2]));
		ws.close(1000, "bye");
		ws.readyState`, nil)

	created := h.expectSocket()
	assert.Equal(t, protocol.SocketNew, created.Method)
	assert.Equal(t, []any{"ws://echo.test/", "chat"}, created.Args)

	text := h.expectSocket()
	assert.Equal(t, protocol.SocketSend, text.Method)
	assert.Equal(t, []any{"hi"}, text.Args)

	binary := h.expectSocket()
	assert.Equal(t, []any{map[string]any{"binary": true, "data": "AQI="}}, binary.Args)

	closed := h.expectSocket()
	assert.Equal(t, protocol.SocketClose, closed.Method)
	assert.Equal(t, []any{1000.0, "bye"}, closed.Args)

	for _, ev := range []*protocol.SocketEvent{text, binary, closed} {
		assert.Equal(t, created.Key, ev.Key)
	}

	reply, _ := h.awaitReply(key)
	require.True(t, reply.Success)
	assert.Equal(t, 2.0, reply.Result)
}

func TestSocketEventsReachListeners(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init()

	key := h.startEval(`
		var got = [];
		var ws = new WebSocket("ws://echo.test/");
		var onMessage = e => got.push("listener:" + e.data);
		ws.addEventListener("message", onMessage);
		ws.addEventListener("message", onMessage);
		ws.addEventListener("close", e => got.push("close:" + e.code));
		ws.onopen = () => got.push("open:" + ws.readyState);
		ws.onmessage = e => got.push("handler:" + e.type);
		1`, nil)
	created := h.expectSocket()
	reply, _ := h.awaitReply(key)
	require.True(t, reply.Success)

	events := []protocol.SocketEvent{
		{Key: created.Key, Method: protocol.SocketOpen, Args: []any{map[string]any{}}},
		{Key: created.Key, Method: protocol.SocketMessage, Args: []any{map[string]any{"data": "pong", "binary": false}}},
		{Key: created.Key, Method: protocol.SocketClose, Args: []any{map[string]any{"code": 1000, "reason": "", "wasClean": true}}},
		{Key: created.Key, Method: protocol.SocketFinish, Args: []any{}},
		{Key: created.Key, Method: protocol.SocketMessage, Args: []any{map[string]any{"data": "late"}}},
	}
	for i := range events {
		h.send(protocol.Message{Socket: &events[i]})
	}

	assert.Equal(t,
		[]any{"open:1", "listener:pong", "handler:message", "close:1000"},
		h.mustEval("got"))
	assert.Equal(t, 3.0, h.mustEval("ws.readyState"))
}

func TestSocketRemoveListener(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init()

	h.startEval(`
		var got = [];
		var ws = new WebSocket("ws://echo.test/");
		var fn = e => got.push(e.data);
		ws.addEventListener("message", fn);
		ws.removeEventListener("message", fn);
		1`, nil)
	created := h.expectSocket()

	h.send(protocol.Message{Socket: &protocol.SocketEvent{
		Key: created.Key, Method: protocol.SocketMessage, Args: []any{map[string]any{"data": "x"}},
	}})
	assert.Equal(t, []any{}, h.mustEval("got"))
}

func TestSocketBinaryMessage(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init()

	h.startEval(`
		var size = -1;
		var ws = new WebSocket("ws://echo.test/");
		ws.onmessage = e => { size = e.data.byteLength };
		1`, nil)
	created := h.expectSocket()

	h.send(protocol.Message{Socket: &protocol.SocketEvent{
		Key: created.Key, Method: protocol.SocketMessage, Args: []any{map[string]any{"data": "AQID", "binary": true}},
	}})
	assert.Equal(t, 3.0, h.mustEval("size"))
}

func TestSocketEventForUnknownKeyIgnored(t *testing.T) {
	h := newHarness(t, testConfig())
	h.init()

	h.send(protocol.Message{Socket: &protocol.SocketEvent{Key: "ws_unknown", Method: protocol.SocketOpen}})
	assert.Equal(t, 1.0, h.mustEval("1"))
}
