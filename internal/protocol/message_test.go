package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSingleTopLevelKey(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		key  string
	}{
		{"init", Message{Init: &Init{}}, KindInit},
		{"init ack", Message{Init: &Init{Ack: true}}, KindInit},
		{"eval", Message{Eval: &EvalRequest{Script: "1+1", Key: "k"}}, KindEval},
		{"eval reply", Message{EvalReply: &EvalReply{Key: "k", Success: true, Result: 2.0}}, KindEvalReply},
		{"fetch", Message{Fetch: &FetchRequest{Key: "f", URL: "https://example.com"}}, KindFetch},
		{"fetch call", Message{FetchCall: &FetchCall{Key: "f", Call: CallSpec{Function: "text", Key: "c"}}}, KindFetch},
		{"fetch error", Message{FetchError: &FetchError{Key: "f", Error: &SerializedError{Name: "TypeError"}}}, KindFetch},
		{"socket", Message{Socket: &SocketEvent{Key: "ws", Method: SocketSend}}, KindSocket},
		{"console", Message{Console: &ConsoleEntry{Level: ConsoleLog, Args: []any{"hi"}}}, KindConsole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)

			var top map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(data, &top))
			assert.Len(t, top, 1)
			assert.Contains(t, top, tt.key)
			assert.Equal(t, tt.key, tt.msg.Kind())
		})
	}
}

func TestEncodeEmptyMessage(t *testing.T) {
	_, err := Encode(Message{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeInit(t *testing.T) {
	m, err := Decode([]byte(`{"init": true}`))
	require.NoError(t, err)
	require.NotNil(t, m.Init)
	assert.False(t, m.Init.Ack)

	m, err = Decode([]byte(`{"init": "ack"}`))
	require.NoError(t, err)
	require.NotNil(t, m.Init)
	assert.True(t, m.Init.Ack)

	_, err = Decode([]byte(`{"init": "hello"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsMultipleKeys(t *testing.T) {
	_, err := Decode([]byte(`{"init": true, "console": {"log": []}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"teleport": {}}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeFetchVariants(t *testing.T) {
	t.Run("new fetch", func(t *testing.T) {
		m, err := Decode([]byte(`{"fetchForwarder": {"key": "f1", "args": ["https://example.com/a", {"method": "POST", "headers": {"X-A": "1"}, "body": "aGk="}]}}`))
		require.NoError(t, err)
		require.NotNil(t, m.Fetch)
		assert.Equal(t, "f1", m.Fetch.Key)
		assert.Equal(t, "https://example.com/a", m.Fetch.URL)
		require.NotNil(t, m.Fetch.Init)
		assert.Equal(t, "POST", m.Fetch.Init.Method)
		assert.Equal(t, []byte("hi"), m.Fetch.Init.Body)
		v, ok := m.Fetch.Init.Header("x-a")
		assert.True(t, ok)
		assert.Equal(t, "1", v)
	})

	t.Run("new fetch without init", func(t *testing.T) {
		m, err := Decode([]byte(`{"fetchForwarder": {"key": "f1", "args": ["https://example.com"]}}`))
		require.NoError(t, err)
		require.NotNil(t, m.Fetch)
		assert.Nil(t, m.Fetch.Init)
		assert.Equal(t, "GET", m.Fetch.Init.MethodOrDefault())
	})

	t.Run("method call", func(t *testing.T) {
		m, err := Decode([]byte(`{"fetchForwarder": {"key": "f1", "call": {"function": "json", "key": "c1"}}}`))
		require.NoError(t, err)
		require.NotNil(t, m.FetchCall)
		assert.Equal(t, "f1", m.FetchCall.Key)
		assert.Equal(t, "json", m.FetchCall.Call.Function)
		assert.Equal(t, "c1", m.FetchCall.Call.Key)
		assert.NotNil(t, m.FetchCall.Call.Args)
	})

	t.Run("fetch response", func(t *testing.T) {
		m, err := Decode([]byte(`{"fetchForwarder": {"key": "f1", "for": "fetch", "result": {"status": 200, "ok": true, "text": {"function": "promise"}, "headers": {"Content-Type": "text/plain"}, "body": {"stream": true}}}}`))
		require.NoError(t, err)
		require.NotNil(t, m.FetchResponse)
		d := m.FetchResponse.Descriptor
		assert.True(t, d.HasBody)
		assert.Equal(t, []string{"text"}, d.Methods())
		status, ok := d.Get("status")
		assert.True(t, ok)
		assert.Equal(t, 200.0, status)
		assert.Equal(t, "text/plain", d.Headers["content-type"])
	})

	t.Run("call result", func(t *testing.T) {
		m, err := Decode([]byte(`{"fetchForwarder": {"key": "c1", "for": "text", "result": "hello"}}`))
		require.NoError(t, err)
		require.NotNil(t, m.FetchResult)
		assert.Equal(t, "text", m.FetchResult.Function)
		assert.Equal(t, "hello", m.FetchResult.Result)
	})

	t.Run("error", func(t *testing.T) {
		m, err := Decode([]byte(`{"fetchForwarder": {"key": "f1", "error": {"name": "TypeError", "message": "Failed to fetch", "status": 0}}}`))
		require.NoError(t, err)
		require.NotNil(t, m.FetchError)
		assert.Equal(t, "TypeError", m.FetchError.Error.Name)
		assert.Equal(t, "Failed to fetch", m.FetchError.Error.Message)
		assert.Equal(t, []string{"status"}, m.FetchError.Error.FieldNames())
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := Decode([]byte(`{"fetchForwarder": {"args": ["x"]}}`))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unknown shape", func(t *testing.T) {
		_, err := Decode([]byte(`{"fetchForwarder": {"key": "x"}}`))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestFetchRoundTrip(t *testing.T) {
	desc := NewResponseDescriptor()
	desc.Set("status", 201)
	desc.Set("statusText", "Created")
	desc.Defer("json")
	desc.Defer("arrayBuffer")
	desc.Headers["content-type"] = "application/json"
	desc.HasBody = true

	data, err := Encode(Message{FetchResponse: &FetchResponse{Key: "f9", Descriptor: desc}})
	require.NoError(t, err)

	m, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, m.FetchResponse)
	got := m.FetchResponse.Descriptor

	assert.Equal(t, "f9", m.FetchResponse.Key)
	assert.Equal(t, []string{"arrayBuffer", "json"}, got.Methods())
	assert.True(t, got.HasBody)
	statusText, _ := got.Get("statusText")
	assert.Equal(t, "Created", statusText)
	assert.Equal(t, "application/json", got.Headers["content-type"])
}

func TestDescriptorWithoutBody(t *testing.T) {
	desc := NewResponseDescriptor()
	desc.Set("status", 204)

	data, err := json.Marshal(desc)
	require.NoError(t, err)

	var got ResponseDescriptor
	require.NoError(t, json.Unmarshal(data, &got))
	assert.False(t, got.HasBody)
	assert.Empty(t, got.Methods())
}

func TestFetchRequestRoundTrip(t *testing.T) {
	in := Message{Fetch: &FetchRequest{
		Key: "f2",
		URL: "https://example.com/upload",
		Init: &RequestInit{
			Method:  "PUT",
			Headers: map[string]string{"content-type": "application/octet-stream"},
			Body:    []byte{0, 1, 2, 255},
		},
	}}

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in.Fetch, out.Fetch)
}

func TestSocketAndConsoleRoundTrip(t *testing.T) {
	data, err := Encode(Message{Socket: &SocketEvent{Key: "ws_1", Method: SocketNew, Args: []any{"wss://echo"}}})
	require.NoError(t, err)
	m, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, m.Socket)
	assert.Equal(t, "ws_1", m.Socket.Key)
	assert.Equal(t, []any{"wss://echo"}, m.Socket.Args)
	assert.Equal(t, "socket.new", m.Variant())

	data, err = Encode(Message{Console: &ConsoleEntry{Level: ConsoleDebug, Args: []any{"x", 1.0}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"console": {"debug": ["x", 1]}}`, string(data))
	m, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, &ConsoleEntry{Level: ConsoleDebug, Args: []any{"x", 1.0}}, m.Console)
}

func TestEvalReplyWire(t *testing.T) {
	data, err := Encode(Message{EvalReply: &EvalReply{
		Key:     "k1",
		Success: false,
		Error:   &SerializedError{Name: "ReferenceError", Message: "a is not defined"},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"evalReply": {"key": "k1", "success": false, "error": {"name": "ReferenceError", "message": "a is not defined"}}}`, string(data))

	m, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, m.EvalReply)
	assert.False(t, m.EvalReply.Success)
	assert.Equal(t, "ReferenceError", m.EvalReply.Error.Name)
}

func TestMethodAllowsBody(t *testing.T) {
	for _, m := range []string{"", "GET", "head", "DELETE"} {
		assert.False(t, MethodAllowsBody(m), m)
	}
	for _, m := range []string{"POST", "put", "PATCH"} {
		assert.True(t, MethodAllowsBody(m), m)
	}
}
