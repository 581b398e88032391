package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Top-level wire keys. Every message carries exactly one of them.
const (
	KindInit      = "init"
	KindEval      = "eval"
	KindEvalReply = "evalReply"
	KindFetch     = "fetchForwarder"
	KindSocket    = "webSocketForwarder"
	KindConsole   = "console"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message kind")
)

var codec = sonic.ConfigStd

// Message is the tagged union exchanged over a channel. Exactly one field is
// non-nil. The fetch variants share the fetchForwarder wire key and are told
// apart by shape when decoding.
type Message struct {
	Init      *Init
	Eval      *EvalRequest
	EvalReply *EvalReply

	Fetch         *FetchRequest
	FetchCall     *FetchCall
	FetchResponse *FetchResponse
	FetchResult   *FetchResult
	FetchError    *FetchError

	Socket  *SocketEvent
	Console *ConsoleEntry
}

// Init is the handshake. The host sends {init: true}; the guest answers
// {init: "ack"}.
type Init struct {
	Ack bool
}

// EvalRequest asks the guest to evaluate Script with Globals installed.
// Script and Key are left untyped: a non-string script or a missing key is a
// caller contract violation the guest drops silently.
type EvalRequest struct {
	Script  any            `json:"script"`
	Globals map[string]any `json:"globals,omitempty"`
	Key     any            `json:"key"`
}

// EvalReply reports the outcome of an EvalRequest under the same key.
type EvalReply struct {
	Key     any              `json:"key"`
	Result  any              `json:"result,omitempty"`
	Success bool             `json:"success"`
	Error   *SerializedError `json:"error,omitempty"`
}

// FetchRequest is a new guest fetch: {key, args: [url, init?]}.
type FetchRequest struct {
	Key  string
	URL  string
	Init *RequestInit
}

// FetchCall invokes Call.Function on the response retained under Key. The
// reply is keyed by Call.Key.
type FetchCall struct {
	Key  string   `json:"key"`
	Call CallSpec `json:"call"`
}

// CallSpec names a deferred method and the key its reply will carry.
type CallSpec struct {
	Function string `json:"function"`
	Key      string `json:"key"`
	Args     []any  `json:"args"`
}

// FetchResponse answers a FetchRequest: {key, for: "fetch", result}.
type FetchResponse struct {
	Key        string
	Descriptor *ResponseDescriptor
}

// FetchResult answers a FetchCall: {key: callKey, for: function, result}.
type FetchResult struct {
	Key      string
	Function string
	Result   any
}

// FetchError answers either fetch variant with a failure.
type FetchError struct {
	Key   string
	Error *SerializedError
}

// Socket lifecycle methods. New, Send and Close flow guest to host; the rest
// flow host to guest.
const (
	SocketNew     = "new"
	SocketSend    = "send"
	SocketClose   = "close"
	SocketOpen    = "open"
	SocketMessage = "message"
	SocketError   = "error"
	SocketFinish  = "finish"
)

// SocketEvent is a fire-and-forget socket message in either direction.
type SocketEvent struct {
	Key    string `json:"key"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Console levels forwarded from the guest.
const (
	ConsoleLog   = "log"
	ConsoleDebug = "debug"
	ConsoleWarn  = "warn"
)

// ConsoleEntry is one forwarded console call: {console: {level: args}}.
type ConsoleEntry struct {
	Level string
	Args  []any
}

// Kind returns the wire key of the set variant, or "" for an empty message.
func (m Message) Kind() string {
	switch {
	case m.Init != nil:
		return KindInit
	case m.Eval != nil:
		return KindEval
	case m.EvalReply != nil:
		return KindEvalReply
	case m.Fetch != nil, m.FetchCall != nil, m.FetchResponse != nil, m.FetchResult != nil, m.FetchError != nil:
		return KindFetch
	case m.Socket != nil:
		return KindSocket
	case m.Console != nil:
		return KindConsole
	}
	return ""
}

// Variant is a finer-grained label than Kind, used for metrics and logs.
func (m Message) Variant() string {
	switch {
	case m.Fetch != nil:
		return "fetch"
	case m.FetchCall != nil:
		return "fetch.call"
	case m.FetchResponse != nil:
		return "fetch.response"
	case m.FetchResult != nil:
		return "fetch.result"
	case m.FetchError != nil:
		return "fetch.error"
	case m.Socket != nil:
		return "socket." + m.Socket.Method
	}
	return m.Kind()
}

// Encode marshals a message to its wire form.
func Encode(m Message) ([]byte, error) {
	return codec.Marshal(m)
}

// Decode parses a wire message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	key, body, err := m.wireBody()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(map[string]any{key: body})
}

func (m Message) wireBody() (string, any, error) {
	switch {
	case m.Init != nil:
		if m.Init.Ack {
			return KindInit, "ack", nil
		}
		return KindInit, true, nil
	case m.Eval != nil:
		return KindEval, m.Eval, nil
	case m.EvalReply != nil:
		return KindEvalReply, m.EvalReply, nil
	case m.Fetch != nil:
		args := []any{m.Fetch.URL}
		if m.Fetch.Init != nil {
			args = append(args, m.Fetch.Init)
		}
		return KindFetch, map[string]any{"key": m.Fetch.Key, "args": args}, nil
	case m.FetchCall != nil:
		return KindFetch, m.FetchCall, nil
	case m.FetchResponse != nil:
		return KindFetch, map[string]any{
			"key":    m.FetchResponse.Key,
			"for":    "fetch",
			"result": m.FetchResponse.Descriptor,
		}, nil
	case m.FetchResult != nil:
		return KindFetch, map[string]any{
			"key":    m.FetchResult.Key,
			"for":    m.FetchResult.Function,
			"result": m.FetchResult.Result,
		}, nil
	case m.FetchError != nil:
		return KindFetch, map[string]any{"key": m.FetchError.Key, "error": m.FetchError.Error}, nil
	case m.Socket != nil:
		ev := *m.Socket
		if ev.Args == nil {
			ev.Args = []any{}
		}
		return KindSocket, ev, nil
	case m.Console != nil:
		args := m.Console.Args
		if args == nil {
			args = []any{}
		}
		return KindConsole, map[string]any{m.Console.Level: args}, nil
	}
	return "", nil, fmt.Errorf("%w: empty message", ErrMalformed)
}

// fetchWire is the union of every fetchForwarder shape.
type fetchWire struct {
	Key    string            `json:"key"`
	Args   []json.RawMessage `json:"args"`
	Call   *CallSpec         `json:"call"`
	For    string            `json:"for"`
	Result json.RawMessage   `json:"result"`
	Error  *SerializedError  `json:"error"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := codec.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(top) != 1 {
		return fmt.Errorf("%w: expected exactly one top-level key, got %d", ErrMalformed, len(top))
	}

	*m = Message{}
	for key, raw := range top {
		switch key {
		case KindInit:
			return m.decodeInit(raw)
		case KindEval:
			m.Eval = &EvalRequest{}
			return decodeInto(raw, m.Eval)
		case KindEvalReply:
			m.EvalReply = &EvalReply{}
			return decodeInto(raw, m.EvalReply)
		case KindFetch:
			return m.decodeFetch(raw)
		case KindSocket:
			m.Socket = &SocketEvent{}
			return decodeInto(raw, m.Socket)
		case KindConsole:
			return m.decodeConsole(raw)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownKind, key)
		}
	}
	return nil
}

func decodeInto(raw json.RawMessage, v any) error {
	if err := codec.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (m *Message) decodeInit(raw json.RawMessage) error {
	var v any
	if err := decodeInto(raw, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		m.Init = &Init{}
	case string:
		if t != "ack" {
			return fmt.Errorf("%w: init %q", ErrMalformed, t)
		}
		m.Init = &Init{Ack: true}
	default:
		return fmt.Errorf("%w: init must be true or \"ack\"", ErrMalformed)
	}
	return nil
}

func (m *Message) decodeFetch(raw json.RawMessage) error {
	var w fetchWire
	if err := decodeInto(raw, &w); err != nil {
		return err
	}
	if w.Key == "" {
		return fmt.Errorf("%w: fetchForwarder without key", ErrMalformed)
	}

	switch {
	case w.Call != nil:
		if w.Call.Args == nil {
			w.Call.Args = []any{}
		}
		m.FetchCall = &FetchCall{Key: w.Key, Call: *w.Call}
	case w.Args != nil:
		req, err := decodeFetchArgs(w.Key, w.Args)
		if err != nil {
			return err
		}
		m.Fetch = req
	case w.Error != nil:
		m.FetchError = &FetchError{Key: w.Key, Error: w.Error}
	case w.For == "fetch":
		desc := &ResponseDescriptor{}
		if err := decodeInto(w.Result, desc); err != nil {
			return err
		}
		m.FetchResponse = &FetchResponse{Key: w.Key, Descriptor: desc}
	case w.For != "":
		var result any
		if len(w.Result) > 0 {
			if err := decodeInto(w.Result, &result); err != nil {
				return err
			}
		}
		m.FetchResult = &FetchResult{Key: w.Key, Function: w.For, Result: result}
	default:
		return fmt.Errorf("%w: unrecognised fetchForwarder shape", ErrMalformed)
	}
	return nil
}

func decodeFetchArgs(key string, args []json.RawMessage) (*FetchRequest, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: fetch without url", ErrMalformed)
	}
	req := &FetchRequest{Key: key}
	if err := decodeInto(args[0], &req.URL); err != nil {
		return nil, err
	}
	if len(args) > 1 && string(args[1]) != "null" {
		req.Init = &RequestInit{}
		if err := decodeInto(args[1], req.Init); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (m *Message) decodeConsole(raw json.RawMessage) error {
	var levels map[string][]any
	if err := decodeInto(raw, &levels); err != nil {
		return err
	}
	if len(levels) != 1 {
		return fmt.Errorf("%w: console carries %d levels", ErrMalformed, len(levels))
	}
	for level, args := range levels {
		m.Console = &ConsoleEntry{Level: level, Args: args}
	}
	return nil
}
