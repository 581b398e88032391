package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// maxFrameBytes bounds a single channel frame. Response bodies travel as one
// base64 frame, so this sits well above the fetch body limit.
const maxFrameBytes = 64 << 20

const writeWait = 10 * time.Second

// frame is the wire form of an envelope. The sender origin is deliberately
// absent: the receiver takes it from the connection.
type frame struct {
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data"`
}

// WebSocket carries envelopes over a gorilla/websocket connection.
type WebSocket struct {
	conn *websocket.Conn
	peer string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket wraps conn. Every received envelope is attributed to
// peerOrigin.
func NewWebSocket(conn *websocket.Conn, peerOrigin string) *WebSocket {
	conn.SetReadLimit(maxFrameBytes)
	return &WebSocket{
		conn:   conn,
		peer:   peerOrigin,
		closed: make(chan struct{}),
	}
}

// Dial connects a guest to a host at rawURL, announcing localOrigin in the
// handshake Origin header. The peer origin is the dialed URL's origin.
func Dial(ctx context.Context, rawURL, localOrigin string, dialer *websocket.Dialer) (*WebSocket, error) {
	peer, err := OriginOf(rawURL)
	if err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if localOrigin != "" && localOrigin != Wildcard {
		header.Set("Origin", localOrigin)
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return NewWebSocket(conn, peer), nil
}

// Upgrade accepts a guest connection. The handshake Origin header must equal
// expectedOrigin unless expectedOrigin is the wildcard. A missing header is
// treated as the opaque origin "null".
func Upgrade(w http.ResponseWriter, r *http.Request, expectedOrigin string) (*WebSocket, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return expectedOrigin == Wildcard || requestOrigin(r) == expectedOrigin
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, requestOrigin(r)), nil
}

func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	return opaqueOrigin
}

// Peer returns the origin attributed to received envelopes.
func (ws *WebSocket) Peer() string {
	return ws.peer
}

// Send writes env as a single text frame.
func (ws *WebSocket) Send(ctx context.Context, env Envelope) error {
	data, err := sonic.ConfigStd.Marshal(frame{Target: env.Target, Data: env.Data})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	select {
	case <-ws.closed:
		return ErrClosed
	default:
	}

	_ = ws.conn.SetWriteDeadline(deadline)
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return ws.mapErr(err)
	}
	return nil
}

// Receive blocks for the next frame. Cancelling ctx does not interrupt a
// read in progress; close the transport for that.
func (ws *WebSocket) Receive(ctx context.Context) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}

	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			return Envelope{}, ws.mapErr(err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var f frame
		if err := sonic.ConfigStd.Unmarshal(data, &f); err != nil {
			// Undecodable frames still reach the channel so they are counted
			// and logged there
			return Envelope{Origin: ws.peer, Data: data}, nil
		}
		return Envelope{Origin: ws.peer, Target: f.Target, Data: f.Data}, nil
	}
}

// Close sends a close frame and tears down the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.closed)
		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocket) mapErr(err error) error {
	select {
	case <-ws.closed:
		return ErrClosed
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}
