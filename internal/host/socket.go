package host

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

const (
	commandBacklog = 256
	closeWait      = 5 * time.Second
	writeWait      = 10 * time.Second
)

// Emitter sends a host-originated message to the guest.
type Emitter func(ctx context.Context, msg protocol.Message) error

// SocketRelay holds the real connections behind guest socket proxies, one
// per proxy key. Commands for a key are applied in arrival order.
type SocketRelay struct {
	dialer  *websocket.Dialer
	emit    Emitter
	hosts   hostPolicy
	maxRead int64
	logger  *zap.Logger
	metrics *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*relayConn
}

type relayConn struct {
	key  string
	cmds chan *protocol.SocketEvent
}

// NewSocketRelay creates a relay that reports socket events through emit.
func NewSocketRelay(cfg config.SocketConfig, allowedHosts []string, emit Emitter, logger *zap.Logger, metrics *monitoring.Metrics) *SocketRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketRelay{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout.Std(),
		},
		emit:    emit,
		hosts:   newHostPolicy(allowedHosts),
		maxRead: cfg.MaxMessageBytes,
		logger:  logger.Named("socket"),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]*relayConn),
	}
}

// Handle applies a guest socket command.
func (r *SocketRelay) Handle(ev *protocol.SocketEvent) {
	r.metrics.RecordSocketMessage("in")

	if ev.Method == protocol.SocketNew {
		r.open(ev)
		return
	}

	r.mu.Lock()
	c, ok := r.conns[ev.Key]
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("Dropping command for unknown socket",
			zap.String("key", ev.Key),
			zap.String("method", ev.Method))
		return
	}

	select {
	case c.cmds <- ev:
	default:
		r.metrics.RecordDropped("socket_backlog")
		r.logger.Warn("Socket command backlog full",
			zap.String("key", ev.Key),
			zap.String("method", ev.Method))
	}
}

// Active returns the number of live relays.
func (r *SocketRelay) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close tears down every relay and waits for them to finish.
func (r *SocketRelay) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *SocketRelay) open(ev *protocol.SocketEvent) {
	rawURL, protocols, err := parseNewArgs(ev.Args)
	if err == nil {
		err = r.checkURL(rawURL)
	}

	r.mu.Lock()
	if _, exists := r.conns[ev.Key]; exists {
		r.mu.Unlock()
		r.logger.Warn("Ignoring duplicate socket key", zap.String("key", ev.Key))
		return
	}
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	c := &relayConn{key: ev.Key, cmds: make(chan *protocol.SocketEvent, commandBacklog)}
	r.conns[ev.Key] = c
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.IncSockets()
	go func() {
		defer r.wg.Done()
		defer r.metrics.DecSockets()
		defer r.forget(c.key)

		if err != nil {
			r.fail(c.key, err)
			return
		}
		r.run(c, rawURL, protocols)
	}()
}

func (r *SocketRelay) forget(key string) {
	r.mu.Lock()
	delete(r.conns, key)
	r.mu.Unlock()
}

func (r *SocketRelay) checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("the URL's scheme must be either 'ws' or 'wss', got %q", u.Scheme)
	}
	if !r.hosts.allows(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return nil
}

// run owns one upstream connection from dial to finish.
func (r *SocketRelay) run(c *relayConn, rawURL string, protocols []string) {
	dialer := *r.dialer
	dialer.Subprotocols = protocols

	conn, _, err := dialer.DialContext(r.ctx, rawURL, nil)
	if err != nil {
		r.fail(c.key, err)
		return
	}
	defer conn.Close()
	if r.maxRead > 0 {
		conn.SetReadLimit(r.maxRead)
	}

	r.send(c.key, protocol.SocketOpen, map[string]any{})

	closed := make(chan closeInfo, 1)
	go r.readPump(c.key, conn, closed)

	for {
		select {
		case cmd := <-c.cmds:
			r.apply(conn, cmd)

		case info := <-closed:
			if !info.clean {
				r.send(c.key, protocol.SocketError, map[string]any{"message": info.reason})
			}
			r.send(c.key, protocol.SocketClose, info.event())
			r.send(c.key, protocol.SocketFinish)
			return

		case <-r.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
			<-closed
			return
		}
	}
}

func (r *SocketRelay) apply(conn *websocket.Conn, cmd *protocol.SocketEvent) {
	switch cmd.Method {
	case protocol.SocketSend:
		var arg any
		if len(cmd.Args) > 0 {
			arg = cmd.Args[0]
		}
		msgType, data, err := decodeFrame(arg)
		if err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = conn.WriteMessage(msgType, data)
		}
		if err != nil {
			r.logger.Debug("Socket send failed", zap.String("key", cmd.Key), zap.Error(err))
			_ = conn.Close()
			return
		}
		r.metrics.RecordSocketMessage("upstream")

	case protocol.SocketClose:
		code, reason := closeArgs(cmd.Args)
		err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		if err != nil {
			_ = conn.Close()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(closeWait))

	default:
		r.logger.Warn("Unknown socket command",
			zap.String("key", cmd.Key),
			zap.String("method", cmd.Method))
	}
}

type closeInfo struct {
	code   int
	reason string
	clean  bool
}

func (i closeInfo) event() map[string]any {
	return map[string]any{"code": i.code, "reason": i.reason, "wasClean": i.clean}
}

// readPump forwards upstream frames until the connection ends.
func (r *SocketRelay) readPump(key string, conn *websocket.Conn, closed chan<- closeInfo) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				closed <- closeInfo{code: ce.Code, reason: ce.Text, clean: ce.Code != websocket.CloseAbnormalClosure}
			} else {
				closed <- closeInfo{code: websocket.CloseAbnormalClosure, reason: err.Error()}
			}
			return
		}

		payload := map[string]any{"binary": false}
		if msgType == websocket.BinaryMessage {
			payload["binary"] = true
			payload["data"] = base64.StdEncoding.EncodeToString(data)
		} else {
			payload["data"] = string(data)
		}
		r.send(key, protocol.SocketMessage, payload)
	}
}

// fail reports a socket that never opened.
func (r *SocketRelay) fail(key string, err error) {
	r.logger.Debug("Socket failed to open", zap.String("key", key), zap.Error(err))
	r.send(key, protocol.SocketError, map[string]any{"message": err.Error()})
	r.send(key, protocol.SocketClose, closeInfo{code: websocket.CloseAbnormalClosure}.event())
	r.send(key, protocol.SocketFinish)
}

func (r *SocketRelay) send(key, method string, args ...any) {
	if args == nil {
		args = []any{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	err := r.emit(ctx, protocol.Message{Socket: &protocol.SocketEvent{Key: key, Method: method, Args: args}})
	if err != nil {
		r.logger.Debug("Dropping socket event",
			zap.String("key", key),
			zap.String("method", method),
			zap.Error(err))
		return
	}
	r.metrics.RecordSocketMessage("out")
}

func parseNewArgs(args []any) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, errors.New("socket requires a URL")
	}
	rawURL, ok := args[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("socket URL must be a string, got %T", args[0])
	}

	var protocols []string
	if len(args) > 1 {
		switch p := args[1].(type) {
		case string:
			protocols = []string{p}
		case []any:
			for _, v := range p {
				if s, ok := v.(string); ok {
					protocols = append(protocols, s)
				}
			}
		}
	}
	return rawURL, protocols, nil
}

// decodeFrame is the inverse of the guest's frame encoding: text as a
// string, binary as {binary: true, data: base64}.
func decodeFrame(v any) (int, []byte, error) {
	switch f := v.(type) {
	case string:
		return websocket.TextMessage, []byte(f), nil
	case map[string]any:
		if binary, _ := f["binary"].(bool); binary {
			s, _ := f["data"].(string)
			data, err := base64.StdEncoding.DecodeString(s)
			return websocket.BinaryMessage, data, err
		}
		return websocket.TextMessage, []byte(fmt.Sprint(f["data"])), nil
	case nil:
		return websocket.TextMessage, nil, nil
	}
	return websocket.TextMessage, []byte(fmt.Sprint(v)), nil
}

func closeArgs(args []any) (int, string) {
	code := websocket.CloseNormalClosure
	reason := ""
	if len(args) > 0 {
		if n, ok := args[0].(float64); ok {
			code = int(n)
		}
	}
	if len(args) > 1 {
		if s, ok := args[1].(string); ok {
			reason = s
		}
	}
	return code, reason
}
