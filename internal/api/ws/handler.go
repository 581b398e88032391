package ws

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/channel"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/host"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
)

const (
	writeWait      = 10 * time.Second
	consoleBacklog = 64
)

// Config holds the origins and host settings used by the handlers.
type Config struct {
	HostOrigin  string
	GuestOrigin string // expected Origin of a dialing guest, or channel.Wildcard
	// ViewerOrigins may open the console stream. Empty or "*" allows any.
	ViewerOrigins []string
	Host          host.Config
}

// Message is sent to console viewers.
type Message struct {
	Type      string `json:"type"`
	Level     string `json:"level,omitempty"`
	Args      []any  `json:"args,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Handler manages WebSocket connections
type Handler struct {
	slot    *host.Slot
	cfg     Config
	logger  *zap.Logger
	metrics *monitoring.Metrics

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates a WebSocket handler serving the guest in slot.
func NewHandler(slot *host.Slot, cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		slot:    slot,
		cfg:     cfg,
		logger:  logger.Named("ws"),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkViewer}
	return h
}

func (h *Handler) checkViewer(r *http.Request) bool {
	if len(h.cfg.ViewerOrigins) == 0 || slices.Contains(h.cfg.ViewerOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.cfg.ViewerOrigins, origin)
}

// Console streams the attached guest's console to the viewer until either
// side goes away.
func (h *Handler) Console(c *gin.Context) {
	hst := h.slot.Current()
	if hst == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no guest attached"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("Console upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections("console")
	defer h.metrics.DecWSConnections("console")

	id, entries, unsubscribe := hst.Console().Subscribe(consoleBacklog)
	defer unsubscribe()
	h.logger.Debug("Console viewer connected", zap.String("subscriber", id))

	// Reader answers pings and notices the viewer leaving
	pings := make(chan struct{}, 1)
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	if err := h.send(conn, Message{Type: "system", Message: "Connected to guest console"}); err != nil {
		return
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				h.closeConn(conn, websocket.CloseGoingAway, "guest detached")
				return
			}
			if err := h.send(conn, Message{Type: "console", Level: entry.Level, Args: entry.Args}); err != nil {
				return
			}
		case <-pings:
			if err := h.send(conn, Message{Type: "pong"}); err != nil {
				return
			}
		case <-gone:
			return
		case <-h.ctx.Done():
			h.closeConn(conn, websocket.CloseGoingAway, "shutting down")
			return
		}
	}
}

// Guest accepts a remote guest. The connection serves as the bridge channel
// until it closes; only one guest may be attached at a time.
func (h *Handler) Guest(c *gin.Context) {
	if h.slot.Current() != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "guest already attached"})
		return
	}

	transport, err := channel.Upgrade(c.Writer, c.Request, h.cfg.GuestOrigin)
	if err != nil {
		h.logger.Warn("Guest upgrade refused",
			zap.String("origin", c.Request.Header.Get("Origin")),
			zap.Error(err))
		return
	}
	defer transport.Close()

	logger := h.logger.With(zap.String("guest", transport.Peer()))
	ch := channel.New(transport, h.cfg.HostOrigin, transport.Peer(),
		channel.WithLogger(logger),
		channel.WithMetrics(h.metrics))
	hst := host.New(ch, h.cfg.Host, logger, h.metrics)

	if !h.slot.Attach(hst) {
		logger.Warn("Guest lost attach race")
		return
	}
	defer h.slot.Detach(hst)

	h.wg.Add(1)
	defer h.wg.Done()

	h.metrics.IncWSConnections("guest")
	defer h.metrics.DecWSConnections("guest")

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	go func() {
		if err := hst.Handshake(ctx); err != nil {
			logger.Warn("Guest handshake failed", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("Guest attached")
	if err := hst.Run(ctx); err != nil {
		logger.Info("Guest detached", zap.Error(err))
		return
	}
	logger.Info("Guest detached")
}

// Close ends every console stream and guest connection and waits for the
// guest handlers to return.
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
}

func (h *Handler) send(conn *websocket.Conn, msg Message) error {
	msg.Timestamp = time.Now().UnixMilli()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (h *Handler) closeConn(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
}
