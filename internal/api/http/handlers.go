package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/channel"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/host"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/session"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/shared/utils"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// maxEvalTimeout caps the per-request timeout a caller may ask for.
const maxEvalTimeout = 5 * time.Minute

// HostSource returns the host bound to the attached guest, or nil.
type HostSource func() *host.Host

// Handlers contains the HTTP handlers of the bridge API.
type Handlers struct {
	hosts   HostSource
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandlers creates a handler set.
func NewHandlers(hosts HostSource, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		hosts:   hosts,
		metrics: metrics,
		logger:  logger.Named("api"),
	}
}

// EvalRequest is the body of POST /eval.
type EvalRequest struct {
	Script    string         `json:"script" binding:"required"`
	Globals   map[string]any `json:"globals"`
	TimeoutMs int            `json:"timeout_ms" binding:"gte=0"`
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "AgentOS Bridge",
		"version": Version,
	})
}

// Health reports whether a guest is attached and ready.
func (h *Handlers) Health(c *gin.Context) {
	guest := guestStatus(h.hosts())

	status, code := "healthy", http.StatusOK
	if !guest.Ready {
		status, code = "waiting", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status": status,
		"guest":  guest,
	})
}

// Eval runs a script in the guest and returns its reply. Script errors are
// a successful request with success=false; bridge failures map to 5xx.
func (h *Handlers) Eval(c *gin.Context) {
	var req EvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid eval request: " + err.Error()})
		return
	}

	if err := utils.ValidateScript(req.Script); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid eval request: " + err.Error()})
		return
	}
	if err := utils.ValidateGlobals(req.Globals); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid eval request: " + err.Error()})
		return
	}

	hst := h.hosts()
	if hst == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no guest attached"})
		return
	}

	ctx := c.Request.Context()
	if req.TimeoutMs > 0 {
		timeout := min(time.Duration(req.TimeoutMs)*time.Millisecond, maxEvalTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reply, err := hst.Eval(ctx, req.Script, req.Globals)
	if err != nil {
		code := evalErrorStatus(err)
		h.logger.Warn("Eval failed", zap.Int("status", code), zap.Error(err))
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, reply)
}

func evalErrorStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, host.ErrNotReady), errors.Is(err, channel.ErrClosed), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// GuestStatus describes the attached guest.
type GuestStatus struct {
	Attached bool   `json:"attached"`
	Ready    bool   `json:"ready"`
	Peer     string `json:"peer,omitempty"`
}

func guestStatus(h *host.Host) GuestStatus {
	if h == nil {
		return GuestStatus{}
	}
	s := GuestStatus{Attached: true, Peer: h.Peer()}
	select {
	case <-h.Ready():
		s.Ready = true
	default:
	}
	return s
}
