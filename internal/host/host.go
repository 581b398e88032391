package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/channel"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/session"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/shared/id"
)

const sendTimeout = 10 * time.Second

// Config holds host settings.
type Config struct {
	Fetch            config.FetchConfig
	Socket           config.SocketConfig
	SessionTimeout   time.Duration // zero waits for eval replies indefinitely
	HandshakeTimeout time.Duration
	Tracer           *tracing.Tracer // optional
}

// ConfigFrom extracts host settings from the process configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Fetch:            cfg.Fetch,
		Socket:           cfg.Socket,
		SessionTimeout:   cfg.Bridge.SessionTimeout.Std(),
		HandshakeTimeout: cfg.Bridge.HandshakeTimeout.Std(),
	}
}

// Host is the trusted party. It evaluates script in the guest and performs
// the guest's network I/O.
type Host struct {
	ch      *channel.Channel
	cfg     Config
	logger  *zap.Logger
	metrics *monitoring.Metrics

	evals   *session.Registry[*protocol.EvalReply]
	fetch   *FetchService
	sockets *SocketRelay
	console *ConsoleSink

	ready     chan struct{}
	readyOnce sync.Once
	inflight  sync.WaitGroup
}

// New creates a host bound to ch.
func New(ch *channel.Channel, cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("host")

	h := &Host{
		ch:      ch,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		evals: session.NewRegistry[*protocol.EvalReply](id.EvalPrefix,
			session.WithTimeout(cfg.SessionTimeout),
			session.WithObserver(metrics.PendingObserver("host.eval"))),
		fetch:   NewFetchService(cfg.Fetch, logger, metrics),
		console: NewConsoleSink(logger, metrics),
		ready:   make(chan struct{}),
	}
	h.sockets = NewSocketRelay(cfg.Socket, cfg.Fetch.AllowedHosts, ch.Send, logger, metrics)
	return h
}

// Console returns the console sink.
func (h *Host) Console() *ConsoleSink {
	return h.console
}

// Fetches returns the fetch service.
func (h *Host) Fetches() *FetchService {
	return h.fetch
}

// Sockets returns the socket relay.
func (h *Host) Sockets() *SocketRelay {
	return h.sockets
}

// Peer returns the guest origin negotiated for the channel.
func (h *Host) Peer() string {
	return h.ch.Peer()
}

// Ready is closed once the guest acknowledges init.
func (h *Host) Ready() <-chan struct{} {
	return h.ready
}

// Run serves the channel until ctx ends or the channel closes. Pending evals
// are rejected and relays torn down on return.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := h.ch.Serve(ctx, h.handle)
	cancel()
	h.inflight.Wait()

	h.evals.Close(channel.ErrClosed)
	h.sockets.Close()
	h.fetch.Close()
	h.console.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handshake sends init and waits for the guest's ack.
func (h *Host) Handshake(ctx context.Context) error {
	if h.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.HandshakeTimeout)
		defer cancel()
	}

	if err := h.ch.Send(ctx, protocol.Message{Init: &protocol.Init{}}); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	select {
	case <-h.ready:
		h.logger.Info("Guest ready", zap.String("peer", h.ch.Peer()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("handshake: %w", ctx.Err())
	}
}

// Eval runs script in the guest with globals injected and waits for its
// reply. Giving up through ctx forgets the session; a late reply is then
// dropped as unknown.
func (h *Host) Eval(ctx context.Context, script string, globals map[string]any) (*protocol.EvalReply, error) {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
	}

	start := time.Now()
	key, future := h.evals.Allocate()

	span, ctx := h.cfg.Tracer.StartSpan(ctx, "eval")
	span.SetTag("eval.key", key)
	defer h.cfg.Tracer.Submit(span)

	req := &protocol.EvalRequest{Script: script, Key: key}
	if len(globals) > 0 {
		req.Globals = make(map[string]any, len(globals))
		for name, v := range globals {
			req.Globals[name] = protocol.Serialize(v)
		}
	}

	if err := h.ch.Send(ctx, protocol.Message{Eval: req}); err != nil {
		h.evals.Remove(key)
		span.SetError(err)
		return nil, err
	}

	reply, err := future.Wait(ctx)
	if err != nil {
		h.evals.Remove(key)
		span.SetError(err)
		return nil, err
	}

	span.SetTag("eval.success", strconv.FormatBool(reply.Success))
	h.metrics.RecordEval(reply.Success, time.Since(start))
	return reply, nil
}

func (h *Host) handle(ctx context.Context, msg protocol.Message) {
	switch {
	case msg.Init != nil && msg.Init.Ack:
		h.readyOnce.Do(func() { close(h.ready) })

	case msg.EvalReply != nil:
		key, _ := msg.EvalReply.Key.(string)
		if !h.evals.Resolve(key, msg.EvalReply) {
			h.logger.Warn("Dropping eval reply for unknown session", zap.Any("key", msg.EvalReply.Key))
		}

	case msg.Fetch != nil:
		h.spawn(ctx, func(ctx context.Context) { h.serveFetch(ctx, msg.Fetch) })

	case msg.FetchCall != nil:
		h.spawn(ctx, func(ctx context.Context) { h.serveCall(ctx, msg.FetchCall) })

	case msg.Socket != nil:
		h.sockets.Handle(msg.Socket)

	case msg.Console != nil:
		h.console.Write(*msg.Console)

	default:
		h.metrics.RecordDropped("unexpected")
		h.logger.Warn("Ignoring unexpected message", zap.String("variant", msg.Variant()))
	}
}

func (h *Host) spawn(ctx context.Context, fn func(context.Context)) {
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		fn(ctx)
	}()
}

func (h *Host) serveFetch(ctx context.Context, req *protocol.FetchRequest) {
	span, _ := h.cfg.Tracer.StartSpan(ctx, "fetch")
	span.SetTag("fetch.key", req.Key)
	span.SetTag("fetch.method", req.Init.MethodOrDefault())
	defer h.cfg.Tracer.Submit(span)

	desc, err := h.fetch.Fetch(ctx, req)
	if err != nil {
		span.SetError(err)
		h.reply(ctx, protocol.Message{FetchError: &protocol.FetchError{
			Key:   req.Key,
			Error: protocol.NewSerializedError(err),
		}})
		return
	}
	if status, ok := desc.Get("status"); ok {
		span.SetTag("http.status", fmt.Sprint(status))
	}
	h.reply(ctx, protocol.Message{FetchResponse: &protocol.FetchResponse{Key: req.Key, Descriptor: desc}})
}

func (h *Host) serveCall(ctx context.Context, call *protocol.FetchCall) {
	result, err := h.fetch.Call(call)
	switch {
	case errors.Is(err, ErrUnknownFetch):
		h.logger.Warn("Dropping call against unknown fetch",
			zap.String("key", call.Key),
			zap.String("function", call.Call.Function),
			zap.String("call", call.Call.Key))
	case err != nil:
		h.reply(ctx, protocol.Message{FetchError: &protocol.FetchError{
			Key:   call.Call.Key,
			Error: protocol.NewSerializedError(err),
		}})
	default:
		h.reply(ctx, protocol.Message{FetchResult: &protocol.FetchResult{
			Key:      call.Call.Key,
			Function: call.Call.Function,
			Result:   protocol.Serialize(result),
		}})
	}
}

func (h *Host) reply(ctx context.Context, msg protocol.Message) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := h.ch.Send(ctx, msg); err != nil {
		h.logger.Debug("Reply not delivered", zap.String("variant", msg.Variant()), zap.Error(err))
	}
}
