package guest

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/channel"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/session"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/shared/id"
)

const sendTimeout = 10 * time.Second

// Config defines guest runtime limits
type Config struct {
	EvalTimeout    time.Duration // per-job synchronous execution limit
	MaxCallStack   int           // goja call stack limit
	QueueSize      int           // initial job queue capacity
	SessionTimeout time.Duration // zero waits for replies indefinitely
}

// DefaultConfig returns the default guest limits
func DefaultConfig() Config {
	return Config{
		EvalTimeout:  5 * time.Second,
		MaxCallStack: 1024,
		QueueSize:    256,
	}
}

// ConfigFrom extracts guest settings from the process configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		EvalTimeout:    cfg.Guest.EvalTimeout.Std(),
		MaxCallStack:   cfg.Guest.MaxCallStack,
		QueueSize:      cfg.Guest.QueueSize,
		SessionTimeout: cfg.Bridge.SessionTimeout.Std(),
	}
}

// Guest runs untrusted script and forwards its I/O to the host.
type Guest struct {
	loop    *Loop
	ch      *channel.Channel
	logger  *zap.Logger
	local   *zap.Logger
	metrics *monitoring.Metrics

	fetches *session.Registry[*protocol.ResponseDescriptor]
	calls   *session.Registry[any]
	sockets *session.Table[*socketProxy]

	// Owned by the loop goroutine
	injected     map[string]struct{}
	localConsole *goja.Object
	errorCtors   map[string]*goja.Object
}

// New creates a guest bound to ch.
func New(ch *channel.Channel, cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Guest {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("guest")

	g := &Guest{
		ch:       ch,
		logger:   logger,
		local:    logger.Named("console"),
		metrics:  metrics,
		injected: make(map[string]struct{}),
		fetches: session.NewRegistry[*protocol.ResponseDescriptor](id.FetchPrefix,
			session.WithTimeout(cfg.SessionTimeout),
			session.WithObserver(metrics.PendingObserver("guest.fetch"))),
		calls: session.NewRegistry[any](id.CallPrefix,
			session.WithTimeout(cfg.SessionTimeout),
			session.WithObserver(metrics.PendingObserver("guest.call"))),
		sockets: session.NewTable[*socketProxy](0, nil),
	}
	g.loop = NewLoop(cfg, logger)
	g.loop.Post(g.setup)
	return g
}

// Loop exposes the event loop, mainly for tests and embedding.
func (g *Guest) Loop() *Loop {
	return g.loop
}

// Run serves the channel and the event loop until ctx ends or the channel
// closes.
func (g *Guest) Run(ctx context.Context) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return g.loop.Run(gctx)
	})
	grp.Go(func() error {
		defer g.loop.Stop()
		return g.ch.Serve(gctx, g.handle)
	})

	err := grp.Wait()
	g.fetches.Close(channel.ErrClosed)
	g.calls.Close(channel.ErrClosed)
	g.sockets.Clear()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// setup installs the local console and captures the native error
// constructors before any message is processed.
func (g *Guest) setup(vm *goja.Runtime) {
	g.errorCtors = captureErrorConstructors(vm)
	g.localConsole = g.newLocalConsole(vm)
	_ = vm.Set("console", g.localConsole)
}

func (g *Guest) handle(_ context.Context, msg protocol.Message) {
	switch {
	case msg.Init != nil && !msg.Init.Ack:
		g.loop.Post(g.handleInit)

	case msg.Eval != nil:
		req := msg.Eval
		g.loop.Post(func(vm *goja.Runtime) { g.evaluate(vm, req) })

	case msg.FetchResponse != nil:
		r := msg.FetchResponse
		if !g.fetches.Resolve(r.Key, r.Descriptor) {
			g.logger.Warn("Dropping fetch reply for unknown session", zap.String("key", r.Key))
		}

	case msg.FetchResult != nil:
		r := msg.FetchResult
		if !g.calls.Resolve(r.Key, r.Result) {
			g.logger.Warn("Dropping call reply for unknown session",
				zap.String("key", r.Key),
				zap.String("function", r.Function))
		}

	case msg.FetchError != nil:
		r := msg.FetchError
		var err error = &protocol.SerializedError{Name: protocol.ErrorNameGeneric}
		if r.Error != nil {
			err = r.Error
		}
		if !g.fetches.Reject(r.Key, err) && !g.calls.Reject(r.Key, err) {
			g.logger.Warn("Dropping fetch error for unknown session", zap.String("key", r.Key))
		}

	case msg.Socket != nil:
		ev := msg.Socket
		g.loop.Post(func(vm *goja.Runtime) { g.dispatchSocket(vm, ev) })

	default:
		g.logger.Warn("Ignoring unexpected message", zap.String("variant", msg.Variant()))
	}
}

// send forwards msg to the host. Failures are logged; forwarders are fire
// and forget or recover through their session.
func (g *Guest) send(msg protocol.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := g.ch.Send(ctx, msg); err != nil {
		g.logger.Warn("Send to host failed", zap.String("variant", msg.Variant()), zap.Error(err))
		return err
	}
	return nil
}
