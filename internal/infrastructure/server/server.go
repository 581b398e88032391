package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	api "github.com/GriffinCanCode/AgentOS/bridge/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/channel"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/guest"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/host"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/tracing"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and the bridge it fronts
type Server struct {
	config   *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	router   *gin.Engine
	tracer   *tracing.Tracer
	hostCfg  host.Config
	slot     *host.Slot
	ws       *ws.Handler
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	switch cfg.Bridge.GuestMode {
	case config.GuestInProc, config.GuestRemote:
	default:
		return nil, fmt.Errorf("unknown guest mode %q", cfg.Bridge.GuestMode)
	}

	logger.Info("Initializing AgentOS Bridge",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("guest_mode", string(cfg.Bridge.GuestMode)),
		zap.String("host_origin", cfg.Bridge.HostOrigin),
		zap.String("guest_origin", cfg.Bridge.GuestOrigin),
	)

	// Private registry so several servers can coexist in one process
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)
	tracer := tracing.New("bridge", logger.Logger)

	hostCfg := host.ConfigFrom(cfg)
	hostCfg.Tracer = tracer

	slot := &host.Slot{}
	wsHandler := ws.NewHandler(slot, ws.Config{
		HostOrigin:    cfg.Bridge.HostOrigin,
		GuestOrigin:   cfg.Bridge.GuestOrigin,
		ViewerOrigins: []string{cfg.Bridge.HostOrigin},
		Host:          hostCfg,
	}, logger.Logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(middleware.Logger(logger.Named("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSForOrigins(cfg.Bridge.HostOrigin)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := api.NewHandlers(slot.Current, metrics, logger.Logger)
	aggregator := api.NewMetricsAggregator(metrics, slot.Current)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.POST("/eval", handlers.Eval)

	router.GET("/console", wsHandler.Console)
	if cfg.Bridge.GuestMode == config.GuestRemote {
		router.GET("/guest", wsHandler.Guest)
	}

	router.GET("/metrics", api.Prometheus(registry))
	router.GET("/metrics/json", aggregator.GetAggregatedMetrics)

	logger.Info("Server initialized successfully")

	return &Server{
		config:   cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		tracer:   tracer,
		hostCfg:  hostCfg,
		router:   router,
		slot:     slot,
		ws:       wsHandler,
	}, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Slot returns the slot holding the attached guest's host
func (s *Server) Slot() *host.Slot {
	return s.slot
}

// Run serves HTTP on the configured address until ctx ends
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx ends, running the in-process guest when
// configured. It shuts down gracefully and closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.ws.Close()
		return err
	})

	if s.config.Bridge.GuestMode == config.GuestInProc {
		grp.Go(func() error {
			return s.runInProc(gctx)
		})
	}

	err := grp.Wait()
	s.tracer.Close()
	_ = s.logger.Sync()
	return err
}

// runInProc runs a guest inside this process, joined to the host by an
// in-memory pipe.
func (s *Server) runInProc(ctx context.Context) error {
	bridge := s.config.Bridge
	hostLog := s.logger.WithOrigin(bridge.HostOrigin)
	guestLog := s.logger.WithOrigin(bridge.GuestOrigin)

	hostEnd, guestEnd := channel.Pipe(bridge.HostOrigin, bridge.GuestOrigin)
	hst := host.New(
		channel.New(hostEnd, bridge.HostOrigin, bridge.GuestOrigin,
			channel.WithLogger(hostLog.Named("channel.host")),
			channel.WithMetrics(s.metrics)),
		s.hostCfg, hostLog, s.metrics)
	gst := guest.New(
		channel.New(guestEnd, bridge.GuestOrigin, bridge.HostOrigin,
			channel.WithLogger(guestLog.Named("channel.guest")),
			channel.WithMetrics(s.metrics)),
		guest.ConfigFrom(s.config), guestLog, s.metrics)

	if !s.slot.Attach(hst) {
		return errors.New("in-process guest: slot already taken")
	}
	defer s.slot.Detach(hst)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return gst.Run(gctx) })
	grp.Go(func() error { return hst.Run(gctx) })
	grp.Go(func() error {
		if err := hst.Handshake(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("in-process guest: %w", err)
		}
		return nil
	})
	return grp.Wait()
}
