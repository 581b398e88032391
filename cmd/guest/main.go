package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/channel"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/guest"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file (overrides environment)")
	hostURL := flag.String("host", "ws://localhost:8000/guest", "Host guest endpoint")
	embedURL := flag.String("embed-url", "", "URL this guest is embedded under; the host origin is derived from it")
	origin := flag.String("origin", "", "This guest's origin (default from config)")
	allowWildcard := flag.Bool("allow-wildcard", false, "Accept any host origin when none can be derived")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dev {
		cfg.Logging.Development = true
	}
	if *origin != "" {
		cfg.Bridge.GuestOrigin = *origin
	}
	if *allowWildcard {
		cfg.Bridge.AllowWildcard = true
	}

	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	embed := *embedURL
	if embed == "" {
		embed = cfg.Bridge.GuestOrigin
	}
	hostOrigin, err := channel.DeriveHostOrigin(embed, channel.Policy{AllowWildcard: cfg.Bridge.AllowWildcard})
	if err != nil {
		logger.Fatal("Cannot determine host origin", zap.String("embed_url", embed), zap.Error(err))
	}
	if hostOrigin == channel.Wildcard {
		logger.Warn("Accepting messages from any host origin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer := &websocket.Dialer{HandshakeTimeout: cfg.Bridge.HandshakeTimeout.Std()}
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	transport, err := channel.Dial(dialCtx, *hostURL, cfg.Bridge.GuestOrigin, dialer)
	cancel()
	if err != nil {
		logger.Fatal("Failed to connect to host", zap.String("host", *hostURL), zap.Error(err))
	}

	logger.Info("Connected to host",
		zap.String("host", *hostURL),
		zap.String("host_origin", hostOrigin),
		zap.String("origin", cfg.Bridge.GuestOrigin))

	ch := channel.New(transport, cfg.Bridge.GuestOrigin, hostOrigin,
		channel.WithLogger(logger.Named("channel")))
	g := guest.New(ch, guest.ConfigFrom(cfg), logger.Logger, nil)

	if err := g.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Guest error", zap.Error(err))
	}
	logger.Info("Guest stopped")
}
