package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/server"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file (overrides environment)")
	port := flag.String("port", "", "Server port")
	mode := flag.String("mode", "", "Guest mode: inproc or remote")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *mode != "" {
		cfg.Bridge.GuestMode = config.GuestMode(*mode)
	}
	if *dev {
		cfg.Logging.Development = true
	}

	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
	logger.Info("Server stopped")
}
