// bankguard - transaction risk detection and alert review service
package main

import (
	"context"
	"os"
	"time"

	"github.com/mbd888/bankguard/internal/config"
	"github.com/mbd888/bankguard/internal/logging"
	"github.com/mbd888/bankguard/internal/server"
	"github.com/mbd888/bankguard/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := logging.New("info", "text")

	logger.Info("starting bankguard",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"persistent", cfg.DatabaseURL != "",
		"kafka", cfg.KafkaEnabled(),
	)

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return 1
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		return 1
	}
	return 0
}
