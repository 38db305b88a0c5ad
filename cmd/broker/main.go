// Command broker runs the agent-broker WebSocket server: it accepts agent
// and dashboard connections, authenticates them, and routes commands,
// status, and terminal output between the two.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/agent-broker/internal/broker"
	"github.com/adred-codev/agent-broker/internal/config"
	"github.com/adred-codev/agent-broker/internal/logging"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	bootstrapLogger := log.New(os.Stdout, "[broker] ", log.LstdFlags)

	maxProcs := runtime.GOMAXPROCS(0)
	bootstrapLogger.Printf("GOMAXPROCS: %d (via automaxprocs)", maxProcs)

	cfg, err := config.Load(nil)
	if err != nil {
		bootstrapLogger.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	b, err := broker.New(cfg, broker.Dependencies{
		AgentService:   newNoopAgentService(),
		CommandService: newNoopCommandService(),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble broker")
	}

	startCtx, cancelStart := context.WithCancel(context.Background())
	defer cancelStart()

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Start(startCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("broker listener exited unexpectedly")
		}
	}

	cancelStart()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := b.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	logger.Info().Msg("broker stopped")
}
