// Command revisor-server serves the revision tracker over HTTP, runs queued
// ranking scans and triggers the daily estimates capture.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/revisor/internal/app"
	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path (default: $REVISOR_CONFIG or revisor.toml)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	showVersion := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *showVersion {
		common.LoadVersionFromFile()
		fmt.Printf("revisor-server %s\n", common.GetFullVersion())
		return
	}

	a, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		a.Config.Server.Port = *port
	}
	logger := a.Logger

	common.PrintBanner(a.Config, logger)

	a.StartJobs()
	if err := a.StartScheduler(); err != nil {
		logger.Warn().Err(err).Msg("Capture schedule not started")
	}

	shutdownChan := make(chan struct{}, 1)
	srv := server.NewServer(a)
	srv.SetShutdownChannel(shutdownChan)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", a.Config.Server.Host, a.Config.Server.Port)).
		Bool("fmp", a.HasFMP()).
		Msg("Server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case <-shutdownChan:
		logger.Info().Msg("Shutdown requested via HTTP")
	}

	common.PrintShutdownBanner(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	a.Close()
	logger.Info().Msg("Server stopped")
}
