/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the equity engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment / equity.env)
  2. Initialize structured logging
  3. Initialize SQLite store
  4. Wire domain service, batch runner, and API handler
  5. Start background vesting scheduler
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the vesting scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  DB_PATH=./data/equity.db ./server

  # Run with in-memory database on another port
  DB_PATH=":memory:" PORT=3000 ./server

SEE ALSO:
  - config/config.go: Configuration variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/equity-engine/api"
	"github.com/warp/equity-engine/config"
	"github.com/warp/equity-engine/equity"
	"github.com/warp/equity-engine/store/sqlite"
	"github.com/warp/equity-engine/vesting"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	service := equity.NewService(store, store, log)
	service.MaxRetries = cfg.TxMaxRetries
	runner := vesting.NewRunner(store, log)
	runner.MaxRetries = cfg.TxMaxRetries

	handler := api.NewHandler(service, runner, store, store, log)
	router := api.NewRouter(handler)

	scheduler := api.NewVestingScheduler(store, runner, log)
	scheduler.CheckInterval = cfg.VestingCheckInterval
	scheduler.Enabled = cfg.VestingScheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
