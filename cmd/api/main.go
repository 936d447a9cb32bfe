package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/reconciler/internal/api"
	"github.com/dvloznov/reconciler/internal/config"
	"github.com/dvloznov/reconciler/internal/di"
	"github.com/dvloznov/reconciler/internal/jobs"
	"github.com/dvloznov/reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/reconciler/internal/logger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log, err = logger.Configure(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid logging configuration")
	}

	ctx := context.Background()
	container, err := di.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build service")
	}
	defer container.Close()

	// Asynchronous matching runs in-process next to the HTTP server; scheduled re-matching is
	// the worker's job.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.WorkerCount),
		inmemory.WithLogger(log))

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewMatchHandler(container.Service, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	server := api.New(api.Config{
		Port:      cfg.HTTPPort,
		Log:       log,
		Service:   container.Service,
		Publisher: jobQueue,
		JobStore:  jobStore,
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancelWorker()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
