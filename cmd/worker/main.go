package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/reconciler/internal/config"
	"github.com/dvloznov/reconciler/internal/di"
	"github.com/dvloznov/reconciler/internal/jobs"
	"github.com/dvloznov/reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/reconciler/internal/logger"
	"github.com/dvloznov/reconciler/internal/scheduler"
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
	log = log.With().Str("service", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build service")
	}
	defer container.Close()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.WorkerCount),
		inmemory.WithLogger(log))

	log.Info().Msg("Starting worker service")

	if err := jobQueue.Start(ctx, jobs.NewMatchHandler(container.Service, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	rematch := scheduler.NewRematchJob(container.Store, jobQueue, jobStore, log)

	// With REMATCH_SCHEDULE empty only the startup pass runs.
	sched := scheduler.New(log)
	if cfg.RematchSchedule != "" {
		if err := sched.AddJob(cfg.RematchSchedule, rematch); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.RematchSchedule).Msg("Invalid rematch schedule")
		}
	}
	if err := sched.RunNow(rematch); err != nil {
		log.Error().Err(err).Msg("Initial rematch pass failed")
	}
	sched.Start()

	log.Info().Str("schedule", cfg.RematchSchedule).Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}
