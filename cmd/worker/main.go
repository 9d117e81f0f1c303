package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docissue/internal/app"
	"github.com/nikhilbhutani/docissue/internal/config"
	"github.com/nikhilbhutani/docissue/internal/queue"
	"github.com/nikhilbhutani/docissue/internal/queue/workers"
	"github.com/nikhilbhutani/docissue/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	concurrency := cfg.Generation.Workers
	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()

	// Register workers
	bulkWorker := workers.NewBulkWorker(a.Batches)
	webhookWorker := workers.NewWebhookWorker(webhook.NewDispatcher(a.Pool))

	registry.Register(queue.TypeGenerationBulk, asynq.HandlerFunc(bulkWorker.ProcessTask))
	registry.Register(queue.TypeWebhookDeliver, asynq.HandlerFunc(webhookWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", concurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
