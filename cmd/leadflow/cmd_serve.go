package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"LeadFlow/internal/api"
	"LeadFlow/internal/auth"
	"LeadFlow/internal/graph"
	"LeadFlow/internal/observability/metrics"
	"LeadFlow/internal/pipeline"
	"LeadFlow/internal/task"
	"LeadFlow/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run API and the background run processor",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := loadedCfg
	log := logger.Named("serve")

	rec := metrics.New()
	runner, err := newRunner(cfg, pipeline.WithObserver(func(_ string, step graph.Step) {
		rec.ObserveStep(string(step.Node))
	}))
	if err != nil {
		return err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	queue, err := newQueue(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return err
	}

	service := task.NewService(store, queue, cfg.Storage.TaskStore.Retries)
	defer func() {
		if err := service.Close(); err != nil {
			log.Warn("关闭运行服务失败", slog.Any("error", err))
		}
	}()

	processor := task.NewProcessor(runner, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("processor")),
		task.WithRunRecorder(rec),
	)
	server := api.NewServer(cfg.Server.Address, service,
		api.WithMetrics(rec),
		api.WithAuth(auth.NewGuard(cfg.Server.Auth)),
		api.WithCORS(cfg.Server.CORS.AllowedOrigins),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.Start(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
