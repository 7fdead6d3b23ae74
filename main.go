package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"feedport/internal/app"
	"feedport/internal/config"
	"feedport/internal/logger"
)

func main() {
	// Structured logger with correlation ids propagated from context
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	deps, err := app.Bootstrap(cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	application, err := app.New(cfg, deps.DB, deps.NSQProducer, slog.Default())
	if err != nil {
		slog.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.EnableChunkWorker {
		if err := startConsumers(cfg, application); err != nil {
			slog.Error("failed to start consumers", "error", err)
			os.Exit(1)
		}
	}

	if cfg.EnableAPI {
		if err := application.Run(ctx); err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	<-ctx.Done()
}

func startConsumers(cfg *config.Config, application *app.App) error {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = 1

	chunkConsumer, err := nsq.NewConsumer(config.TopicImportChunk, "importer", nsqCfg)
	if err != nil {
		return err
	}
	chunkConsumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		return application.ChunkConsumer.HandleMessage(m)
	}))
	if err := chunkConsumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		return err
	}
	slog.Info("NSQ chunk consumer connected", "topic", config.TopicImportChunk)

	tickConsumer, err := nsq.NewConsumer(config.TopicImportTick, "scheduler", nsq.NewConfig())
	if err != nil {
		return err
	}
	tickConsumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		return application.TickConsumer.HandleMessage(m)
	}))
	if err := tickConsumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		return err
	}
	slog.Info("NSQ tick consumer connected", "topic", config.TopicImportTick)

	return nil
}
