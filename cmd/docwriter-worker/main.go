// Package main is the long-running process that runs every pipeline stage
// worker plus the Status Recorder against one shared set of backends.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/convert"
	"github.com/raphaelgruber/memcp-go/internal/diagram"
	"github.com/raphaelgruber/memcp-go/internal/llmgateway"
	"github.com/raphaelgruber/memcp-go/internal/metrics"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/pipeline"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statusrecorder"
	"github.com/raphaelgruber/memcp-go/internal/statusstore"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("docwriter-worker starting",
		"version", version,
		"broker_url", cfg.BrokerURL,
		"objectstore_backend", cfg.ObjectStoreBackend,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	collector := metrics.NewCollector()

	statusStore, err := connectStatusStore(ctx, cfg, logger, collector)
	if err != nil {
		logger.Error("failed to connect status store", "error", err)
		os.Exit(1)
	}

	objectStore, err := connectObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect object store", "error", err)
		os.Exit(1)
	}

	broker := queue.NewDurableBroker(queue.NewMemoryBroker(), statusStore, logger)

	topic := statustopic.New(logger)

	gateway, err := llmgateway.NewLangchainGateway(cfg, collector)
	if err != nil {
		logger.Error("failed to build llm gateway", "error", err)
		os.Exit(1)
	}

	embedder, err := llmgateway.NewOllamaEmbedder(cfg, collector)
	if err != nil {
		logger.Warn("cohesion embeddings disabled: failed to build embedder", "error", err)
		embedder = nil
	}

	renderer := diagram.NewHTTPRenderer(cfg.DiagramRendererURL)
	var converter convert.Converter
	if cfg.ConverterURL != "" {
		converter = convert.NewHTTPConverter(cfg.ConverterURL)
	} else {
		logger.Warn("no converter url configured, pdf/docx output disabled")
	}

	recorder := statusrecorder.New(statusStore, topic, logger)

	deps := pipeline.Deps{
		Config:    cfg,
		Broker:    broker,
		Store:     objectStore,
		Status:    statusStore,
		Topic:     topic,
		Gateway:   gateway,
		Embedder:  embedder,
		Renderer:  renderer,
		Converter: converter,
		Collector: collector,
		Log:       logger,
	}
	workers := pipeline.BuildWorkers(deps)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		recorder.Run(ctx)
	}()

	for _, w := range workers {
		wg.Add(1)
		go func(w *pipeline.Worker) {
			defer wg.Done()
			logger.Info("worker started", "stage", string(w.Stage), "queue", w.QueueName)
			w.Run(ctx)
		}(w)
	}

	logger.Info("docwriter-worker ready", "workers", len(workers))
	<-ctx.Done()

	logger.Info("shutting down, waiting for in-flight work to finish")
	wg.Wait()
	logger.Info("shutdown complete")
}

// connectStatusStore dials SurrealDB per cfg. There is no in-memory
// fallback here: the worker process is the durability boundary, so it
// always talks to the real backend.
func connectStatusStore(ctx context.Context, cfg config.Config, logger *slog.Logger, collector *metrics.Collector) (statusstore.Store, error) {
	return statusstore.NewClient(ctx, statusstore.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger, collector)
}

// connectObjectStore selects fs or minio per cfg.ObjectStoreBackend.
func connectObjectStore(ctx context.Context, cfg config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStoreBackend {
	case "minio":
		minioCfg := objectstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}
		if cfg.MinioConfigFile != "" {
			fileCfg, err := objectstore.LoadMinioConfigFile(cfg.MinioConfigFile)
			if err != nil {
				return nil, fmt.Errorf("docwriter-worker: %w", err)
			}
			minioCfg = fileCfg
		}
		return objectstore.NewMinioStore(ctx, minioCfg)
	case "fs":
		return objectstore.NewFSStore(cfg.ObjectStoreRoot)
	default:
		return nil, fmt.Errorf("docwriter-worker: unknown object store backend %q", cfg.ObjectStoreBackend)
	}
}
