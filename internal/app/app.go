package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"CorpusCurator/internal/classifier"
	"CorpusCurator/internal/config"
	"CorpusCurator/internal/dedup"
	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/infrastructure/llm"
	"CorpusCurator/internal/infrastructure/ml"
	"CorpusCurator/internal/infrastructure/parser"
	"CorpusCurator/internal/infrastructure/scheduler"
	"CorpusCurator/internal/infrastructure/storage"
	"CorpusCurator/internal/infrastructure/telegram"
	"CorpusCurator/internal/logging"
	"CorpusCurator/internal/ports"
	"CorpusCurator/internal/scanner"
	"CorpusCurator/internal/status"
	"CorpusCurator/internal/usecase"
	"CorpusCurator/internal/vectorindex"
)

const statusQueueSize = 64

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	reporter  *status.Async
	pipeline  *usecase.Pipeline
	backfill  *usecase.Backfiller
	scheduler *usecase.Scheduler
	batches   atomic.Int64
}

// New opens the store and builds every collaborator.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.NewWithFormat(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := openStore(ctx, cfg, logging.Component(baseLogger, "storage"))
	if err != nil {
		return nil, err
	}

	embedder := newEmbedder(cfg.Embedding)

	var index ports.VectorIndex = store
	var coordinatorIndex ports.VectorIndex
	if cfg.Dedup.Index == config.IndexMemory {
		memory, err := warmMemoryIndex(ctx, store, cfg.Embedding.Dimensions)
		if err != nil {
			store.Close()
			return nil, err
		}
		baseLogger.Info("memory index warmed", "component", "app", "entries", memory.Len())
		index = memory
		coordinatorIndex = memory
	}

	var seen *dedup.SeenCache
	if cfg.Dedup.SeenCacheEnabled() {
		seen = dedup.NewSeenCache()
	}
	resolver := dedup.NewResolver(store, index, embedder, seen, dedup.Options{
		Threshold:   cfg.Dedup.SimilarityThreshold,
		PrefixRunes: cfg.Dedup.EmbeddingPrefix,
		QueryLimit:  cfg.Dedup.QueryLimit,
		Policy:      dedup.Tier3Policy(cfg.Dedup.Tier3Failure),
	}, logging.Component(baseLogger, "dedup"))

	var primary ports.Classifier
	if cfg.ChatGPT.APIKey != "" {
		primary = llm.NewChatGPTClassifier(cfg.ChatGPT)
	}

	coordinator := usecase.NewBatchCoordinator(usecase.BatchDeps{
		Resolver:   resolver,
		Store:      store,
		Index:      coordinatorIndex,
		Classifier: classifier.WithFallback(primary, logging.Component(baseLogger, "classifier")),
		Logger:     logging.Component(baseLogger, "batch"),
	}, usecase.BatchOptions{
		Workers:          cfg.Batch.Workers,
		OperationTimeout: cfg.Batch.OperationTimeout,
	})

	client := parser.NewClient(&http.Client{Timeout: cfg.Fetch.Timeout}, cfg.Fetch.UserAgent, cfg.Fetch.RatePerSecond, cfg.Fetch.MaxBodyBytes)
	registry := scanner.NewRegistry()
	registry.Register(parser.NewArxivScanner(client))
	page := parser.NewPageScanner(client)
	registry.Register(page)
	registry.SetFallback(page.Name())

	sinks := status.Multi{status.LogReporter{Logger: logging.Component(baseLogger, "status")}}
	if cfg.Notifications.Telegram.Enabled() {
		sinks = append(sinks, telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID))
	}
	reporter := status.NewAsync(sinks, statusQueueSize, logging.Component(baseLogger, "status"))

	backfill := usecase.NewBackfiller(usecase.BackfillDeps{
		Store:       store,
		Embedder:    embedder,
		Index:       coordinatorIndex,
		Logger:      logging.Component(baseLogger, "backfill"),
		PrefixRunes: cfg.Dedup.EmbeddingPrefix,
		Limit:       cfg.Batch.Size,
		Timeout:     cfg.Batch.OperationTimeout,
	})

	location := cfg.Scheduler.Location()
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Seeds:       store,
		Fetcher:     parser.NewStrategySource(registry, logging.Component(baseLogger, "source")),
		Coordinator: coordinator,
		Reporter:    reporter,
		Backfill:    backfill,
		Logger:      logging.Component(baseLogger, "pipeline"),
		SeedLimit:   cfg.Batch.Size,
		Now:         func() time.Time { return time.Now().In(location) },
	})

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		reporter:  reporter,
		pipeline:  pipeline,
		backfill:  backfill,
		scheduler: usecase.NewScheduler(scheduler.NewIntervalScheduler(cfg.Scheduler.Interval), pipeline, logging.Component(baseLogger, "scheduler")),
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		return storage.OpenPostgres(ctx, cfg.Database.DSN, cfg.Embedding.Dimensions, logger)
	default:
		return storage.OpenSQLite(ctx, cfg.Database.DSN, cfg.Embedding.Dimensions, logger)
	}
}

func newEmbedder(cfg config.EmbeddingConfig) ports.Embedder {
	if cfg.Provider == config.ProviderOpenAI {
		return ml.NewClient(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Dimensions)
	}
	return ml.NewOllamaProvider(
		ml.WithBaseURL(cfg.Endpoint),
		ml.WithModel(cfg.Model),
		ml.WithDimensions(cfg.Dimensions),
		ml.WithTimeout(cfg.Timeout),
	)
}

func warmMemoryIndex(ctx context.Context, store *storage.Store, dimensions int) (*vectorindex.Memory, error) {
	entries, err := store.LoadEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	memory := vectorindex.NewMemory(dimensions)
	for _, e := range entries {
		if err := memory.Upsert(ctx, e.ID, e.CreatedAt, e.Vector); err != nil {
			return nil, fmt.Errorf("warm index with %s: %w", e.ID, err)
		}
	}
	return memory, nil
}

// Init loads the configured seed sources into the store. The schema is
// created when the store is opened.
func (a *Application) Init(ctx context.Context) error {
	seeds := a.cfg.Seeds()
	if err := a.store.UpsertSeedSources(ctx, seeds); err != nil {
		return fmt.Errorf("load seed sources: %w", err)
	}
	a.logger.Info("seed sources loaded", "component", "app", "count", len(seeds))
	return nil
}

// RunOnce performs a single batch.
func (a *Application) RunOnce(ctx context.Context) (usecase.BatchResult, error) {
	return a.pipeline.RunBatch(ctx, int(a.batches.Add(1)))
}

// Watch runs batches on the configured interval until ctx is done.
func (a *Application) Watch(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("watching", "component", "app", "interval", a.cfg.Scheduler.Interval)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Batch.OperationTimeout)
	defer cancel()
	return a.scheduler.Stop(stopCtx)
}

// Stats returns corpus counters.
func (a *Application) Stats(ctx context.Context) (domain.CorpusStats, error) {
	return a.store.Stats(ctx)
}

// Backfill embeds resources that were admitted without an embedding.
func (a *Application) Backfill(ctx context.Context) (usecase.BackfillResult, error) {
	return a.backfill.Run(ctx)
}

// Prune deletes failed attempts older than olderThan.
func (a *Application) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("prune window must be positive, got %s", olderThan)
	}
	return a.store.PruneAttempts(ctx, time.Now().UTC().Add(-olderThan))
}

// Close drains pending status events and closes the store.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.reporter != nil {
		if err := a.reporter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close status reporter: %w", err))
		}
		if dropped := a.reporter.Dropped(); dropped > 0 {
			a.logger.Warn("status events dropped", "component", "app", "count", dropped)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
