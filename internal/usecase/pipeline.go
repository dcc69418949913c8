package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
	"CorpusCurator/internal/status"
)

const defaultSeedLimit = 10

// PipelineDeps wires all driven adapters into the batch pipeline.
type PipelineDeps struct {
	Seeds       ports.SeedRepository
	Fetcher     ports.Fetcher
	Coordinator *BatchCoordinator
	Reporter    ports.StatusReporter
	// Backfill, when set, runs after every successful batch.
	Backfill *Backfiller
	Logger   *slog.Logger
	// SeedLimit caps the number of seed sources crawled per batch.
	SeedLimit int
	Now       func() time.Time
}

// Pipeline implements one crawl-and-admit batch.
type Pipeline struct {
	seeds       ports.SeedRepository
	fetcher     ports.Fetcher
	coordinator *BatchCoordinator
	reporter    ports.StatusReporter
	backfill    *Backfiller
	logger      *slog.Logger
	seedLimit   int
	now         func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.SeedLimit <= 0 {
		deps.SeedLimit = defaultSeedLimit
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{
		seeds:       deps.Seeds,
		fetcher:     deps.Fetcher,
		coordinator: deps.Coordinator,
		reporter:    deps.Reporter,
		backfill:    deps.Backfill,
		logger:      deps.Logger,
		seedLimit:   deps.SeedLimit,
		now:         deps.Now,
	}
}

// RunBatch crawls the due seed sources and drives the fetched candidates
// through deduplication and admission. Seeds are marked crawled only after
// their candidates were processed.
func (p *Pipeline) RunBatch(ctx context.Context, batch int) (BatchResult, error) {
	if p.seeds == nil || p.fetcher == nil || p.coordinator == nil {
		return BatchResult{}, fmt.Errorf("pipeline is not fully wired")
	}

	started := p.now()
	p.report(ctx, ports.Progress{Batch: batch, Phase: status.PhaseFetching})

	due, err := p.seeds.DueSeedSources(ctx, started, p.seedLimit)
	if err != nil {
		return BatchResult{}, p.failed(ctx, batch, fmt.Errorf("load due seeds: %w", err))
	}
	if len(due) == 0 {
		p.info("no seed sources due", "batch", batch)
		p.report(ctx, ports.Progress{Batch: batch, Phase: status.PhaseCompleted})
		p.backfillEmbeddings(ctx, batch)
		return BatchResult{}, nil
	}

	candidates, err := p.fetcher.Fetch(ctx, due)
	if err != nil {
		return BatchResult{}, p.failed(ctx, batch, fmt.Errorf("fetch: %w", err))
	}

	p.report(ctx, ports.Progress{Batch: batch, Phase: status.PhaseDeduplicating, Candidates: len(candidates)})

	result, err := p.coordinator.Process(ctx, candidates)
	progress := ports.Progress{
		Batch:      batch,
		Candidates: len(candidates),
		Admitted:   len(result.Admitted),
		Duplicates: len(result.Duplicates),
		Failures:   len(result.Failures),
	}
	if err != nil {
		progress.Phase = status.PhaseFailed
		progress.Message = err.Error()
		p.report(ctx, progress)
		return result, err
	}

	p.markCrawled(ctx, due, started)

	progress.Phase = status.PhaseCompleted
	p.report(ctx, progress)
	p.info("batch completed",
		"batch", batch,
		"seeds", len(due),
		"candidates", len(candidates),
		"admitted", len(result.Admitted),
		"duplicates", len(result.Duplicates),
		"failures", len(result.Failures),
		"elapsed", p.now().Sub(started))
	p.backfillEmbeddings(ctx, batch)
	return result, nil
}

func (p *Pipeline) backfillEmbeddings(ctx context.Context, batch int) {
	if p.backfill == nil {
		return
	}
	if _, err := p.backfill.Run(ctx); err != nil && p.logger != nil {
		p.logger.Warn("embedding backfill failed", "batch", batch, "error", err)
	}
}

func (p *Pipeline) markCrawled(ctx context.Context, seeds []domain.SeedSource, at time.Time) {
	for _, seed := range seeds {
		if err := p.seeds.MarkSeedCrawled(ctx, seed.URL, at); err != nil && p.logger != nil {
			p.logger.Warn("mark seed crawled failed", "url", seed.URL, "error", err)
		}
	}
}

func (p *Pipeline) failed(ctx context.Context, batch int, err error) error {
	p.report(ctx, ports.Progress{Batch: batch, Phase: status.PhaseFailed, Message: err.Error()})
	return err
}

func (p *Pipeline) report(ctx context.Context, progress ports.Progress) {
	if p.reporter == nil {
		return
	}
	if err := p.reporter.Report(context.WithoutCancel(ctx), progress); err != nil && p.logger != nil {
		p.logger.Warn("status report failed", "phase", progress.Phase, "error", err)
	}
}

func (p *Pipeline) info(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}
