package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"CorpusCurator/internal/ports"
)

// Scheduler wires the interval driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
	batches  atomic.Int64
}

// NewScheduler returns a helper to start/stop recurring batches.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger}
}

// Start registers the pipeline with the provided scheduler. Batch errors
// are logged; the next tick runs regardless.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		batch := int(s.batches.Add(1))
		if _, err := s.pipeline.RunBatch(ctx, batch); err != nil && s.logger != nil {
			s.logger.Error("batch failed", "batch", batch, "trigger", trigger, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Batches returns the number of batches started so far.
func (s *Scheduler) Batches() int {
	return int(s.batches.Load())
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
