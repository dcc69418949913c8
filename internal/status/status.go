// Package status delivers progress notifications off the critical path.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"CorpusCurator/internal/ports"
)

// Batch phases reported by the pipeline.
const (
	PhaseFetching      = "fetching"
	PhaseDeduplicating = "deduplicating"
	PhaseCompleted     = "completed"
	PhaseFailed        = "failed"
)

const deliveryTimeout = 10 * time.Second

// Async queues progress events for a sink and delivers them from a single
// background goroutine. Report never blocks: events are dropped when the
// queue is full, and sink errors or panics are only logged.
type Async struct {
	sink    ports.StatusReporter
	queue   chan ports.Progress
	done    chan struct{}
	logger  *slog.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

var _ ports.StatusReporter = (*Async)(nil)

// NewAsync starts the delivery goroutine. Call Close to drain it.
func NewAsync(sink ports.StatusReporter, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 64
	}
	a := &Async{
		sink:   sink,
		queue:  make(chan ports.Progress, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go a.run()
	return a
}

// Report enqueues p. It always returns nil.
func (a *Async) Report(_ context.Context, p ports.Progress) error {
	if p.At.IsZero() {
		p.At = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}

	select {
	case a.queue <- p:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of events discarded so far.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for p := range a.queue {
		a.deliver(p)
	}
}

func (a *Async) deliver(p ports.Progress) {
	defer func() {
		if r := recover(); r != nil && a.logger != nil {
			a.logger.Error("status sink panicked", "phase", p.Phase, "panic", r)
		}
	}()

	if a.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := a.sink.Report(ctx, p); err != nil && a.logger != nil {
		a.logger.Warn("status sink failed", "phase", p.Phase, "error", err)
	}
}

// Multi fans an event out to several sinks.
type Multi []ports.StatusReporter

// Report delivers to every sink and joins their errors.
func (m Multi) Report(ctx context.Context, p ports.Progress) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Report(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogReporter writes progress events to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements ports.StatusReporter.
func (l LogReporter) Report(_ context.Context, p ports.Progress) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.Info("batch progress",
		"batch", p.Batch,
		"phase", p.Phase,
		"candidates", p.Candidates,
		"admitted", p.Admitted,
		"duplicates", p.Duplicates,
		"failures", p.Failures,
		"message", p.Message,
	)
	return nil
}

// Summary renders a one-line human readable description of p.
func Summary(p ports.Progress) string {
	s := fmt.Sprintf("Batch %d %s: %d candidates, %d admitted, %d duplicates, %d failures",
		p.Batch, p.Phase, p.Candidates, p.Admitted, p.Duplicates, p.Failures)
	if p.Message != "" {
		s += " (" + p.Message + ")"
	}
	return s
}
