package status

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"CorpusCurator/internal/ports"
)

type recordingSink struct {
	mu     sync.Mutex
	events []ports.Progress
	block  chan struct{}
	err    error
	panics bool
}

func (r *recordingSink) Report(_ context.Context, p ports.Progress) error {
	if r.block != nil {
		<-r.block
	}
	if r.panics {
		panic("sink exploded")
	}
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestAsyncDeliversInOrder(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	async := NewAsync(sink, 8, nil)
	for i := 1; i <= 3; i++ {
		if err := async.Report(context.Background(), ports.Progress{Batch: i, Phase: PhaseCompleted}); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := async.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if sink.count() != 3 {
		t.Fatalf("expected 3 events, got %d", sink.count())
	}
	for i, e := range sink.events {
		if e.Batch != i+1 || e.At.IsZero() {
			t.Fatalf("unexpected event %d: %+v", i, e)
		}
	}
}

func TestAsyncNeverBlocks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{block: make(chan struct{})}
	async := NewAsync(sink, 1, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			_ = async.Report(context.Background(), ports.Progress{Batch: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a stuck sink")
	}
	if async.Dropped() == 0 {
		t.Fatal("expected events to be dropped while the sink is stuck")
	}

	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := async.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_ = async.Report(context.Background(), ports.Progress{Batch: 99})
}

func TestAsyncSurvivesSinkFailures(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	async := NewAsync(&recordingSink{panics: true}, 4, logger)
	_ = async.Report(context.Background(), ports.Progress{Phase: PhaseFailed})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := async.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(buf.String(), "status sink panicked") {
		t.Fatalf("expected panic to be logged, got %q", buf.String())
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("telegram down")}
	err := Multi{ok, nil, failing}.Report(context.Background(), ports.Progress{Batch: 1})
	if err == nil || !strings.Contains(err.Error(), "telegram down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.count() != 1 || failing.count() != 1 {
		t.Fatal("expected every sink to receive the event")
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	got := Summary(ports.Progress{Batch: 2, Phase: PhaseCompleted, Candidates: 5, Admitted: 3, Duplicates: 1, Failures: 1})
	want := "Batch 2 completed: 5 candidates, 3 admitted, 1 duplicates, 1 failures"
	if got != want {
		t.Fatalf("Summary = %q, want %q", got, want)
	}
}
