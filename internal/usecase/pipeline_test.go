package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CorpusCurator/internal/dedup"
	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
	"CorpusCurator/internal/status"
)

type stubFetcher struct {
	docs  []domain.CandidateDocument
	err   error
	seeds []domain.SeedSource
}

func (f *stubFetcher) Fetch(_ context.Context, seeds []domain.SeedSource) ([]domain.CandidateDocument, error) {
	f.seeds = seeds
	return f.docs, f.err
}

type phaseRecorder struct {
	mu     sync.Mutex
	events []ports.Progress
}

func (r *phaseRecorder) Report(_ context.Context, p ports.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
	return errors.New("reporter offline")
}

func (r *phaseRecorder) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Phase)
	}
	return out
}

func (r *phaseRecorder) last() ports.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func equalPhases(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dedup.PolicyOptimistic)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seeds := []domain.SeedSource{
		{URL: "https://arxiv.org/list/cs.LG/recent", SourceType: "arxiv", CrawlFrequency: domain.CrawlDaily, Enabled: true, Priority: 8},
		{URL: "https://example.org/disabled", SourceType: "page", CrawlFrequency: domain.CrawlDaily, Enabled: false},
	}
	if err := h.store.UpsertSeedSources(ctx, seeds); err != nil {
		t.Fatalf("UpsertSeedSources: %v", err)
	}

	fetcher := &stubFetcher{docs: []domain.CandidateDocument{
		candidate("https://x/a", "Force fields for MD simulations..."),
		candidate("https://x/b", "Force fields for MD simulations..."),
	}}
	reporter := &phaseRecorder{}
	pipeline := NewPipeline(PipelineDeps{
		Seeds:       h.store,
		Fetcher:     fetcher,
		Coordinator: h.coordinator(1, nil),
		Reporter:    reporter,
		Logger:      discard,
		Now:         func() time.Time { return now },
	})

	result, err := pipeline.RunBatch(ctx, 1)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(fetcher.seeds) != 1 || fetcher.seeds[0].URL != seeds[0].URL {
		t.Fatalf("expected only the enabled seed to be fetched, got %+v", fetcher.seeds)
	}
	if len(result.Admitted) != 1 || len(result.Duplicates) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := reporter.phases(); !equalPhases(got, status.PhaseFetching, status.PhaseDeduplicating, status.PhaseCompleted) {
		t.Fatalf("unexpected phases %v", got)
	}
	if last := reporter.last(); last.Admitted != 1 || last.Duplicates != 1 || last.Candidates != 2 {
		t.Fatalf("unexpected summary %+v", last)
	}

	due, err := h.store.DueSeedSources(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("DueSeedSources: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("seed should not be due right after a crawl, got %+v", due)
	}
}

func TestRunBatchNothingDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dedup.PolicyOptimistic)

	fetcher := &stubFetcher{}
	reporter := &phaseRecorder{}
	pipeline := NewPipeline(PipelineDeps{
		Seeds:       h.store,
		Fetcher:     fetcher,
		Coordinator: h.coordinator(1, nil),
		Reporter:    reporter,
	})

	result, err := pipeline.RunBatch(context.Background(), 3)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Total() != 0 || fetcher.seeds != nil {
		t.Fatalf("expected an empty batch without fetching, got %+v", result)
	}
	if got := reporter.phases(); !equalPhases(got, status.PhaseFetching, status.PhaseCompleted) {
		t.Fatalf("unexpected phases %v", got)
	}
}

func TestRunBatchStorageOutageLeavesSeedsDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dedup.PolicyOptimistic)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := domain.SeedSource{URL: "https://example.org/docs", SourceType: "page", CrawlFrequency: domain.CrawlWeekly, Enabled: true}
	if err := h.store.UpsertSeedSources(ctx, []domain.SeedSource{seed}); err != nil {
		t.Fatalf("UpsertSeedSources: %v", err)
	}

	store := &faultyStore{Store: h.store, failures: map[string]error{
		"https://x/a": &domain.AdmissionError{Kind: domain.AdmissionStorageUnavailable, Err: errors.New("disk gone")},
	}}
	reporter := &phaseRecorder{}
	pipeline := NewPipeline(PipelineDeps{
		Seeds:       h.store,
		Fetcher:     &stubFetcher{docs: []domain.CandidateDocument{candidate("https://x/a", "text")}},
		Coordinator: h.coordinator(1, store),
		Reporter:    reporter,
		Now:         func() time.Time { return now },
	})

	if _, err := pipeline.RunBatch(ctx, 1); !domain.IsStorageUnavailable(err) {
		t.Fatalf("expected storage outage, got %v", err)
	}
	if last := reporter.last(); last.Phase != status.PhaseFailed || last.Message == "" {
		t.Fatalf("expected failed phase, got %+v", last)
	}

	due, err := h.store.DueSeedSources(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueSeedSources: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("seed must stay due after an aborted batch, got %+v", due)
	}
}

func TestRunBatchFetchError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dedup.PolicyOptimistic)
	ctx := context.Background()

	if err := h.store.UpsertSeedSources(ctx, []domain.SeedSource{{URL: "https://example.org", SourceType: "page", Enabled: true}}); err != nil {
		t.Fatalf("UpsertSeedSources: %v", err)
	}

	reporter := &phaseRecorder{}
	pipeline := NewPipeline(PipelineDeps{
		Seeds:       h.store,
		Fetcher:     &stubFetcher{err: context.Canceled},
		Coordinator: h.coordinator(1, nil),
		Reporter:    reporter,
	})

	if _, err := pipeline.RunBatch(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if got := reporter.phases(); !equalPhases(got, status.PhaseFetching, status.PhaseFailed) {
		t.Fatalf("unexpected phases %v", got)
	}
}

func TestRunBatchRequiresWiring(t *testing.T) {
	t.Parallel()

	if _, err := NewPipeline(PipelineDeps{}).RunBatch(context.Background(), 1); err == nil {
		t.Fatal("expected wiring error")
	}
}

type tickOnce struct {
	stopped bool
}

func (d *tickOnce) Start(_ context.Context, job func(time.Time)) error {
	job(time.Now())
	job(time.Now())
	return nil
}

func (d *tickOnce) Stop(context.Context) error {
	d.stopped = true
	return nil
}

func TestSchedulerNumbersBatches(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dedup.PolicyOptimistic)

	driver := &tickOnce{}
	sched := NewScheduler(driver, NewPipeline(PipelineDeps{
		Seeds:       h.store,
		Fetcher:     &stubFetcher{},
		Coordinator: h.coordinator(1, nil),
	}), discard)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sched.Batches() != 2 {
		t.Fatalf("expected 2 batches, got %d", sched.Batches())
	}
	if err := sched.Stop(context.Background()); err != nil || !driver.stopped {
		t.Fatalf("Stop: %v", err)
	}
}
