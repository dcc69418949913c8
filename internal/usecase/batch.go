package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
)

const (
	defaultWorkers          = 4
	defaultOperationTimeout = 30 * time.Second
)

// DuplicateResolver is the read-only decision step of the batch.
type DuplicateResolver interface {
	Classify(ctx context.Context, url, content string) (domain.Decision, error)
	MarkSeen(url string, status domain.AttemptStatus)
}

// BatchDeps wires the collaborators of a BatchCoordinator. Index and
// Classifier are optional.
type BatchDeps struct {
	Resolver   DuplicateResolver
	Store      ports.AdmissionStore
	Index      ports.VectorIndex
	Classifier ports.Classifier
	Logger     *slog.Logger
}

// BatchOptions tune concurrency.
type BatchOptions struct {
	Workers          int
	OperationTimeout time.Duration
}

// Duplicate is a candidate rejected by the resolver or by the store.
type Duplicate struct {
	Candidate  domain.CandidateDocument
	Reason     domain.DuplicateReason
	MatchedID  string
	Similarity float64
}

// Failure is a candidate that could not be processed.
type Failure struct {
	URL string
	Err error
}

// BatchResult holds the outcome of every candidate, in input order within
// each slice.
type BatchResult struct {
	Admitted   []domain.StoredResource
	Duplicates []Duplicate
	Failures   []Failure
}

// Total returns the number of candidates accounted for.
func (r BatchResult) Total() int {
	return len(r.Admitted) + len(r.Duplicates) + len(r.Failures)
}

// BatchCoordinator drives candidates through the resolver and the store.
type BatchCoordinator struct {
	resolver   DuplicateResolver
	store      ports.AdmissionStore
	index      ports.VectorIndex
	classifier ports.Classifier
	logger     *slog.Logger
	workers    int
	timeout    time.Duration
}

// NewBatchCoordinator constructs the coordinator.
func NewBatchCoordinator(deps BatchDeps, opts BatchOptions) *BatchCoordinator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	return &BatchCoordinator{
		resolver:   deps.Resolver,
		store:      deps.Store,
		index:      deps.Index,
		classifier: deps.Classifier,
		logger:     deps.Logger,
		workers:    opts.Workers,
		timeout:    opts.OperationTimeout,
	}
}

type outcomeKind int

const (
	outcomePending outcomeKind = iota
	outcomeAdmitted
	outcomeDuplicate
	outcomeFailed
)

type outcome struct {
	kind      outcomeKind
	stored    domain.StoredResource
	duplicate Duplicate
	err       error
}

// Process runs every candidate to a terminal state. Per-candidate errors
// are reported in the result. A storage outage aborts the batch and is
// returned; candidates that were never started are reported as failures
// wrapping domain.ErrBatchCancelled and get no attempt record.
func (b *BatchCoordinator) Process(ctx context.Context, candidates []domain.CandidateDocument) (BatchResult, error) {
	if len(candidates) == 0 {
		return BatchResult{}, nil
	}
	if b.resolver == nil || b.store == nil {
		return BatchResult{}, fmt.Errorf("batch coordinator is missing resolver or store")
	}

	outcomes := make([]outcome, len(candidates))

	if err := ctx.Err(); err != nil {
		return assemble(candidates, outcomes), cancelled(err)
	}
	if err := b.ping(ctx); err != nil {
		return assemble(candidates, outcomes), fmt.Errorf("batch aborted: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for i := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcomes[i] = b.processOne(gctx, candidates[i])
			if outcomes[i].kind == outcomeFailed && domain.IsStorageUnavailable(outcomes[i].err) {
				return outcomes[i].err
			}
			return nil
		})
	}

	fatal := g.Wait()
	result := assemble(candidates, outcomes)
	b.info("batch processed",
		"candidates", len(candidates),
		"admitted", len(result.Admitted),
		"duplicates", len(result.Duplicates),
		"failures", len(result.Failures))

	if fatal != nil {
		return result, fmt.Errorf("batch aborted: %w", fatal)
	}
	if err := ctx.Err(); err != nil && hasPending(outcomes) {
		return result, cancelled(err)
	}
	return result, nil
}

func (b *BatchCoordinator) processOne(ctx context.Context, candidate domain.CandidateDocument) outcome {
	log := b.logger
	if log != nil {
		log = log.With("url", candidate.URL)
	}

	opCtx, cancel := context.WithTimeout(ctx, b.timeout)
	decision, err := b.resolver.Classify(opCtx, candidate.URL, candidate.Content)
	cancel()
	if err != nil {
		if domain.IsStorageUnavailable(err) {
			return outcome{kind: outcomeFailed, err: err}
		}
		if ctx.Err() != nil {
			return outcome{}
		}
		return b.fail(ctx, candidate, err, log)
	}

	if decision.Duplicate {
		return b.duplicate(ctx, candidate, Duplicate{
			Candidate:  candidate,
			Reason:     decision.Reason,
			MatchedID:  decision.MatchedID,
			Similarity: decision.Similarity,
		}, log)
	}

	// Cancellation stops new admissions; the candidate stays unrecorded.
	if ctx.Err() != nil {
		return outcome{}
	}

	// From here on the admission runs to completion even if the batch is
	// cancelled.
	admitCtx := context.WithoutCancel(ctx)

	classification := b.classify(admitCtx, candidate, decision)

	opCtx, cancel = context.WithTimeout(admitCtx, b.timeout)
	stored, err := b.store.Admit(opCtx, domain.ResourceDraft{
		URL:               candidate.URL,
		Title:             candidate.Title,
		Fingerprint:       decision.Fingerprint,
		NormalizedContent: decision.NormalizedContent,
		Markdown:          candidate.Markdown,
		SourceSite:        candidate.SourceSite,
		Classification:    classification,
		Embedding:         decision.Embedding,
	})
	cancel()

	switch {
	case err == nil:
	case domain.IsRaceDuplicate(err):
		return b.duplicate(admitCtx, candidate, Duplicate{
			Candidate: candidate,
			Reason:    domain.ReasonRaceDuplicate,
		}, log)
	case domain.IsStorageUnavailable(err):
		return outcome{kind: outcomeFailed, err: err}
	default:
		return b.fail(admitCtx, candidate, err, log)
	}

	b.resolver.MarkSeen(candidate.URL, domain.AttemptSuccess)
	if b.index != nil && len(stored.Embedding) > 0 {
		if err := b.index.Upsert(admitCtx, stored.ID, stored.CreatedAt, stored.Embedding); err != nil && log != nil {
			log.Warn("index upsert failed", "id", stored.ID, "error", err)
		}
	}
	if log != nil {
		log.Debug("candidate admitted", "id", stored.ID, "resource_type", stored.Classification.ResourceType)
	}
	return outcome{kind: outcomeAdmitted, stored: stored}
}

func (b *BatchCoordinator) classify(ctx context.Context, candidate domain.CandidateDocument, decision domain.Decision) domain.Classification {
	if b.classifier == nil {
		return domain.Classification{}
	}
	opCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	c, err := b.classifier.Classify(opCtx, candidate.Title, decision.NormalizedContent, candidate.URL)
	if err != nil {
		b.warn("classification failed", "url", candidate.URL, "error", err)
		return domain.Classification{}
	}
	return c
}

// duplicate records a skipped attempt. A URL rejected at tier 1 already has
// a ledger row; it is left unchanged so a failure keeps its age for pruning
// and a success keeps backing its resource.
func (b *BatchCoordinator) duplicate(ctx context.Context, candidate domain.CandidateDocument, dup Duplicate, log *slog.Logger) outcome {
	if dup.Reason != domain.ReasonURLAttempted {
		if err := b.record(ctx, candidate.URL, domain.AttemptSkipped, string(dup.Reason)); domain.IsStorageUnavailable(err) {
			return outcome{kind: outcomeFailed, err: err}
		}
		b.resolver.MarkSeen(candidate.URL, domain.AttemptSkipped)
	}
	if log != nil {
		log.Debug("candidate is a duplicate", "reason", dup.Reason, "matched_id", dup.MatchedID, "similarity", dup.Similarity)
	}
	return outcome{kind: outcomeDuplicate, duplicate: dup}
}

func (b *BatchCoordinator) fail(ctx context.Context, candidate domain.CandidateDocument, cause error, log *slog.Logger) outcome {
	if err := b.record(ctx, candidate.URL, domain.AttemptFailed, cause.Error()); domain.IsStorageUnavailable(err) {
		return outcome{kind: outcomeFailed, err: err}
	}
	if log != nil {
		log.Warn("candidate failed", "error", cause)
	}
	return outcome{kind: outcomeFailed, err: cause}
}

func (b *BatchCoordinator) record(ctx context.Context, url string, status domain.AttemptStatus, detail string) error {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	err := b.store.RecordAttempt(opCtx, url, status, detail)
	if err != nil {
		b.warn("record attempt failed", "url", url, "status", status, "error", err)
	}
	return err
}

func (b *BatchCoordinator) ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.store.Ping(opCtx)
}

func assemble(candidates []domain.CandidateDocument, outcomes []outcome) BatchResult {
	var result BatchResult
	for i, o := range outcomes {
		switch o.kind {
		case outcomeAdmitted:
			result.Admitted = append(result.Admitted, o.stored)
		case outcomeDuplicate:
			result.Duplicates = append(result.Duplicates, o.duplicate)
		case outcomeFailed:
			result.Failures = append(result.Failures, Failure{URL: candidates[i].URL, Err: o.err})
		default:
			result.Failures = append(result.Failures, Failure{URL: candidates[i].URL, Err: domain.ErrBatchCancelled})
		}
	}
	return result
}

func hasPending(outcomes []outcome) bool {
	for _, o := range outcomes {
		if o.kind == outcomePending {
			return true
		}
	}
	return false
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", domain.ErrBatchCancelled, cause)
}

func (b *BatchCoordinator) info(msg string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *BatchCoordinator) warn(msg string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

// IsCancelled reports whether err ended a batch early because of
// cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, domain.ErrBatchCancelled)
}
