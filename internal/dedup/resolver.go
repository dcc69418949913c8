// Package dedup decides whether a candidate duplicates admitted material.
//
// Tiers run strictly in order and stop at the first match: URL history,
// exact fingerprint, embedding similarity. Only the last tier computes an
// embedding.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/hasher"
	"CorpusCurator/internal/ports"
)

const (
	DefaultThreshold   = 0.95
	DefaultPrefixRunes = 1000
	DefaultQueryLimit  = 10
)

// Tier3Policy selects what happens when the near-duplicate tier cannot be
// evaluated.
type Tier3Policy string

const (
	// PolicyOptimistic treats an unavailable tier 3 as "no near duplicate".
	PolicyOptimistic Tier3Policy = "optimistic"
	// PolicyConservative surfaces a ResolutionError to the caller.
	PolicyConservative Tier3Policy = "conservative"
)

// Options tune the resolver.
type Options struct {
	Threshold   float64
	PrefixRunes int
	QueryLimit  int
	Policy      Tier3Policy
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.PrefixRunes <= 0 {
		o.PrefixRunes = DefaultPrefixRunes
	}
	if o.QueryLimit <= 0 {
		o.QueryLimit = DefaultQueryLimit
	}
	if o.Policy == "" {
		o.Policy = PolicyOptimistic
	}
	return o
}

// Resolver applies the three-tier policy. It never writes to the store.
type Resolver struct {
	lookup   ports.ResourceLookup
	index    ports.VectorIndex
	embedder ports.Embedder
	seen     *SeenCache
	opts     Options
	logger   *slog.Logger
}

// NewResolver wires the read-side collaborators. seen may be nil.
func NewResolver(lookup ports.ResourceLookup, index ports.VectorIndex, embedder ports.Embedder, seen *SeenCache, opts Options, logger *slog.Logger) *Resolver {
	return &Resolver{
		lookup:   lookup,
		index:    index,
		embedder: embedder,
		seen:     seen,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Classify returns the decision for one candidate.
func (r *Resolver) Classify(ctx context.Context, url, content string) (domain.Decision, error) {
	attempted, err := r.urlAttempted(ctx, url)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("tier 1: %w", err)
	}
	if attempted {
		return domain.Decision{Duplicate: true, Reason: domain.ReasonURLAttempted}, nil
	}

	normalized, err := hasher.Normalize(content)
	if err != nil {
		return domain.Decision{}, err
	}
	fingerprint := hasher.FingerprintNormalized(normalized)

	id, found, err := r.lookup.ResourceIDByFingerprint(ctx, fingerprint)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("tier 2: %w", err)
	}
	if found {
		return domain.Decision{
			Duplicate:   true,
			Reason:      domain.ReasonExactContent,
			MatchedID:   id,
			Similarity:  1,
			Fingerprint: fingerprint,
		}, nil
	}

	decision := domain.Decision{Fingerprint: fingerprint, NormalizedContent: normalized}

	embedding, match, err := r.nearDuplicate(ctx, normalized)
	if err != nil {
		if domain.IsStorageUnavailable(err) || r.opts.Policy == PolicyConservative {
			return domain.Decision{}, err
		}
		r.warn("tier 3 unavailable, admitting optimistically", "url", url, "error", err)
		return decision, nil
	}

	decision.Embedding = embedding
	if match != nil {
		decision.Duplicate = true
		decision.Reason = domain.ReasonEmbedding
		decision.MatchedID = match.ID
		decision.Similarity = match.Similarity
	}
	return decision, nil
}

// Threshold returns the configured similarity threshold.
func (r *Resolver) Threshold() float64 {
	return r.opts.Threshold
}

// MarkSeen caches url after a ledger write with status. Only statuses that
// PruneAttempts never removes are cached, so a pruned failure makes the URL
// eligible again without a restart.
func (r *Resolver) MarkSeen(url string, status domain.AttemptStatus) {
	if r.seen != nil && cacheable(status) {
		r.seen.Add(url)
	}
}

func cacheable(status domain.AttemptStatus) bool {
	return status == domain.AttemptSuccess || status == domain.AttemptSkipped
}

func (r *Resolver) urlAttempted(ctx context.Context, url string) (bool, error) {
	if r.seen != nil && r.seen.Contains(url) {
		return true, nil
	}
	status, attempted, err := r.lookup.AttemptStatus(ctx, url)
	if err != nil {
		return false, err
	}
	if attempted {
		r.MarkSeen(url, status)
	}
	return attempted, nil
}

func (r *Resolver) nearDuplicate(ctx context.Context, normalized string) ([]float32, *ports.Match, error) {
	if r.embedder == nil || r.index == nil {
		return nil, nil, &domain.ResolutionError{Stage: "embedding", Err: fmt.Errorf("no embedder or index configured")}
	}

	embedding, err := r.embedder.Embed(ctx, hasher.Prefix(normalized, r.opts.PrefixRunes))
	if err != nil {
		return nil, nil, &domain.ResolutionError{Stage: "embedding", Err: err}
	}

	matches, err := r.index.QuerySimilar(ctx, embedding, r.opts.Threshold, r.opts.QueryLimit)
	if err != nil {
		if domain.IsStorageUnavailable(err) {
			return nil, nil, err
		}
		return nil, nil, &domain.ResolutionError{Stage: "index query", Err: err}
	}

	if len(matches) == 0 {
		return embedding, nil, nil
	}
	best := matches[0]
	return embedding, &best, nil
}

func (r *Resolver) warn(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
