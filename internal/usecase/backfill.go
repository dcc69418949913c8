package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/hasher"
	"CorpusCurator/internal/ports"
)

const defaultBackfillLimit = 100

// BackfillDeps wires the embedding backfill.
type BackfillDeps struct {
	Store    ports.EmbeddingRepository
	Embedder ports.Embedder
	// Index, when set, receives every filled embedding as well. It is the
	// in-memory index in memory mode and nil when Store answers queries.
	Index  ports.VectorIndex
	Logger *slog.Logger
	// PrefixRunes must match the resolver so stored vectors are comparable.
	PrefixRunes int
	Limit       int
	Timeout     time.Duration
}

// BackfillResult counts one pass.
type BackfillResult struct {
	Pending int
	Filled  int
	Failed  int
}

// Backfiller embeds resources admitted while tier 3 was unavailable so
// later candidates can be compared against them.
type Backfiller struct {
	store       ports.EmbeddingRepository
	embedder    ports.Embedder
	index       ports.VectorIndex
	logger      *slog.Logger
	prefixRunes int
	limit       int
	timeout     time.Duration
}

// NewBackfiller constructs a Backfiller.
func NewBackfiller(deps BackfillDeps) *Backfiller {
	if deps.Limit <= 0 {
		deps.Limit = defaultBackfillLimit
	}
	if deps.Timeout <= 0 {
		deps.Timeout = defaultOperationTimeout
	}
	return &Backfiller{
		store:       deps.Store,
		embedder:    deps.Embedder,
		index:       deps.Index,
		logger:      deps.Logger,
		prefixRunes: deps.PrefixRunes,
		limit:       deps.Limit,
		timeout:     deps.Timeout,
	}
}

// Run makes one pass over up to Limit pending resources. An embedding
// failure skips that resource until the next pass; a storage outage ends
// the pass.
func (b *Backfiller) Run(ctx context.Context) (BackfillResult, error) {
	if b.store == nil || b.embedder == nil {
		return BackfillResult{}, fmt.Errorf("backfill is not fully wired")
	}

	pending, err := b.store.PendingEmbeddings(ctx, b.limit)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("load pending embeddings: %w", err)
	}
	result := BackfillResult{Pending: len(pending)}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := b.fill(ctx, p); err != nil {
			if domain.IsStorageUnavailable(err) {
				return result, err
			}
			result.Failed++
			b.warn("backfill failed", "id", p.ID, "error", err)
			continue
		}
		result.Filled++
	}

	if result.Pending > 0 && b.logger != nil {
		b.logger.Info("embedding backfill finished", "pending", result.Pending, "filled", result.Filled, "failed", result.Failed)
	}
	return result, nil
}

func (b *Backfiller) fill(ctx context.Context, p domain.PendingEmbedding) error {
	opCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	vector, err := b.embedder.Embed(opCtx, hasher.Prefix(p.NormalizedContent, b.prefixRunes))
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if err := b.store.Upsert(opCtx, p.ID, p.CreatedAt, vector); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	if b.index != nil {
		if err := b.index.Upsert(opCtx, p.ID, p.CreatedAt, vector); err != nil {
			return fmt.Errorf("index embedding: %w", err)
		}
	}
	return nil
}

func (b *Backfiller) warn(msg string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}
