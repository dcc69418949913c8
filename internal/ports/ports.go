package ports

import (
	"context"
	"time"

	"CorpusCurator/internal/domain"
)

// Fetcher turns seed sources into raw candidate documents. A source that
// yields nothing is not an error.
type Fetcher interface {
	Fetch(ctx context.Context, seeds []domain.SeedSource) ([]domain.CandidateDocument, error)
}

// Classifier assigns type, difficulty and topics to a document.
type Classifier interface {
	Classify(ctx context.Context, title, content, url string) (domain.Classification, error)
}

// Embedder computes semantic embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
}

// Match is a single similarity hit returned by a VectorIndex.
type Match struct {
	ID         string
	Similarity float64
	CreatedAt  time.Time
}

// VectorIndex stores and queries embeddings for near-duplicate search.
// QuerySimilar returns matches whose similarity is strictly greater than
// threshold, ordered by similarity descending and then by creation time
// ascending.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, createdAt time.Time, embedding []float32) error
	QuerySimilar(ctx context.Context, embedding []float32, threshold float64, limit int) ([]Match, error)
}

// ResourceLookup is the read-only view of the durable tables used by the
// duplicate resolver.
type ResourceLookup interface {
	AttemptStatus(ctx context.Context, url string) (domain.AttemptStatus, bool, error)
	ResourceIDByFingerprint(ctx context.Context, fingerprint string) (string, bool, error)
}

// AdmissionStore owns every write to the durable tables.
type AdmissionStore interface {
	Admit(ctx context.Context, draft domain.ResourceDraft) (domain.StoredResource, error)
	RecordAttempt(ctx context.Context, url string, status domain.AttemptStatus, detail string) error
	Ping(ctx context.Context) error
}

// EmbeddingRepository lists resources admitted without an embedding. Upsert
// fills one in and never overwrites an existing vector.
type EmbeddingRepository interface {
	PendingEmbeddings(ctx context.Context, limit int) ([]domain.PendingEmbedding, error)
	Upsert(ctx context.Context, id string, createdAt time.Time, embedding []float32) error
}

// SeedRepository persists the seed_sources configuration table.
type SeedRepository interface {
	UpsertSeedSources(ctx context.Context, seeds []domain.SeedSource) error
	DueSeedSources(ctx context.Context, now time.Time, limit int) ([]domain.SeedSource, error)
	MarkSeedCrawled(ctx context.Context, url string, at time.Time) error
}

// Progress is a fire-and-forget status notification.
type Progress struct {
	Batch      int
	Phase      string
	Candidates int
	Admitted   int
	Duplicates int
	Failures   int
	Message    string
	At         time.Time
}

// StatusReporter receives progress notifications. Implementations must not
// be relied on for correctness.
type StatusReporter interface {
	Report(ctx context.Context, p Progress) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
