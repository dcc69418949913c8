package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
	"CorpusCurator/internal/vectorindex"
)

// Store persists resources, the scrape-attempt ledger and seed sources.
// Uniqueness of resources.url and resources.content_fingerprint is enforced
// by the schema; the store only translates violations.
type Store struct {
	db         *sql.DB
	dialect    dialect
	sb         sq.StatementBuilderType
	dimensions int
	now        func() time.Time
	logger     *slog.Logger
}

var (
	_ ports.AdmissionStore      = (*Store)(nil)
	_ ports.ResourceLookup      = (*Store)(nil)
	_ ports.VectorIndex         = (*Store)(nil)
	_ ports.SeedRepository      = (*Store)(nil)
	_ ports.EmbeddingRepository = (*Store)(nil)
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func newStore(db *sql.DB, d dialect, dimensions int, logger *slog.Logger) *Store {
	return &Store{
		db:         db,
		dialect:    d,
		sb:         sq.StatementBuilder.PlaceholderFormat(d.placeholder()),
		dimensions: dimensions,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimensions returns the embedding dimensionality of the resources table.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema(s.dimensions) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.name(), s.readErr(err))
		}
	}
	return nil
}

// Ping checks that the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// AttemptStatus returns the ledger status of url, if it has a row.
func (s *Store) AttemptStatus(ctx context.Context, url string) (domain.AttemptStatus, bool, error) {
	query, args, err := s.sb.Select("status").From("scrape_history").Where(sq.Eq{"url": url}).Limit(1).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build attempt query: %w", err)
	}

	var status string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query attempt: %w", s.readErr(err))
	}
	return domain.AttemptStatus(status), true, nil
}

// ResourceIDByFingerprint returns the id of the resource with fingerprint.
func (s *Store) ResourceIDByFingerprint(ctx context.Context, fingerprint string) (string, bool, error) {
	query, args, err := s.sb.Select("id").From("resources").Where(sq.Eq{"content_fingerprint": fingerprint}).Limit(1).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build fingerprint query: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query fingerprint: %w", s.readErr(err))
	}
	return id, true, nil
}

// Admit inserts the resource row and its success attempt in one
// transaction. Uniqueness conflicts surface as AdmissionError with kind
// race-duplicate.
func (s *Store) Admit(ctx context.Context, draft domain.ResourceDraft) (domain.StoredResource, error) {
	if len(draft.Embedding) > 0 && len(draft.Embedding) != s.dimensions {
		return domain.StoredResource{}, &domain.AdmissionError{
			Kind:       domain.AdmissionConstraintViolation,
			Constraint: "embedding_dimensions",
			Err:        fmt.Errorf("got %d dimensions, want %d", len(draft.Embedding), s.dimensions),
		}
	}

	topics, err := json.Marshal(nonNilTopics(draft.Classification.Topics))
	if err != nil {
		return domain.StoredResource{}, fmt.Errorf("marshal topics: %w", err)
	}

	embedding, err := s.dialect.embeddingValue(draft.Embedding)
	if err != nil {
		return domain.StoredResource{}, fmt.Errorf("encode embedding: %w", err)
	}

	resource := domain.StoredResource{
		ID:                uuid.NewString(),
		URL:               draft.URL,
		Title:             draft.Title,
		Fingerprint:       draft.Fingerprint,
		NormalizedContent: draft.NormalizedContent,
		Markdown:          draft.Markdown,
		SourceSite:        draft.SourceSite,
		Classification:    draft.Classification,
		Embedding:         draft.Embedding,
		CreatedAt:         s.now(),
	}

	insert, args, err := s.sb.Insert("resources").
		Columns("id", "url", "title", "content_fingerprint", "content", "markdown",
			"resource_type", "difficulty_level", "topics_json", "source_site", "created_at", "embedding").
		Values(resource.ID, resource.URL, resource.Title, resource.Fingerprint, resource.NormalizedContent,
			nullString(resource.Markdown), resource.Classification.ResourceType, resource.Classification.DifficultyLevel,
			string(topics), resource.SourceSite, resource.CreatedAt, embedding).
		ToSql()
	if err != nil {
		return domain.StoredResource{}, fmt.Errorf("build resource insert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoredResource{}, s.admissionErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return domain.StoredResource{}, s.admissionErr(err)
	}
	if err := s.upsertAttempt(ctx, tx, resource.URL, domain.AttemptSuccess, "", resource.CreatedAt); err != nil {
		return domain.StoredResource{}, s.admissionErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.StoredResource{}, s.admissionErr(err)
	}

	return resource, nil
}

// RecordAttempt inserts or updates the ledger row for url. A skipped
// attempt never replaces success: the URL still backs an admitted resource.
func (s *Store) RecordAttempt(ctx context.Context, url string, status domain.AttemptStatus, detail string) error {
	if err := s.upsertAttempt(ctx, s.db, url, status, detail, s.now()); err != nil {
		return fmt.Errorf("record attempt %s: %w", url, s.readErr(err))
	}
	return nil
}

func (s *Store) upsertAttempt(ctx context.Context, q queryer, url string, status domain.AttemptStatus, detail string, at time.Time) error {
	query, args, err := s.sb.Insert("scrape_history").
		Columns("url", "last_attempt_at", "status", "error_detail").
		Values(url, at, string(status), nullString(detail)).
		Suffix(`ON CONFLICT (url) DO UPDATE SET
			last_attempt_at = excluded.last_attempt_at,
			status = CASE WHEN scrape_history.status = 'success' AND excluded.status = 'skipped'
				THEN scrape_history.status ELSE excluded.status END,
			error_detail = CASE WHEN scrape_history.status = 'success' AND excluded.status = 'skipped'
				THEN scrape_history.error_detail ELSE excluded.error_detail END`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build attempt upsert: %w", err)
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

// Attempt returns the ledger row for url.
func (s *Store) Attempt(ctx context.Context, url string) (domain.ScrapeAttempt, bool, error) {
	query, args, err := s.sb.Select("url", "last_attempt_at", "status", "error_detail").
		From("scrape_history").Where(sq.Eq{"url": url}).ToSql()
	if err != nil {
		return domain.ScrapeAttempt{}, false, fmt.Errorf("build attempt select: %w", err)
	}

	var (
		attempt domain.ScrapeAttempt
		status  string
		detail  sql.NullString
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&attempt.URL, &attempt.LastAttemptAt, &status, &detail)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScrapeAttempt{}, false, nil
	}
	if err != nil {
		return domain.ScrapeAttempt{}, false, fmt.Errorf("select attempt: %w", s.readErr(err))
	}
	attempt.Status = domain.AttemptStatus(status)
	attempt.ErrorDetail = detail.String
	return attempt, true, nil
}

// ResourceByURL loads a stored resource without its embedding.
func (s *Store) ResourceByURL(ctx context.Context, url string) (domain.StoredResource, bool, error) {
	query, args, err := s.sb.Select("id", "url", "title", "content_fingerprint", "content", "markdown",
		"resource_type", "difficulty_level", "topics_json", "source_site", "created_at").
		From("resources").Where(sq.Eq{"url": url}).ToSql()
	if err != nil {
		return domain.StoredResource{}, false, fmt.Errorf("build resource select: %w", err)
	}

	var (
		r        domain.StoredResource
		markdown sql.NullString
		topics   string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&r.ID, &r.URL, &r.Title, &r.Fingerprint, &r.NormalizedContent,
		&markdown, &r.Classification.ResourceType, &r.Classification.DifficultyLevel, &topics, &r.SourceSite, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoredResource{}, false, nil
	}
	if err != nil {
		return domain.StoredResource{}, false, fmt.Errorf("select resource: %w", s.readErr(err))
	}
	r.Markdown = markdown.String
	if err := json.Unmarshal([]byte(topics), &r.Classification.Topics); err != nil {
		return domain.StoredResource{}, false, fmt.Errorf("decode topics for %s: %w", r.ID, err)
	}
	return r, true, nil
}

// Upsert sets the embedding of a resource that has none. Stored
// embeddings are immutable, so this never overwrites.
func (s *Store) Upsert(ctx context.Context, id string, _ time.Time, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	if len(embedding) != s.dimensions {
		return fmt.Errorf("%w: got %d, want %d", vectorindex.ErrDimensionMismatch, len(embedding), s.dimensions)
	}
	value, err := s.dialect.embeddingValue(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	query, args, err := s.sb.Update("resources").Set("embedding", value).
		Where(sq.Eq{"id": id}).Where("embedding IS NULL").ToSql()
	if err != nil {
		return fmt.Errorf("build embedding update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update embedding: %w", s.readErr(err))
	}
	return nil
}

// QuerySimilar delegates to the dialect's similarity search.
func (s *Store) QuerySimilar(ctx context.Context, embedding []float32, threshold float64, limit int) ([]ports.Match, error) {
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", vectorindex.ErrDimensionMismatch, len(embedding), s.dimensions)
	}
	matches, err := s.dialect.querySimilar(ctx, s, embedding, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", s.readErr(err))
	}
	return matches, nil
}

// LoadEmbeddings returns every stored embedding, used to warm an
// in-memory index.
func (s *Store) LoadEmbeddings(ctx context.Context) ([]vectorindex.Entry, error) {
	query, args, err := s.sb.Select("id", "created_at", "embedding").
		From("resources").Where("embedding IS NOT NULL").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build embedding select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", s.readErr(err))
	}
	defer rows.Close()

	var entries []vectorindex.Entry
	for rows.Next() {
		var (
			entry vectorindex.Entry
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.CreatedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		entry.Vector, err = s.dialect.decodeEmbedding(raw)
		if err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", s.readErr(err))
	}
	return entries, nil
}

// PendingEmbeddings returns up to limit resources without an embedding,
// oldest first.
func (s *Store) PendingEmbeddings(ctx context.Context, limit int) ([]domain.PendingEmbedding, error) {
	builder := s.sb.Select("id", "content", "created_at").
		From("resources").Where("embedding IS NULL").
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending embeddings: %w", s.readErr(err))
	}
	defer rows.Close()

	var pending []domain.PendingEmbedding
	for rows.Next() {
		var p domain.PendingEmbedding
		if err := rows.Scan(&p.ID, &p.NormalizedContent, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending embedding: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", s.readErr(err))
	}
	return pending, nil
}

// Stats counts resources and attempts.
func (s *Store) Stats(ctx context.Context) (domain.CorpusStats, error) {
	var stats domain.CorpusStats

	counts := []struct {
		builder sq.SelectBuilder
		dest    *int
	}{
		{s.sb.Select("COUNT(*)").From("resources"), &stats.TotalResources},
		{s.sb.Select("COUNT(*)").From("scrape_history"), &stats.TotalAttempts},
		{s.sb.Select("COUNT(*)").From("scrape_history").Where(sq.Eq{"status": string(domain.AttemptSuccess)}), &stats.SuccessfulAttempts},
	}
	for _, c := range counts {
		query, args, err := c.builder.ToSql()
		if err != nil {
			return domain.CorpusStats{}, fmt.Errorf("build count: %w", err)
		}
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(c.dest); err != nil {
			return domain.CorpusStats{}, fmt.Errorf("count: %w", s.readErr(err))
		}
	}
	return stats, nil
}

// PruneAttempts deletes failed attempts older than cutoff so those URLs
// can be retried. Success and skipped rows are kept: they back tier 1.
func (s *Store) PruneAttempts(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := s.sb.Delete("scrape_history").
		Where(sq.Eq{"status": string(domain.AttemptFailed)}).
		Where(sq.Lt{"last_attempt_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", s.readErr(err))
	}
	return res.RowsAffected()
}

// readErr tags connectivity failures with ErrStorageUnavailable.
func (s *Store) readErr(err error) error {
	if kind, _ := s.dialect.classify(err); kind == domain.AdmissionStorageUnavailable {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return err
}

// admissionErr converts a write failure into an AdmissionError.
func (s *Store) admissionErr(err error) error {
	kind, constraint := s.dialect.classify(err)
	if kind == "" {
		return fmt.Errorf("admit resource: %w", err)
	}
	return &domain.AdmissionError{Kind: kind, Constraint: constraint, Err: err}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nonNilTopics(topics []string) []string {
	if topics == nil {
		return []string{}
	}
	return topics
}
