package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
	"CorpusCurator/internal/vectorindex"
)

// annCandidateFactor widens the ANN candidate pool so that exact ties at
// the edge of the limit can still be ordered by creation time.
const annCandidateFactor = 4

// OpenPostgres connects to Postgres with lib/pq and migrates the schema,
// including the pgvector extension and HNSW index.
func OpenPostgres(ctx context.Context, dsn string, dimensions int, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := newStore(db, postgresDialect{}, dimensions, logger)
	if err := store.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) placeholder() sq.PlaceholderFormat { return sq.Dollar }

func (postgresDialect) schema(dimensions int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS resources (
			id UUID PRIMARY KEY,
			url VARCHAR(2048) NOT NULL,
			title VARCHAR(512) NOT NULL,
			content_fingerprint CHAR(64) NOT NULL,
			content TEXT NOT NULL,
			markdown TEXT,
			resource_type VARCHAR(50) NOT NULL,
			difficulty_level VARCHAR(20) NOT NULL,
			topics_json TEXT NOT NULL,
			source_site VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			embedding vector(%d),
			CONSTRAINT resources_url_key UNIQUE (url),
			CONSTRAINT resources_fingerprint_key UNIQUE (content_fingerprint)
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_resources_created_at ON resources(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_source_site ON resources(source_site)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_embedding ON resources USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS scrape_history (
			url VARCHAR(2048) PRIMARY KEY,
			last_attempt_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(20) NOT NULL CHECK (status IN ('success', 'failed', 'skipped')),
			error_detail TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scrape_history_status ON scrape_history(status, last_attempt_at)`,
		`CREATE TABLE IF NOT EXISTS seed_sources (
			url VARCHAR(2048) PRIMARY KEY,
			source_type VARCHAR(50) NOT NULL,
			crawl_frequency VARCHAR(20) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			priority INTEGER NOT NULL DEFAULT 1,
			description TEXT,
			last_crawled TIMESTAMPTZ
		)`,
	}
}

func (postgresDialect) embeddingValue(v []float32) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return pgvector.NewVector(v), nil
}

func (postgresDialect) decodeEmbedding(raw []byte) ([]float32, error) {
	var v pgvector.Vector
	if err := v.Scan(raw); err != nil {
		return nil, err
	}
	return v.Slice(), nil
}

// querySimilar lets the HNSW index pick the nearest candidates, then
// applies the strict threshold and the canonical tie-break.
func (postgresDialect) querySimilar(ctx context.Context, s *Store, embedding []float32, threshold float64, limit int) ([]ports.Match, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)

	nearest := sq.Select("id", "created_at").
		Column(sq.Expr("1 - (embedding <=> ?) AS similarity", vec)).
		From("resources").
		Where("embedding IS NOT NULL").
		OrderByClause("embedding <=> ?", vec).
		Limit(uint64(limit * annCandidateFactor))

	query, args, err := s.sb.Select("id", "created_at", "similarity").
		FromSelect(nearest, "nearest").
		Where(sq.Gt{"similarity": threshold}).
		OrderBy("similarity DESC", "created_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []ports.Match
	for rows.Next() {
		var m ports.Match
		if err := rows.Scan(&m.ID, &m.CreatedAt, &m.Similarity); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vectorindex.SortMatches(matches)
	return matches, nil
}

func (postgresDialect) classify(err error) (domain.AdmissionErrorKind, string) {
	if err == nil {
		return "", ""
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return domain.AdmissionRaceDuplicate, pqErr.Constraint
		case pqErr.Code.Class() == "23":
			return domain.AdmissionConstraintViolation, pqErr.Constraint
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
			return domain.AdmissionStorageUnavailable, ""
		}
		return "", ""
	}

	if connectivityErr(err) || strings.Contains(err.Error(), "connection refused") {
		return domain.AdmissionStorageUnavailable, ""
	}
	return "", ""
}
