package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
	"CorpusCurator/internal/vectorindex"
)

// OpenSQLite opens (or creates) a SQLite store at path and migrates it.
func OpenSQLite(ctx context.Context, path string, dimensions int, logger *slog.Logger) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	store := newStore(db, sqliteDialect{}, dimensions, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) placeholder() sq.PlaceholderFormat { return sq.Question }

func (sqliteDialect) schema(int) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS resources (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			content_fingerprint TEXT NOT NULL,
			content TEXT NOT NULL,
			markdown TEXT,
			resource_type TEXT NOT NULL,
			difficulty_level TEXT NOT NULL,
			topics_json TEXT NOT NULL,
			source_site TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			embedding BLOB,
			CONSTRAINT resources_url_key UNIQUE (url),
			CONSTRAINT resources_fingerprint_key UNIQUE (content_fingerprint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_created_at ON resources(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_source_site ON resources(source_site)`,
		`CREATE TABLE IF NOT EXISTS scrape_history (
			url TEXT PRIMARY KEY,
			last_attempt_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('success', 'failed', 'skipped')),
			error_detail TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scrape_history_status ON scrape_history(status, last_attempt_at)`,
		`CREATE TABLE IF NOT EXISTS seed_sources (
			url TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			crawl_frequency TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			priority INTEGER NOT NULL DEFAULT 1,
			description TEXT,
			last_crawled TIMESTAMP
		)`,
	}
}

// embeddingValue encodes vectors as little-endian float32 blobs.
func (sqliteDialect) embeddingValue(v []float32) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf, nil
}

func (sqliteDialect) decodeEmbedding(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(raw))
	}
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v, nil
}

// querySimilar scans every stored embedding and ranks them in process.
func (d sqliteDialect) querySimilar(ctx context.Context, s *Store, embedding []float32, threshold float64, limit int) ([]ports.Match, error) {
	query, args, err := s.sb.Select("id", "created_at", "embedding").
		From("resources").Where("embedding IS NOT NULL").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []vectorindex.Entry
	for rows.Next() {
		var (
			id        string
			createdAt time.Time
			raw       []byte
		)
		if err := rows.Scan(&id, &createdAt, &raw); err != nil {
			return nil, err
		}
		vec, err := d.decodeEmbedding(raw)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", id, err)
		}
		entries = append(entries, vectorindex.Entry{ID: id, CreatedAt: createdAt, Vector: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return vectorindex.Rank(embedding, entries, threshold, limit), nil
}

func (sqliteDialect) classify(err error) (domain.AdmissionErrorKind, string) {
	if err == nil {
		return "", ""
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return domain.AdmissionRaceDuplicate, failedConstraint(sqliteErr.Error())
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			return domain.AdmissionConstraintViolation, failedConstraint(sqliteErr.Error())
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED,
			code&0xff == sqlite3.SQLITE_CANTOPEN, code&0xff == sqlite3.SQLITE_IOERR,
			code&0xff == sqlite3.SQLITE_FULL, code&0xff == sqlite3.SQLITE_READONLY:
			return domain.AdmissionStorageUnavailable, ""
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return domain.AdmissionRaceDuplicate, failedConstraint(msg)
	}
	if connectivityErr(err) {
		return domain.AdmissionStorageUnavailable, ""
	}
	return "", ""
}

// failedConstraint extracts "resources.url" from
// "constraint failed: UNIQUE constraint failed: resources.url (2067)".
func failedConstraint(msg string) string {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	after := msg[i+len(marker):]
	if i := strings.IndexAny(after, " ("); i >= 0 {
		after = after[:i]
	}
	return strings.TrimSpace(after)
}
