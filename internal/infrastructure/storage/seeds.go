package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"CorpusCurator/internal/domain"
)

// UpsertSeedSources inserts seeds or refreshes their configuration.
// last_crawled is preserved on update.
func (s *Store) UpsertSeedSources(ctx context.Context, seeds []domain.SeedSource) error {
	if len(seeds) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", s.readErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, seed := range seeds {
		frequency := seed.CrawlFrequency
		if frequency == "" {
			frequency = domain.CrawlDaily
		}
		query, args, err := s.sb.Insert("seed_sources").
			Columns("url", "source_type", "crawl_frequency", "enabled", "priority", "description").
			Values(seed.URL, seed.SourceType, string(frequency), seed.Enabled, seed.Priority, nullString(seed.Description)).
			Suffix(`ON CONFLICT (url) DO UPDATE SET
				source_type = excluded.source_type,
				crawl_frequency = excluded.crawl_frequency,
				enabled = excluded.enabled,
				priority = excluded.priority,
				description = excluded.description`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build seed upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert seed %s: %w", seed.URL, s.readErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seeds: %w", s.readErr(err))
	}
	return nil
}

// DueSeedSources returns enabled seeds due at now, highest priority first.
func (s *Store) DueSeedSources(ctx context.Context, now time.Time, limit int) ([]domain.SeedSource, error) {
	query, args, err := s.sb.Select("url", "source_type", "crawl_frequency", "enabled", "priority", "description", "last_crawled").
		From("seed_sources").
		Where(sq.Eq{"enabled": true}).
		OrderBy("priority DESC", "url ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build seed select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query seeds: %w", s.readErr(err))
	}
	defer rows.Close()

	var due []domain.SeedSource
	for rows.Next() {
		var (
			seed        domain.SeedSource
			frequency   string
			description sql.NullString
			lastCrawled sql.NullTime
		)
		if err := rows.Scan(&seed.URL, &seed.SourceType, &frequency, &seed.Enabled, &seed.Priority, &description, &lastCrawled); err != nil {
			return nil, fmt.Errorf("scan seed: %w", err)
		}
		seed.CrawlFrequency = domain.CrawlFrequency(frequency)
		seed.Description = description.String
		if lastCrawled.Valid {
			t := lastCrawled.Time
			seed.LastCrawled = &t
		}
		if !seed.Due(now) {
			continue
		}
		due = append(due, seed)
		if limit > 0 && len(due) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", s.readErr(err))
	}
	return due, nil
}

// MarkSeedCrawled stamps the last crawl time of a seed.
func (s *Store) MarkSeedCrawled(ctx context.Context, url string, at time.Time) error {
	query, args, err := s.sb.Update("seed_sources").Set("last_crawled", at.UTC()).Where(sq.Eq{"url": url}).ToSql()
	if err != nil {
		return fmt.Errorf("build seed update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark seed %s: %w", url, s.readErr(err))
	}
	return nil
}
