package parser

import (
	"context"
	"fmt"
	"log/slog"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
	"CorpusCurator/internal/scanner"
)

// StrategySource implements ports.Fetcher via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	logger   *slog.Logger
}

var _ ports.Fetcher = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry.
func NewStrategySource(reg *scanner.Registry, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		logger:   log,
	}
}

// Fetch runs the scanner of each seed. A failing seed is logged and
// skipped; only context cancellation aborts the fetch.
func (s *StrategySource) Fetch(ctx context.Context, seeds []domain.SeedSource) ([]domain.CandidateDocument, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	s.debug("fetch seeds", "seeds", len(seeds))

	var aggregated []domain.CandidateDocument
	seen := map[string]struct{}{}
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return aggregated, err
		}

		strategy, err := s.registry.Resolve(seed.SourceType)
		if err != nil {
			s.warn("no scanner for seed", "url", seed.URL, "source_type", seed.SourceType, "error", err)
			continue
		}

		req := scanner.Request{
			URL:      seed.URL,
			SiteName: SiteName(seed.URL),
		}
		if seed.LastCrawled != nil {
			req.Since = *seed.LastCrawled
		}

		results, err := strategy.Scan(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return aggregated, ctx.Err()
			}
			s.warn("scan seed failed", "url", seed.URL, "scanner", strategy.Name(), "error", err)
			continue
		}

		for _, doc := range results {
			if _, ok := seen[doc.URL]; ok {
				continue
			}
			seen[doc.URL] = struct{}{}
			if doc.SourceSite == "" {
				doc.SourceSite = req.SiteName
			}
			aggregated = append(aggregated, doc)
		}
		s.debug("seed produced candidates", "url", seed.URL, "scanner", strategy.Name(), "count", len(results))
	}

	s.debug("strategy source done", "total_candidates", len(aggregated))
	return aggregated, nil
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
