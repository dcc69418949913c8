package classifier

import (
	"context"
	"log/slog"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
)

// Fallback runs a primary classifier and falls back to keyword heuristics
// on any error, so admission never blocks on classification.
type Fallback struct {
	primary ports.Classifier
	logger  *slog.Logger
}

var _ ports.Classifier = (*Fallback)(nil)

// WithFallback wraps primary. A nil primary always uses the heuristics.
func WithFallback(primary ports.Classifier, logger *slog.Logger) *Fallback {
	return &Fallback{primary: primary, logger: logger}
}

// Classify never returns an error.
func (f *Fallback) Classify(ctx context.Context, title, content, url string) (domain.Classification, error) {
	if f.primary == nil {
		return heuristic(title, url), nil
	}

	c, err := f.primary.Classify(ctx, title, content, url)
	if err == nil {
		c, err = Validate(c)
	}
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("classifier failed, using keyword heuristics", "url", url, "error", err)
		}
		return heuristic(title, url), nil
	}
	if len(c.Topics) == 0 {
		c.Topics = append([]string(nil), BaseTopics...)
	}
	return c, nil
}
