package scanner

import (
	"context"
	"fmt"
	"time"

	"CorpusCurator/internal/domain"
)

// Request carries all parameters required to scan one seed source.
type Request struct {
	URL      string
	SiteName string
	// Since is the previous crawl time; zero means the seed was never
	// crawled.
	Since   time.Time
	Options map[string]string
}

// Scanner captures a single strategy implementation (arxiv listing,
// generic page, etc.).
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.CandidateDocument, error)
}

// Registry keeps a mapping from source types to their scanners.
type Registry struct {
	scanners map[string]Scanner
	fallback string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// SetFallback names the scanner used for unknown source types.
func (r *Registry) SetFallback(name string) {
	r.fallback = name
}

// Resolve returns a scanner by name, the fallback scanner, or an error if
// neither is registered.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	if scanner, ok := r.scanners[r.fallback]; ok && r.fallback != "" {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}
