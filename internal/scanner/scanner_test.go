package scanner

import (
	"context"
	"testing"

	"CorpusCurator/internal/domain"
)

type namedScanner string

func (n namedScanner) Name() string { return string(n) }

func (n namedScanner) Scan(context.Context, Request) ([]domain.CandidateDocument, error) {
	return nil, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(namedScanner("arxiv"))
	reg.Register(namedScanner("page"))

	got, err := reg.Resolve("arxiv")
	if err != nil || got.Name() != "arxiv" {
		t.Fatalf("Resolve(arxiv) = %v, %v", got, err)
	}

	if _, err := reg.Resolve("github"); err == nil {
		t.Fatal("expected unknown scanner error without fallback")
	}

	reg.SetFallback("page")
	got, err = reg.Resolve("github")
	if err != nil || got.Name() != "page" {
		t.Fatalf("expected fallback scanner, got %v, %v", got, err)
	}
}
