// Package vectorindex ranks embeddings by cosine similarity.
//
// The same Rank function backs the in-memory index and the SQLite store so
// both produce identical orderings for identical inputs.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"CorpusCurator/internal/ports"
)

// ErrDimensionMismatch is returned when a vector does not match the index.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Entry is one indexed embedding.
type Entry struct {
	ID        string
	CreatedAt time.Time
	Vector    []float32
}

// Cosine computes cosine similarity in float64. It returns 0 for empty,
// mismatched or zero-norm vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	denominator := math.Sqrt(normA) * math.Sqrt(normB)
	if denominator == 0 {
		return 0
	}
	return dot / denominator
}

// Rank scores entries against query and keeps those strictly above
// threshold. Equal similarities are ordered by earliest CreatedAt, then ID.
// A limit <= 0 means no limit.
func Rank(query []float32, entries []Entry, threshold float64, limit int) []ports.Match {
	matches := make([]ports.Match, 0)
	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		sim := Cosine(query, e.Vector)
		if sim > threshold {
			matches = append(matches, ports.Match{ID: e.ID, Similarity: sim, CreatedAt: e.CreatedAt})
		}
	}

	SortMatches(matches)

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// SortMatches applies the canonical ordering to matches in place.
func SortMatches(matches []ports.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
}

// Memory is a brute-force in-process index. It is only coherent within one
// process; the store-backed index is the cross-process view.
type Memory struct {
	mu         sync.RWMutex
	dimensions int
	entries    map[string]Entry
}

var _ ports.VectorIndex = (*Memory)(nil)

// NewMemory creates an empty index for vectors of the given dimension.
func NewMemory(dimensions int) *Memory {
	return &Memory{dimensions: dimensions, entries: map[string]Entry{}}
}

// Upsert adds an embedding. Existing embeddings are never replaced.
func (m *Memory) Upsert(_ context.Context, id string, createdAt time.Time, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	if len(embedding) != m.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), m.dimensions)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[id]; exists {
		return nil
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	m.entries[id] = Entry{ID: id, CreatedAt: createdAt, Vector: vec}
	return nil
}

// QuerySimilar ranks every stored embedding against the query.
func (m *Memory) QuerySimilar(ctx context.Context, embedding []float32, threshold float64, limit int) ([]ports.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(embedding) != m.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), m.dimensions)
	}

	m.mu.RLock()
	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	return Rank(embedding, entries, threshold, limit), nil
}

// Len returns the number of indexed embeddings.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
