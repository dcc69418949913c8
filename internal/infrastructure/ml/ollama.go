package ml

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"CorpusCurator/internal/ports"
)

const (
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultOllamaModel matches the sentence-transformers MiniLM model.
	DefaultOllamaModel = "all-minilm:l6-v2"

	// DefaultDimensions is the output size of all-minilm.
	DefaultDimensions = 384

	apiPathEmbeddings = "/api/embeddings"
)

// OllamaProvider generates embeddings using a local Ollama server.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

var _ ports.Embedder = (*OllamaProvider)(nil)

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithBaseURL sets the Ollama API base URL.
func WithBaseURL(url string) OllamaOption {
	return func(p *OllamaProvider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithModel sets the embedding model.
func WithModel(model string) OllamaOption {
	return func(p *OllamaProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithDimensions sets the expected vector dimensions.
func WithDimensions(dims int) OllamaOption {
	return func(p *OllamaProvider) {
		if dims > 0 {
			p.dimensions = dims
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) OllamaOption {
	return func(p *OllamaProvider) {
		if timeout > 0 {
			p.client.Timeout = timeout
		}
	}
}

// NewOllamaProvider creates a new Ollama embedding provider.
func NewOllamaProvider(opts ...OllamaOption) *OllamaProvider {
	p := &OllamaProvider{
		baseURL:    DefaultOllamaURL,
		model:      DefaultOllamaModel,
		dimensions: DefaultDimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding for the given text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var result ollamaEmbedResponse
	if err := post(ctx, p.client, p.baseURL+apiPathEmbeddings, "", ollamaEmbedRequest{Model: p.model, Prompt: text}, &result); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if len(result.Embedding) != p.dimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, want %d", len(result.Embedding), p.dimensions)
	}
	return result.Embedding, nil
}

// ModelName returns the name of the embedding model.
func (p *OllamaProvider) ModelName() string {
	return p.model
}

// Dimensions returns the expected vector dimensions.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}
