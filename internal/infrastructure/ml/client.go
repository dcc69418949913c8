package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"CorpusCurator/internal/ports"
)

const (
	DefaultOpenAIEndpoint = "https://api.openai.com/v1/embeddings"
	DefaultOpenAIModel    = "text-embedding-3-small"
)

// Client requests embeddings from an OpenAI-compatible /embeddings API.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	http       *http.Client
}

var _ ports.Embedder = (*Client)(nil)

// NewClient creates a reusable HTTP client. Empty endpoint and model fall
// back to the OpenAI defaults.
func NewClient(endpoint, apiKey, model string, dimensions int) *Client {
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := embeddingRequest{Model: c.model, Input: []string{text}}
	if strings.HasPrefix(c.model, "text-embedding-3") {
		payload.Dimensions = c.dimensions
	}

	var resp embeddingResponse
	if err := post(ctx, c.http, c.endpoint, c.apiKey, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response has no data")
	}

	vector := resp.Data[0].Embedding
	if c.dimensions > 0 && len(vector) != c.dimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, want %d", len(vector), c.dimensions)
	}
	return vector, nil
}

// Dimensions returns the expected vector size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// ModelName returns the configured model.
func (c *Client) ModelName() string {
	return c.model
}

func post(ctx context.Context, client *http.Client, url, apiKey string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
