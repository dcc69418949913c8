package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientEmbed(t *testing.T) {
	t.Parallel()

	var got embeddingRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", "text-embedding-3-small", 3)
	vector, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 3 || vector[2] != 0.3 {
		t.Fatalf("unexpected vector %v", vector)
	}
	if got.Model != "text-embedding-3-small" || len(got.Input) != 1 || got.Input[0] != "hello" || got.Dimensions != 3 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestClientEmbedErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"status", http.StatusTooManyRequests, `rate limited`, "429"},
		{"empty data", http.StatusOK, `{"data":[]}`, "no data"},
		{"wrong dimensions", http.StatusOK, `{"data":[{"embedding":[1,2]}]}`, "dimensions"},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(tt.body))
		}))

		_, err := NewClient(server.URL, "", "custom", 3).Embed(context.Background(), "x")
		server.Close()
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: expected error containing %q, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	client := NewClient("", "", "", 384)
	if client.endpoint != DefaultOpenAIEndpoint || client.ModelName() != DefaultOpenAIModel || client.Dimensions() != 384 {
		t.Fatalf("unexpected defaults: %+v", client)
	}
}
