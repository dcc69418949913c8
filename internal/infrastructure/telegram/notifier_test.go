package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"CorpusCurator/internal/ports"
	"CorpusCurator/internal/status"
)

func TestNotifierReportsTerminalPhases(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("chat_id") != "42" || !strings.Contains(r.Form.Get("text"), "3 admitted") {
			t.Errorf("unexpected form %v", r.Form)
		}
	}))
	defer server.Close()

	n := NewNotifier("token", "42")
	n.apiBase = server.URL

	ctx := context.Background()
	if err := n.Report(ctx, ports.Progress{Phase: status.PhaseFetching}); err != nil {
		t.Fatalf("Report fetching: %v", err)
	}
	if err := n.Report(ctx, ports.Progress{Batch: 1, Phase: status.PhaseCompleted, Admitted: 3}); err != nil {
		t.Fatalf("Report completed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one message, got %d", calls.Load())
	}
}

func TestNotifierErrors(t *testing.T) {
	t.Parallel()

	if err := NewNotifier("", "").Publish(context.Background(), "x"); err == nil {
		t.Fatal("expected misconfiguration error")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	n := NewNotifier("bad", "1")
	n.apiBase = server.URL
	if err := n.Publish(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}
}
