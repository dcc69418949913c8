package parser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/scanner"
)

const samplePage = `<html>
<head><title>MACE tutorial</title><script>var tracking = 1;</script></head>
<body>
  <nav>Home | About</nav>
  <h1>Training MACE</h1>
  <p>Force   fields for
  MD simulations.</p>
  <ul>
    <li>Install</li>
    <li>Train</li>
  </ul>
  <footer>Copyright</footer>
</body>
</html>`

func TestPageScannerScan(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("unexpected user agent %q", ua)
		}
		_, _ = w.Write([]byte(samplePage))
	}))
	defer server.Close()

	sc := NewPageScanner(NewClient(server.Client(), "test-agent", 0, 0))
	candidates, err := sc.Scan(context.Background(), scanner.Request{URL: server.URL + "/mace"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}

	got := candidates[0]
	if got.Title != "MACE tutorial" {
		t.Fatalf("unexpected title %q", got.Title)
	}
	if got.Content != "Training MACE Force fields for MD simulations. Install Train" {
		t.Fatalf("unexpected content %q", got.Content)
	}
	if strings.Contains(got.Content, "tracking") || strings.Contains(got.Content, "Copyright") {
		t.Fatalf("boilerplate leaked into content: %q", got.Content)
	}
	if !strings.Contains(got.Markdown, "# Training MACE") || !strings.Contains(got.Markdown, "- Install") {
		t.Fatalf("unexpected markdown %q", got.Markdown)
	}
}

func TestPageScannerEmptyPage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><script>x()</script></body></html>`))
	}))
	defer server.Close()

	candidates, err := NewPageScanner(NewClient(server.Client(), "", 0, 0)).Scan(context.Background(), scanner.Request{URL: server.URL})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %d", len(candidates))
	}
}

type stubScanner struct {
	name    string
	docs    []domain.CandidateDocument
	err     error
	lastReq scanner.Request
}

func (s *stubScanner) Name() string { return s.name }

func (s *stubScanner) Scan(_ context.Context, req scanner.Request) ([]domain.CandidateDocument, error) {
	s.lastReq = req
	return s.docs, s.err
}

func TestStrategySourceFetch(t *testing.T) {
	t.Parallel()

	crawled := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	arxiv := &stubScanner{name: "arxiv", docs: []domain.CandidateDocument{
		{URL: "https://arxiv.org/abs/1", Title: "one"},
		{URL: "https://arxiv.org/abs/1", Title: "duplicate within fetch"},
	}}
	broken := &stubScanner{name: "broken", err: errors.New("http 500")}
	page := &stubScanner{name: "page", docs: []domain.CandidateDocument{{URL: "https://github.com/ACEsuit/mace"}}}

	reg := scanner.NewRegistry()
	reg.Register(arxiv)
	reg.Register(broken)
	reg.Register(page)
	reg.SetFallback("page")

	source := NewStrategySource(reg, nil)
	docs, err := source.Fetch(context.Background(), []domain.SeedSource{
		{URL: "https://arxiv.org/list/cs.LG/recent", SourceType: "arxiv", LastCrawled: &crawled},
		{URL: "https://broken.example.org", SourceType: "broken"},
		{URL: "https://github.com/ACEsuit/mace", SourceType: "github"},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(docs) != 2 {
		t.Fatalf("expected failing seed skipped and duplicates dropped, got %+v", docs)
	}
	if docs[0].SourceSite != "arxiv.org" || docs[1].SourceSite != "github.com" {
		t.Fatalf("expected source sites from seed hosts, got %+v", docs)
	}
	if !arxiv.lastReq.Since.Equal(crawled) {
		t.Fatalf("expected since to carry last crawl, got %v", arxiv.lastReq.Since)
	}
}

func TestStrategySourceCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := scanner.NewRegistry()
	reg.Register(&stubScanner{name: "page"})
	_, err := NewStrategySource(reg, nil).Fetch(ctx, []domain.SeedSource{{URL: "https://x", SourceType: "page"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestSiteName(t *testing.T) {
	t.Parallel()

	if got := SiteName("https://arxiv.org/abs/1"); got != "arxiv.org" {
		t.Fatalf("SiteName = %s", got)
	}
	if got := SiteName("not a url"); got != "not a url" {
		t.Fatalf("SiteName = %s", got)
	}
}
