package parser

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/scanner"
)

const (
	arxivBaseURL    = "https://arxiv.org"
	defaultMaxPages = 5
)

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ArxivScanner walks arXiv listing pages and yields one candidate per
// entry, with the abstract as content.
type ArxivScanner struct {
	client   *Client
	pageSize int
	maxPages int
}

// NewArxivScanner wires a document client; pageSize defaults to 200.
func NewArxivScanner(client *Client) *ArxivScanner {
	if client == nil {
		client = NewClient(nil, "", 0, 0)
	}
	return &ArxivScanner{client: client, pageSize: 200, maxPages: defaultMaxPages}
}

// Name identifies the strategy inside the registry.
func (a *ArxivScanner) Name() string {
	return "arxiv"
}

// Scan pages through the listing until it reaches entries older than the
// previous crawl. A never-crawled seed reads only the first page.
func (a *ArxivScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.CandidateDocument, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no listing url provided for site %s", req.SiteName)
	}

	sinceDay := req.Since.UTC().Truncate(24 * time.Hour)
	results := make([]domain.CandidateDocument, 0)
	seen := map[string]struct{}{}

	skip := 0
	for page := 0; page < a.maxPages; page++ {
		pageURL, err := buildPageURL(req.URL, skip, a.pageSize)
		if err != nil {
			return nil, err
		}

		doc, err := a.client.Document(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		candidates, shouldContinue := a.extractCandidates(doc, sinceDay)
		for _, candidate := range candidates {
			if _, ok := seen[candidate.URL]; ok {
				continue
			}
			seen[candidate.URL] = struct{}{}
			results = append(results, candidate)
		}

		if !shouldContinue || req.Since.IsZero() {
			break
		}
		skip += a.pageSize
	}

	return results, nil
}

func (a *ArxivScanner) extractCandidates(doc *goquery.Document, sinceDay time.Time) ([]domain.CandidateDocument, bool) {
	var (
		collected    []domain.CandidateDocument
		continueScan = true
		processed    int
	)

	doc.Find("dl > dt").EachWithBreak(func(i int, dt *goquery.Selection) bool {
		dd := dt.Next()
		processed++

		candidate, publishedAt, err := parseEntry(dt, dd)
		if err != nil {
			return true
		}

		if publishedAt.UTC().Truncate(24 * time.Hour).Before(sinceDay) {
			continueScan = false
			return false
		}
		collected = append(collected, candidate)
		return true
	})

	if processed < a.pageSize {
		continueScan = false
	}

	return collected, continueScan
}

func parseEntry(dt, dd *goquery.Selection) (domain.CandidateDocument, time.Time, error) {
	link := dt.Find("a[href*=\"/abs/\"]").First()
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return domain.CandidateDocument{}, time.Time{}, fmt.Errorf("entry has no abstract link")
	}
	if !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(arxivBaseURL, "/") + href
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimPrefix(title, "Title:")
	title = strings.TrimSpace(title)

	abstract := dd.Find("p.mathjax").First().Text()
	abstract = strings.TrimPrefix(strings.TrimSpace(abstract), "Abstract:")
	abstract = strings.TrimSpace(abstract)

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}

	publishedAt := time.Now().UTC()
	if match := dateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			publishedAt = parsed
		}
	}

	content := abstract
	if content == "" {
		content = title
	}

	return domain.CandidateDocument{
		URL:        href,
		Title:      title,
		Content:    content,
		Markdown:   fmt.Sprintf("# %s\n\n%s\n", title, abstract),
		SourceSite: SiteName(href),
	}, publishedAt, nil
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
