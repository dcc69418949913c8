package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/scanner"
)

// MaxExtractRunes caps extracted page text.
const MaxExtractRunes = 50_000

// PageScanner turns a single web page into one candidate.
type PageScanner struct {
	client *Client
}

// NewPageScanner wires a document client.
func NewPageScanner(client *Client) *PageScanner {
	if client == nil {
		client = NewClient(nil, "", 0, 0)
	}
	return &PageScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (p *PageScanner) Name() string {
	return "page"
}

// Scan fetches req.URL. A page without text yields no candidates.
func (p *PageScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.CandidateDocument, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no url provided for site %s", req.SiteName)
	}

	doc, err := p.client.Document(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	candidate, ok := extractPage(doc, req.URL)
	if !ok {
		return nil, nil
	}
	if req.SiteName != "" {
		candidate.SourceSite = req.SiteName
	}
	return []domain.CandidateDocument{candidate}, nil
}

func extractPage(doc *goquery.Document, pageURL string) (domain.CandidateDocument, bool) {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, nav, header, footer, noscript, iframe").Remove()

	markdown := renderMarkdown(doc)
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if runes := []rune(text); len(runes) > MaxExtractRunes {
		text = string(runes[:MaxExtractRunes])
	}
	if text == "" {
		return domain.CandidateDocument{}, false
	}
	if title == "" {
		title = pageURL
	}

	return domain.CandidateDocument{
		URL:        pageURL,
		Title:      title,
		Content:    text,
		Markdown:   markdown,
		SourceSite: SiteName(pageURL),
	}, true
}

// renderMarkdown keeps headings, paragraphs and list items.
func renderMarkdown(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find("body h1, body h2, body h3, body p, body li, body pre").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			b.WriteString("# ")
		case "h2":
			b.WriteString("## ")
		case "h3":
			b.WriteString("### ")
		case "li":
			b.WriteString("- ")
		case "pre":
			b.WriteString("```\n" + text + "\n```\n\n")
			return
		default:
			text = strings.Join(strings.Fields(text), " ")
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	})
	return strings.TrimSpace(b.String())
}
