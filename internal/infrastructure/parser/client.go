package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent    = "CorpusCurator/1.0"
	defaultMaxBodyBytes = 5 * 1024 * 1024
)

// Client fetches and parses HTML documents, rate-limited across all
// scanners that share it.
type Client struct {
	http         *http.Client
	userAgent    string
	maxBodyBytes int64
	limiter      *rate.Limiter
}

// NewClient wraps an HTTP client. ratePerSecond <= 0 disables limiting.
func NewClient(httpClient *http.Client, userAgent string, ratePerSecond float64, maxBodyBytes int64) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}

	return &Client{
		http:         httpClient,
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
		limiter:      limiter,
	}
}

// Document downloads pageURL and parses it.
func (c *Client) Document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// SiteName returns the host of rawURL, used as the source-site label.
func SiteName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
