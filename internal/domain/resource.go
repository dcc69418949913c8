package domain

import "time"

// CandidateDocument is a raw document proposed for admission. It is not
// persisted until the batch coordinator admits it.
type CandidateDocument struct {
	URL        string
	Title      string
	Content    string
	Markdown   string
	SourceSite string
}

// Classification holds the labels assigned by a classifier.
type Classification struct {
	ResourceType    string   `json:"resource_type"`
	DifficultyLevel string   `json:"difficulty_level"`
	Topics          []string `json:"topics"`
}

// ResourceDraft carries everything needed to insert a resource row.
type ResourceDraft struct {
	URL               string
	Title             string
	Fingerprint       string
	NormalizedContent string
	Markdown          string
	SourceSite        string
	Classification    Classification
	Embedding         []float32
}

// PendingEmbedding is an admitted resource stored without an embedding,
// which happens when tier 3 was skipped optimistically.
type PendingEmbedding struct {
	ID                string
	NormalizedContent string
	CreatedAt         time.Time
}

// StoredResource is a durably admitted resource.
type StoredResource struct {
	ID                string
	URL               string
	Title             string
	Fingerprint       string
	NormalizedContent string
	Markdown          string
	SourceSite        string
	Classification    Classification
	Embedding         []float32
	CreatedAt         time.Time
}

// AttemptStatus is the outcome recorded in the scrape-attempt ledger.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
	AttemptSkipped AttemptStatus = "skipped"
)

// ScrapeAttempt is one row of the scrape_history ledger.
type ScrapeAttempt struct {
	URL           string
	LastAttemptAt time.Time
	Status        AttemptStatus
	ErrorDetail   string
}

// CrawlFrequency controls how often a seed source is revisited.
type CrawlFrequency string

const (
	CrawlDaily   CrawlFrequency = "daily"
	CrawlWeekly  CrawlFrequency = "weekly"
	CrawlMonthly CrawlFrequency = "monthly"
)

// Interval converts the frequency to a revisit interval. Unknown values
// are treated as daily.
func (f CrawlFrequency) Interval() time.Duration {
	switch f {
	case CrawlWeekly:
		return 7 * 24 * time.Hour
	case CrawlMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// SeedSource describes where the fetcher should look for candidates.
type SeedSource struct {
	URL            string
	SourceType     string
	CrawlFrequency CrawlFrequency
	Enabled        bool
	Priority       int
	Description    string
	LastCrawled    *time.Time
}

// Due reports whether the seed should be crawled at now.
func (s SeedSource) Due(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastCrawled == nil {
		return true
	}
	return !now.Before(s.LastCrawled.Add(s.CrawlFrequency.Interval()))
}

// CorpusStats summarises the durable tables.
type CorpusStats struct {
	TotalResources     int
	TotalAttempts      int
	SuccessfulAttempts int
}

// SuccessRate returns successful attempts as a percentage of all attempts.
func (s CorpusStats) SuccessRate() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.SuccessfulAttempts) / float64(s.TotalAttempts) * 100
}
