package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"CorpusCurator/internal/domain"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "CORPUS_CURATOR_CONFIG"

	databaseDSNEnv       = "DATABASE_DSN"
	databaseDriverEnv    = "DATABASE_DRIVER"
	chatGPTAPIKeyEnv     = "CHATGPT_API_KEY"
	chatGPTModelEnv      = "CHATGPT_MODEL"
	embeddingAPIKeyEnv   = "EMBEDDING_API_KEY"
	embeddingEndpointEnv = "EMBEDDING_ENDPOINT"
	telegramTokenEnv     = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv    = "TELEGRAM_CHAT_ID"
	logLevelEnv          = "LOG_LEVEL"
	batchSizeEnv         = "BATCH_SIZE"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Vector index backends.
const (
	IndexStore  = "store"
	IndexMemory = "memory"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Dedup         DedupConfig        `yaml:"dedup"`
	Batch         BatchConfig        `yaml:"batch"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Embedding     EmbeddingConfig    `yaml:"embedding"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	Fetch         FetchConfig        `yaml:"fetch"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
	Sources       []SourceConfig     `yaml:"sources"`
}

// DatabaseConfig selects the durable store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// DedupConfig tunes the duplicate resolver.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	EmbeddingPrefix     int     `yaml:"embeddingPrefix"`
	QueryLimit          int     `yaml:"queryLimit"`
	Tier3Failure        string  `yaml:"tier3Failure"`
	Index               string  `yaml:"index"`
	SeenCache           *bool   `yaml:"seenCache"`
}

// SeenCacheEnabled reports whether the process-local URL cache is used.
func (d DedupConfig) SeenCacheEnabled() bool {
	return d.SeenCache == nil || *d.SeenCache
}

// BatchConfig bounds one pipeline run.
type BatchConfig struct {
	Size             int           `yaml:"size"`
	Workers          int           `yaml:"workers"`
	OperationTimeout time.Duration `yaml:"operationTimeout"`
}

// SchedulerConfig defines how often continuous mode runs a batch.
type SchedulerConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// EmbeddingConfig describes the embedding service.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Endpoint   string        `yaml:"endpoint"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	APIKey     string        `yaml:"apiKey"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ChatGPTConfig defines how to contact the ChatGPT API.
type ChatGPTConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// FetchConfig controls outbound crawling.
type FetchConfig struct {
	UserAgent     string        `yaml:"userAgent"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxBodyBytes  int64         `yaml:"maxBodyBytes"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig describes one seed source.
type SourceConfig struct {
	URL         string `yaml:"url"`
	Type        string `yaml:"type"`
	Frequency   string `yaml:"frequency"`
	Enabled     *bool  `yaml:"enabled"`
	Priority    int    `yaml:"priority"`
	Description string `yaml:"description"`
}

// Seed converts the entry to a domain seed source. Sources are enabled
// unless switched off explicitly.
func (s SourceConfig) Seed() domain.SeedSource {
	frequency := domain.CrawlFrequency(s.Frequency)
	if frequency == "" {
		frequency = domain.CrawlDaily
	}
	return domain.SeedSource{
		URL:            s.URL,
		SourceType:     s.Type,
		CrawlFrequency: frequency,
		Enabled:        s.Enabled == nil || *s.Enabled,
		Priority:       s.Priority,
		Description:    s.Description,
	}
}

// Seeds converts every configured source.
func (c Config) Seeds() []domain.SeedSource {
	seeds := make([]domain.SeedSource, 0, len(c.Sources))
	for _, s := range c.Sources {
		seeds = append(seeds, s.Seed())
	}
	return seeds
}

// Load reads YAML configuration from CORPUS_CURATOR_CONFIG (if set) and
// applies environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile reads YAML configuration from path, merges it over the
// defaults and applies environment overrides. An empty path uses the
// defaults alone.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultConfig().Sources
	}

	return cfg, nil
}

// Validate rejects settings the application cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}

	if t := c.Dedup.SimilarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("dedup.similarityThreshold: %v is outside (0, 1]", t))
	}
	if c.Dedup.EmbeddingPrefix <= 0 {
		errs = append(errs, errors.New("dedup.embeddingPrefix: must be positive"))
	}
	switch c.Dedup.Tier3Failure {
	case "optimistic", "conservative":
	default:
		errs = append(errs, fmt.Errorf("dedup.tier3Failure: unknown policy %q", c.Dedup.Tier3Failure))
	}
	switch c.Dedup.Index {
	case IndexStore, IndexMemory:
	default:
		errs = append(errs, fmt.Errorf("dedup.index: unknown index %q", c.Dedup.Index))
	}

	if c.Batch.Size <= 0 {
		errs = append(errs, errors.New("batch.size: must be positive"))
	}
	if c.Batch.Workers <= 0 {
		errs = append(errs, errors.New("batch.workers: must be positive"))
	}

	switch c.Embedding.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions: must be positive"))
	}

	for i, s := range c.Sources {
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("sources[%d].url: required", i))
		}
		switch domain.CrawlFrequency(s.Frequency) {
		case "", domain.CrawlDaily, domain.CrawlWeekly, domain.CrawlMonthly:
		default:
			errs = append(errs, fmt.Errorf("sources[%d].frequency: unknown frequency %q", i, s.Frequency))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}
	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}

	if v := os.Getenv(embeddingAPIKeyEnv); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv(embeddingEndpointEnv); v != "" {
		c.Embedding.Endpoint = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(batchSizeEnv); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", batchSizeEnv, err)
		}
		c.Batch.Size = size
	}
	return nil
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("config: unknown timezone %s: %w", tz, err)
	}
	c.Scheduler.location = loc
	return nil
}

func mergeConfig(base, override Config) Config {
	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Dedup.SimilarityThreshold != 0 {
		base.Dedup.SimilarityThreshold = override.Dedup.SimilarityThreshold
	}
	if override.Dedup.EmbeddingPrefix != 0 {
		base.Dedup.EmbeddingPrefix = override.Dedup.EmbeddingPrefix
	}
	if override.Dedup.QueryLimit != 0 {
		base.Dedup.QueryLimit = override.Dedup.QueryLimit
	}
	if override.Dedup.Tier3Failure != "" {
		base.Dedup.Tier3Failure = override.Dedup.Tier3Failure
	}
	if override.Dedup.Index != "" {
		base.Dedup.Index = override.Dedup.Index
	}
	if override.Dedup.SeenCache != nil {
		base.Dedup.SeenCache = override.Dedup.SeenCache
	}

	if override.Batch.Size != 0 {
		base.Batch.Size = override.Batch.Size
	}
	if override.Batch.Workers != 0 {
		base.Batch.Workers = override.Batch.Workers
	}
	if override.Batch.OperationTimeout != 0 {
		base.Batch.OperationTimeout = override.Batch.OperationTimeout
	}

	if override.Scheduler.Interval != 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Embedding.Provider != "" && override.Embedding.Provider != base.Embedding.Provider {
		// Provider defaults do not carry over to another provider.
		base.Embedding = EmbeddingConfig{Provider: override.Embedding.Provider, Dimensions: base.Embedding.Dimensions, Timeout: base.Embedding.Timeout}
	}
	if override.Embedding.Endpoint != "" {
		base.Embedding.Endpoint = override.Embedding.Endpoint
	}
	if override.Embedding.Model != "" {
		base.Embedding.Model = override.Embedding.Model
	}
	if override.Embedding.Dimensions != 0 {
		base.Embedding.Dimensions = override.Embedding.Dimensions
	}
	if override.Embedding.APIKey != "" {
		base.Embedding.APIKey = override.Embedding.APIKey
	}
	if override.Embedding.Timeout != 0 {
		base.Embedding.Timeout = override.Embedding.Timeout
	}

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}

	if override.Fetch.UserAgent != "" {
		base.Fetch.UserAgent = override.Fetch.UserAgent
	}
	if override.Fetch.RatePerSecond != 0 {
		base.Fetch.RatePerSecond = override.Fetch.RatePerSecond
	}
	if override.Fetch.Timeout != 0 {
		base.Fetch.Timeout = override.Fetch.Timeout
	}
	if override.Fetch.MaxBodyBytes != 0 {
		base.Fetch.MaxBodyBytes = override.Fetch.MaxBodyBytes
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database: DatabaseConfig{Driver: DriverSQLite, DSN: "corpus.db"},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.95,
			EmbeddingPrefix:     1000,
			QueryLimit:          10,
			Tier3Failure:        "optimistic",
			Index:               IndexStore,
		},
		Batch:     BatchConfig{Size: 10, Workers: 4, OperationTimeout: 30 * time.Second},
		Scheduler: SchedulerConfig{Interval: 24 * time.Hour, Timezone: defaultTimezone, location: tz},
		Embedding: EmbeddingConfig{
			Provider:   ProviderOllama,
			Endpoint:   "http://localhost:11434",
			Model:      "all-minilm:l6-v2",
			Dimensions: 384,
			Timeout:    30 * time.Second,
		},
		ChatGPT: ChatGPTConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			SystemPrompt: "You classify machine learning study material. Reply with JSON only: " +
				`{"resource_type": "...", "difficulty_level": "...", "topics": ["..."]}.`,
		},
		Fetch: FetchConfig{
			UserAgent:     "CorpusCurator/1.0",
			RatePerSecond: 1,
			Timeout:       20 * time.Second,
			MaxBodyBytes:  5 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Sources: []SourceConfig{
			{
				URL:         "https://arxiv.org/list/cs.LG/recent",
				Type:        "arxiv",
				Frequency:   string(domain.CrawlDaily),
				Priority:    8,
				Description: "arXiv machine learning, recent submissions",
			},
			{
				URL:         "https://github.com/ACEsuit/mace",
				Type:        "github",
				Frequency:   string(domain.CrawlWeekly),
				Priority:    10,
				Description: "MACE interatomic potentials",
			},
		},
	}
}
