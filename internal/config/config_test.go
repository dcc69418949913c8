package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"CorpusCurator/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(databaseDSNEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Dedup.SimilarityThreshold != 0.95 || cfg.Dedup.EmbeddingPrefix != 1000 {
		t.Fatalf("unexpected dedup defaults %+v", cfg.Dedup)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Embedding.Dimensions != 384 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected default seed sources, got %d", len(cfg.Sources))
	}
	if cfg.Scheduler.Location().String() != "UTC" {
		t.Fatalf("unexpected location %s", cfg.Scheduler.Location())
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: postgres://corpus@localhost/corpus
dedup:
  similarityThreshold: 0.9
  tier3Failure: conservative
  seenCache: false
batch:
  workers: 8
  operationTimeout: 5s
scheduler:
  interval: 6h
  timezone: Europe/Berlin
embedding:
  provider: openai
  model: text-embedding-3-small
sources:
  - url: https://example.org/notes
    type: page
    frequency: weekly
    enabled: false
`)
	t.Setenv(databaseDSNEnv, "")
	t.Setenv(databaseDriverEnv, "")
	t.Setenv(batchSizeEnv, "")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.DSN != "postgres://corpus@localhost/corpus" {
		t.Fatalf("unexpected database %+v", cfg.Database)
	}
	if cfg.Dedup.SimilarityThreshold != 0.9 || cfg.Dedup.Tier3Failure != "conservative" || cfg.Dedup.SeenCacheEnabled() {
		t.Fatalf("unexpected dedup %+v", cfg.Dedup)
	}
	if cfg.Dedup.EmbeddingPrefix != 1000 {
		t.Fatalf("unset fields must keep defaults, got %d", cfg.Dedup.EmbeddingPrefix)
	}
	if cfg.Batch.Workers != 8 || cfg.Batch.Size != 10 || cfg.Batch.OperationTimeout != 5*time.Second {
		t.Fatalf("unexpected batch %+v", cfg.Batch)
	}
	if cfg.Scheduler.Interval != 6*time.Hour || cfg.Scheduler.Location().String() != "Europe/Berlin" {
		t.Fatalf("unexpected scheduler %+v", cfg.Scheduler)
	}
	if cfg.Embedding.Endpoint != "" || cfg.Embedding.Dimensions != 384 {
		t.Fatalf("switching provider must drop provider defaults, got %+v", cfg.Embedding)
	}

	seeds := cfg.Seeds()
	if len(seeds) != 1 || seeds[0].Enabled || seeds[0].CrawlFrequency != domain.CrawlWeekly {
		t.Fatalf("unexpected seeds %+v", seeds)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(databaseDSNEnv, "env.db")
	t.Setenv(databaseDriverEnv, "")
	t.Setenv(chatGPTAPIKeyEnv, "sk-chat")
	t.Setenv(embeddingAPIKeyEnv, "sk-embed")
	t.Setenv(telegramTokenEnv, "bot")
	t.Setenv(telegramChatIDEnv, "42")
	t.Setenv(logLevelEnv, "debug")
	t.Setenv(batchSizeEnv, "25")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.DSN != "env.db" || cfg.ChatGPT.APIKey != "sk-chat" || cfg.Embedding.APIKey != "sk-embed" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if !cfg.Notifications.Telegram.Enabled() || cfg.Logging.Level != "debug" || cfg.Batch.Size != 25 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}

	t.Setenv(batchSizeEnv, "many")
	if _, err := LoadFile(""); err == nil {
		t.Fatal("expected error for non-numeric batch size")
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "dedup: [unbalanced")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadFile(writeConfig(t, "scheduler:\n  timezone: Mars/Olympus\n")); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold above one", func(c *Config) { c.Dedup.SimilarityThreshold = 1.5 }, "similarityThreshold"},
		{"threshold zero", func(c *Config) { c.Dedup.SimilarityThreshold = 0 }, "similarityThreshold"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"unknown policy", func(c *Config) { c.Dedup.Tier3Failure = "maybe" }, "tier3Failure"},
		{"unknown index", func(c *Config) { c.Dedup.Index = "faiss" }, "dedup.index"},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }, "dimensions"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "embedding.provider"},
		{"bad frequency", func(c *Config) { c.Sources[0].Frequency = "hourly" }, "frequency"},
		{"missing url", func(c *Config) { c.Sources[0].URL = "" }, "url"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
