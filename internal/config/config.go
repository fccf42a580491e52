package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // pipeline.timezone must resolve on hosts without zoneinfo

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/thinkscotty/newsroom/internal/models"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Store      StoreConfig      `yaml:"store"`
	Collector  CollectorConfig  `yaml:"collector"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	AI         AIConfig         `yaml:"ai"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Stats      StatsConfig      `yaml:"stats"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Admin      AdminConfig      `yaml:"admin"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Feeds      []FeedConfig     `yaml:"feeds"`
}

type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type StoreConfig struct {
	Type            string       `yaml:"type"` // github, sqlite or memory
	GitHub          GitHubConfig `yaml:"github"`
	SQLite          SQLiteConfig `yaml:"sqlite"`
	CacheSize       int          `yaml:"cache_size"`
	CacheTTLSeconds int          `yaml:"cache_ttl_seconds"`
	FeedsKey        string       `yaml:"feeds_key"`
	ArchiveKey      string       `yaml:"archive_key"`
	StatsKey        string       `yaml:"stats_key"`
}

type GitHubConfig struct {
	BaseURL        string `yaml:"base_url"`
	Owner          string `yaml:"owner"`
	Repo           string `yaml:"repo"`
	Branch         string `yaml:"branch"`
	Token          string `yaml:"token"`
	Dir            string `yaml:"dir"`
	CommitPrefix   string `yaml:"commit_prefix"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type CollectorConfig struct {
	WindowHours        int    `yaml:"window_hours"`
	Concurrency        int    `yaml:"concurrency"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxAttempts        int    `yaml:"max_attempts"`
	HostIntervalMillis int    `yaml:"host_interval_ms"`
	UserAgent          string `yaml:"user_agent"`
	MaxExcerpt         int    `yaml:"max_excerpt"`
}

type SummarizerConfig struct {
	ChunkSize          int    `yaml:"chunk_size"`
	CallTimeoutSeconds int    `yaml:"call_timeout_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	Concurrency        int    `yaml:"concurrency"`
	NarrativeItems     int    `yaml:"narrative_items"`
	Language           string `yaml:"language"`
}

type AIConfig struct {
	Provider       string `yaml:"provider"` // gemini or ollama
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	GeminiModel    string `yaml:"gemini_model"`
	GeminiURL      string `yaml:"gemini_url"`
	OllamaURL      string `yaml:"ollama_url"`
	OllamaModel    string `yaml:"ollama_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type PipelineConfig struct {
	PublishAttempts int    `yaml:"publish_attempts"`
	Timezone        string `yaml:"timezone"`
}

type ArchiveConfig struct {
	RetentionDays int `yaml:"retention_days"` // 0 keeps every day
}

type StatsConfig struct {
	SessionRetentionDays int `yaml:"session_retention_days"`
	SeenCacheSize        int `yaml:"seen_cache_size"`
}

type SchedulerConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Schedule          string `yaml:"schedule"`
	RunOnStart        bool   `yaml:"run_on_start"`
	RunTimeoutMinutes int    `yaml:"run_timeout_minutes"` // 0 disables the per-run deadline
}

type AdminConfig struct {
	Password        string `yaml:"password"` // plaintext or bcrypt hash
	SessionTTLHours int    `yaml:"session_ttl_hours"`
	MaxSessions     int    `yaml:"max_sessions"`
}

type DedupConfig struct {
	TitleThreshold float64 `yaml:"title_threshold"` // 0 disables the title filter
}

type FeedConfig struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled *bool  `yaml:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Type: "sqlite",
			GitHub: GitHubConfig{
				Branch:         "main",
				CommitPrefix:   "newsroom:",
				TimeoutSeconds: 15,
				MaxAttempts:    4,
			},
			SQLite:          SQLiteConfig{Path: "./newsroom.db"},
			CacheSize:       16,
			CacheTTLSeconds: 60,
			FeedsKey:        models.FeedsDocument,
			ArchiveKey:      models.ArchiveDocument,
			StatsKey:        models.StatsDocument,
		},
		Collector: CollectorConfig{
			WindowHours:        24,
			Concurrency:        6,
			TimeoutSeconds:     20,
			MaxAttempts:        3,
			HostIntervalMillis: 500,
			UserAgent:          "newsroom/1.0 (+https://github.com/thinkscotty/newsroom)",
			MaxExcerpt:         500,
		},
		Summarizer: SummarizerConfig{
			ChunkSize:          15,
			CallTimeoutSeconds: 30,
			MaxRetries:         3,
			Concurrency:        1,
			NarrativeItems:     20,
			Language:           "Korean",
		},
		AI: AIConfig{
			Provider:       "gemini",
			GeminiModel:    "gemini-2.0-flash",
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "llama3.1",
			TimeoutSeconds: 60,
		},
		Pipeline: PipelineConfig{
			PublishAttempts: 5,
			Timezone:        "Asia/Seoul",
		},
		Archive: ArchiveConfig{RetentionDays: 30},
		Stats: StatsConfig{
			SessionRetentionDays: 2,
			SeenCacheSize:        10000,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			Schedule:          "0 7 * * *",
			RunTimeoutMinutes: 30,
		},
		Admin: AdminConfig{
			SessionTTLHours: 24,
			MaxSessions:     100,
		},
	}
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value. Unset variables
// expand to nothing so Validate can report the missing secret.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(name)
	})
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"NEWSROOM_GITHUB_TOKEN":   &c.Store.GitHub.Token,
		"NEWSROOM_GEMINI_API_KEY": &c.AI.GeminiAPIKey,
		"NEWSROOM_ADMIN_PASSWORD": &c.Admin.Password,
		"NEWSROOM_STORE_TYPE":     &c.Store.Type,
		"NEWSROOM_LOG_LEVEL":      &c.Logging.Level,
	}
	for name, field := range overrides {
		if val, ok := os.LookupEnv(name); ok && val != "" {
			*field = val
		}
	}
}

// Load reads a YAML config file and merges it over defaults.
// If the file does not exist, defaults are used. Environment overrides are
// applied last and the result is validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("No config file found, using defaults", "path", path)
	case err != nil:
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unsupported logging.level %q (supported: debug, info, warn, error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unsupported logging.format %q (supported: text, json)", c.Logging.Format)
	}

	switch c.Store.Type {
	case "github":
		gh := c.Store.GitHub
		if gh.Owner == "" || gh.Repo == "" {
			return fmt.Errorf("config: store.github.owner and store.github.repo are required for the github store")
		}
		if gh.Token == "" {
			return fmt.Errorf("config: store.github.token is required (set NEWSROOM_GITHUB_TOKEN)")
		}
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("config: store.sqlite.path is required for the sqlite store")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unsupported store.type %q (supported: github, sqlite, memory)", c.Store.Type)
	}
	if c.Store.FeedsKey == "" || c.Store.ArchiveKey == "" || c.Store.StatsKey == "" {
		return fmt.Errorf("config: store document keys must not be empty")
	}

	switch c.AI.Provider {
	case "gemini":
		if c.AI.GeminiAPIKey == "" {
			return fmt.Errorf("config: ai.gemini_api_key is required (set NEWSROOM_GEMINI_API_KEY)")
		}
	case "ollama":
		if _, err := url.ParseRequestURI(c.AI.OllamaURL); err != nil {
			return fmt.Errorf("config: ai.ollama_url: %w", err)
		}
	default:
		return fmt.Errorf("config: unsupported ai.provider %q (supported: gemini, ollama)", c.AI.Provider)
	}

	if c.Collector.WindowHours <= 0 {
		return fmt.Errorf("config: collector.window_hours must be positive")
	}
	if c.Summarizer.ChunkSize < 0 || c.Summarizer.ChunkSize > 50 {
		return fmt.Errorf("config: summarizer.chunk_size must be between 1 and 50")
	}
	if c.Dedup.TitleThreshold < 0 || c.Dedup.TitleThreshold > 1 {
		return fmt.Errorf("config: dedup.title_threshold must be between 0 and 1")
	}
	if c.Archive.RetentionDays < 0 {
		return fmt.Errorf("config: archive.retention_days must not be negative")
	}
	if _, err := time.LoadLocation(c.Pipeline.Timezone); err != nil {
		return fmt.Errorf("config: pipeline.timezone: %w", err)
	}
	if c.Scheduler.RunTimeoutMinutes < 0 {
		return fmt.Errorf("config: scheduler.run_timeout_minutes must not be negative")
	}
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("config: scheduler.schedule %q: %w", c.Scheduler.Schedule, err)
		}
	}
	for i, f := range c.Feeds {
		if strings.TrimSpace(f.Name) == "" || f.URL == "" {
			return fmt.Errorf("config: feeds[%d] needs a name and url", i)
		}
	}
	return nil
}

// Location returns the pipeline time zone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultFeeds converts the configured feed list; a missing enabled flag means enabled.
// It returns nil when no feeds are configured.
func (c Config) DefaultFeeds() []models.FeedSource {
	if len(c.Feeds) == 0 {
		return nil
	}
	out := make([]models.FeedSource, len(c.Feeds))
	for i, f := range c.Feeds {
		out[i] = models.FeedSource{Name: strings.TrimSpace(f.Name), URL: f.URL, Enabled: f.Enabled == nil || *f.Enabled}
	}
	return out
}

// Seconds converts a whole-seconds setting.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
