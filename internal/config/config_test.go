package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("NEWSROOM_GEMINI_API_KEY", "key-from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	want := DefaultConfig()
	want.AI.GeminiAPIKey = "key-from-env"
	assert.Equal(t, want, cfg)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	t.Setenv("GH_TOKEN_FOR_TEST", "ghp_expanded")
	path := writeConfig(t, `
server:
  port: 9090
store:
  type: github
  github:
    owner: acme
    repo: news-data
    token: ${GH_TOKEN_FOR_TEST}
ai:
  provider: ollama
summarizer:
  chunk_size: 10
feeds:
  - name: GeekNews
    url: https://feeds.feedburner.com/geeknews
  - name: Paused
    url: https://paused.example.com/rss
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "ghp_expanded", cfg.Store.GitHub.Token)
	assert.Equal(t, "main", cfg.Store.GitHub.Branch)
	assert.Equal(t, 10, cfg.Summarizer.ChunkSize)
	assert.Equal(t, 3, cfg.Summarizer.MaxRetries)

	feeds := cfg.DefaultFeeds()
	require.Len(t, feeds, 2)
	assert.True(t, feeds[0].Enabled)
	assert.False(t, feeds[1].Enabled)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("NEWSROOM_ADMIN_PASSWORD", "from-env")
	t.Setenv("NEWSROOM_STORE_TYPE", "memory")
	path := writeConfig(t, `
admin:
  password: from-file
ai:
  provider: ollama
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Admin.Password)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("NEWSROOM_TEST_SET", "value")
	assert.Equal(t, "a: value\nb: \n", expandEnvVars("a: ${NEWSROOM_TEST_SET}\nb: ${NEWSROOM_SURELY_UNSET_VAR}\n"))
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.ErrorContains(t, err, "config: parse")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := DefaultConfig()
		c.AI.Provider = "ollama"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with ollama", func(c *Config) {}, ""},
		{"gemini without key", func(c *Config) { c.AI.Provider = "gemini" }, "gemini_api_key"},
		{"unknown provider", func(c *Config) { c.AI.Provider = "gpt" }, "ai.provider"},
		{"github without repo", func(c *Config) { c.Store.Type = "github"; c.Store.GitHub.Token = "t" }, "owner"},
		{"github without token", func(c *Config) {
			c.Store.Type = "github"
			c.Store.GitHub.Owner, c.Store.GitHub.Repo = "o", "r"
		}, "NEWSROOM_GITHUB_TOKEN"},
		{"unknown store", func(c *Config) { c.Store.Type = "s3" }, "store.type"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad schedule", func(c *Config) { c.Scheduler.Schedule = "every day" }, "scheduler.schedule"},
		{"schedule ignored when disabled", func(c *Config) {
			c.Scheduler.Enabled = false
			c.Scheduler.Schedule = "every day"
		}, ""},
		{"negative run timeout", func(c *Config) { c.Scheduler.RunTimeoutMinutes = -1 }, "run_timeout_minutes"},
		{"bad timezone", func(c *Config) { c.Pipeline.Timezone = "Mars/Olympus" }, "pipeline.timezone"},
		{"chunk too large", func(c *Config) { c.Summarizer.ChunkSize = 51 }, "chunk_size"},
		{"threshold out of range", func(c *Config) { c.Dedup.TitleThreshold = 1.5 }, "title_threshold"},
		{"feed without url", func(c *Config) { c.Feeds = []FeedConfig{{Name: "x"}} }, "feeds[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLocation(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "Asia/Seoul", c.Location().String())
	c.Pipeline.Timezone = "nowhere"
	assert.Equal(t, "UTC", c.Location().String())
	assert.Nil(t, c.DefaultFeeds())
}
