package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "podcast-intel.db", cfg.Store.Path)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(3500), cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Anthropic.Temperature, 0.001)
	assert.Equal(t, 120, cfg.Anthropic.TimeoutSecs)
	assert.Equal(t, 30, cfg.Anthropic.RequestsPerMinute)
	assert.InDelta(t, 5.00, cfg.Budget.DailyLimitUSD, 0.001)
	assert.InDelta(t, 25.00, cfg.Budget.WeeklyLimitUSD, 0.001)
	assert.InDelta(t, 0.8, cfg.Budget.AlertThreshold, 0.001)
	assert.Equal(t, 7, cfg.Feed.LookbackDays)
	assert.Equal(t, 5, cfg.Feed.MaxEpisodesPerPodcast)
	assert.Equal(t, 3, cfg.Retry.Extract.MaxAttempts)
	assert.Equal(t, 500, cfg.Retry.Extract.InitialBackoffMs)
	assert.Equal(t, 3, cfg.Retry.Commit.MaxAttempts)
	assert.InDelta(t, 3.00, cfg.Pricing.InputPerMTok, 0.001)
	assert.InDelta(t, 15.00, cfg.Pricing.OutputPerMTok, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/podintel
budget:
  daily_limit_usd: 1.50
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/podintel", cfg.Store.DatabaseURL)
	assert.InDelta(t, 1.50, cfg.Budget.DailyLimitUSD, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 7, cfg.Feed.LookbackDays)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: info
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PODINTEL_LOG_LEVEL", "warn")
	t.Setenv("PODINTEL_ANTHROPIC_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
}

func TestLoadPodcasts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "podcasts.yaml")

	yaml := `
podcasts:
  - id: showtime
    name: Showtime
    rss_url: https://example.com/showtime.rss
    focus: business strategy
    active: true
  - id: quiet
    name: Quiet Pod
    rss_url: https://example.com/quiet.rss
    active: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	podcasts, err := LoadPodcasts(path)
	require.NoError(t, err)
	require.Len(t, podcasts, 2)

	assert.Equal(t, "showtime", podcasts[0].ID)
	assert.Equal(t, "Showtime", podcasts[0].Name)
	assert.Equal(t, "https://example.com/showtime.rss", podcasts[0].RSSURL)
	assert.Equal(t, "business strategy", podcasts[0].Focus)
	assert.True(t, podcasts[0].Active)
	assert.False(t, podcasts[1].Active)
}

func TestLoadPodcastsValidation(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name string
		yaml string
	}{
		{"missing id", "podcasts:\n  - name: X\n    rss_url: https://x.example\n"},
		{"missing rss_url", "podcasts:\n  - id: x\n    name: X\n"},
		{"duplicate id", "podcasts:\n  - id: x\n    rss_url: https://a.example\n  - id: x\n    rss_url: https://b.example\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0644))

			_, err := LoadPodcasts(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadPodcastsMissingFile(t *testing.T) {
	_, err := LoadPodcasts(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "not-a-level"}))
}
