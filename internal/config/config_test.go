package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.80, cfg.Screening.ConfidenceThreshold)
	assert.Equal(t, 5, cfg.Screening.ConfidenceSamples)
	assert.Equal(t, 60*time.Second, cfg.Screening.LLMTimeout)
	assert.Equal(t, 5, cfg.Screening.MaxContextQueries)
	assert.Equal(t, 3, cfg.Screening.ContextTopK)
	assert.Equal(t, "trialscreen.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9090
screening:
  confidence_threshold: 0.75
  llm_timeout: 30s
database:
  path: /tmp/screen.db
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.75, cfg.Screening.ConfidenceThreshold)
	assert.Equal(t, 30*time.Second, cfg.Screening.LLMTimeout)
	assert.Equal(t, "/tmp/screen.db", cfg.Database.Path)
	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRIALSCREEN_SERVER_PORT", "7070")
	t.Setenv("TRIALSCREEN_RETRIEVAL_BASE_URL", "http://retriever:8000")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "http://retriever:8000", cfg.Retrieval.BaseURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("TRIALSCREEN_SCREENING_CONFIDENCE_THRESHOLD", "1.5")
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence threshold")

	t.Setenv("TRIALSCREEN_SCREENING_CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("TRIALSCREEN_LOGGING_LEVEL", "loud")
	_, err = Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestScreeningOptions(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	opts := cfg.ScreeningOptions()
	assert.Equal(t, 0.80, opts.ConfidenceThreshold)
	assert.Equal(t, 5, opts.ConfidenceSamples)
	assert.Equal(t, 60*time.Second, opts.LLMTimeout)
}
