package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := LoadConfig()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "skip", cfg.SchedulePastDuePolicy)
	assert.Equal(t, time.Minute*10, cfg.SweepClaimTTL)
	assert.Equal(t, 0.6, cfg.EnrichMinConfidence)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("SWEEP_CONCURRENCY", "12")
	t.Setenv("COMPLETION_TIMEOUT", "3s")
	t.Setenv("ENRICH_MIN_CONFIDENCE", "0.75")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SWEEP_BATCH_SIZE", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 12, cfg.SweepConcurrency)
	assert.Equal(t, 3*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 0.75, cfg.EnrichMinConfidence)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 100, cfg.SweepBatchSize, "invalid ints fall back to the default")
}

func TestLocation(t *testing.T) {
	cfg := &Config{DefaultTimezone: "Europe/Lisbon"}
	require.Equal(t, "Europe/Lisbon", cfg.Location().String())

	cfg.DefaultTimezone = "Mars/Olympus"
	require.Equal(t, time.UTC, cfg.Location())
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("sweep finished", "sent", 3)

	assert.Contains(t, stderr.String(), "sweep finished")
	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, file.String(), `"sent":3`)
}
