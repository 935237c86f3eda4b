package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, "sayano", cfg.BasinSlug)
	assert.Equal(t, 3, cfg.ForecastDays)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 0, cfg.LookBackDays)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, time.Second, cfg.PaceDelay)
	assert.Equal(t, time.Hour, cfg.SleepInterval)
	assert.Equal(t, 5*time.Second, cfg.RetryBackoff)
	assert.Equal(t, 2*time.Hour, cfg.MaxRunDuration)
	assert.Equal(t, "0 * * * *", cfg.WeatherCron)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":9090", cfg.MetricsAddr)

	assert.False(t, cfg.ForecastEnabled, "no provider token means no forecast sweeps")
	assert.True(t, cfg.ArchiveEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BASIN_SLUG", "krasnoyarsk")
	t.Setenv("GISMETEO_TOKEN", "secret")
	t.Setenv("FORECAST_DAYS", "5")
	t.Setenv("LOOK_BACK_DAYS", "2")
	t.Setenv("SLEEP_INTERVAL", "15m")
	t.Setenv("ARCHIVE_ENABLED", "false")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, "krasnoyarsk", cfg.BasinSlug)
	assert.True(t, cfg.ForecastEnabled)
	assert.Equal(t, 5, cfg.ForecastDays)
	assert.Equal(t, 2, cfg.LookBackDays)
	assert.Equal(t, 15*time.Minute, cfg.SleepInterval)
	assert.False(t, cfg.ArchiveEnabled)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("FORECAST_DAYS", "three")
	_, err := Load(testLogger())
	assert.Error(t, err)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("FETCH_TIMEOUT", "soon")
	_, err := Load(testLogger())
	assert.Error(t, err)
}
