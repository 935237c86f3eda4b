// Package config loads engine settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable of the acquisition engine. Values come from
// the environment, optionally seeded from a .env file.
type Config struct {
	DatabasePath string

	InformerURL string
	BasinURL    string
	BasinSlug   string

	ForecastURL     string
	ForecastToken   string
	ForecastDays    int
	ForecastEnabled bool

	ArchiveURL     string
	ArchiveEnabled bool

	FetchTimeout   time.Duration
	PaceDelay      time.Duration
	SleepInterval  time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxRunDuration time.Duration
	LookBackDays   int

	WeatherCron string

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads the configuration. A missing .env file is not an error; real
// environment variables always win over file values.
func Load(log *slog.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using environment only")
	}

	cfg := Config{
		DatabasePath: os.Getenv("DATABASE_PATH"),

		InformerURL: os.Getenv("INFORMER_URL"),
		BasinURL:    os.Getenv("BASIN_URL"),
		BasinSlug:   envOr("BASIN_SLUG", "sayano"),

		ForecastURL:   os.Getenv("FORECAST_URL"),
		ForecastToken: os.Getenv("GISMETEO_TOKEN"),

		ArchiveURL: os.Getenv("ARCHIVE_URL"),

		WeatherCron: envOr("WEATHER_CRON", "0 * * * *"),

		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
	}

	var err error
	if cfg.ForecastDays, err = envInt("FORECAST_DAYS", 3); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.LookBackDays, err = envInt("LOOK_BACK_DAYS", 0); err != nil {
		return Config{}, err
	}
	if cfg.FetchTimeout, err = envDuration("FETCH_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PaceDelay, err = envDuration("PACE_DELAY", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SleepInterval, err = envDuration("SLEEP_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RetryBackoff, err = envDuration("RETRY_BACKOFF", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxRunDuration, err = envDuration("MAX_RUN_DURATION", 2*time.Hour); err != nil {
		return Config{}, err
	}

	cfg.ForecastEnabled = cfg.ForecastToken != ""
	cfg.ArchiveEnabled = envOr("ARCHIVE_ENABLED", "true") == "true"

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %v", key, v, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %v", key, v, err)
	}
	return d, nil
}
