package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/hlystovea/reservoirs-web/internal/config"
	"github.com/hlystovea/reservoirs-web/internal/integration"
	"github.com/hlystovea/reservoirs-web/internal/observability"
	"github.com/hlystovea/reservoirs-web/internal/repository"
	"github.com/hlystovea/reservoirs-web/internal/usecases"
)

func main() {
	bootLog := observability.NewLogger(observability.ParseLevel("info"), "json")

	cfg, err := config.Load(bootLog)
	if err != nil {
		bootLog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := observability.NewLogger(observability.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	log.Info("starting reservoirs crawler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewSQLiteRepository(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	metricsServer := serveMetrics(cfg.MetricsAddr, registry, log)
	defer metricsServer.Shutdown(context.Background())

	fetcher := integration.NewFetcher(cfg.FetchTimeout, log)

	loopCfg := usecases.LoopConfig{
		PaceDelay:      cfg.PaceDelay,
		SleepInterval:  cfg.SleepInterval,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
		MaxRunDuration: cfg.MaxRunDuration,
		LookBackDays:   cfg.LookBackDays,
	}

	// The basin source owns its reservoir; the informer covers the rest.
	basin := integration.NewBasinAdapter(cfg.BasinURL, cfg.BasinSlug, log)
	informer := integration.NewInformerAdapter(cfg.InformerURL, []string{cfg.BasinSlug}, log)

	var wg sync.WaitGroup
	for _, adapter := range []integration.SourceAdapter{informer, basin} {
		loop := usecases.NewAcquisitionLoop(adapter, fetcher, repo, loopCfg, metrics, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("loop stopped", "source", adapter.Name(), "error", err)
			}
		}()
	}

	var weatherLoops []*usecases.AcquisitionLoop
	if cfg.ForecastEnabled {
		forecast := integration.NewForecastAdapter(cfg.ForecastURL, cfg.ForecastToken, cfg.ForecastDays, log)
		weatherLoops = append(weatherLoops, usecases.NewAcquisitionLoop(forecast, fetcher, repo, loopCfg, metrics, log))
	} else {
		log.Warn("forecast source disabled, no provider token configured")
	}
	if cfg.ArchiveEnabled {
		archive := integration.NewArchiveAdapter(cfg.ArchiveURL, log)
		weatherLoops = append(weatherLoops, usecases.NewAcquisitionLoop(archive, fetcher, repo, loopCfg, metrics, log))
	}

	scheduler := cron.New()
	if len(weatherLoops) > 0 {
		// The mutex keeps a slow sweep from overlapping the next tick.
		var sweepMu sync.Mutex
		sweep := func() {
			if !sweepMu.TryLock() {
				log.Warn("weather sweep still running, skipping tick")
				return
			}
			defer sweepMu.Unlock()
			for _, loop := range weatherLoops {
				if _, err := loop.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("weather sweep failed", "error", err)
				}
			}
		}

		if _, err := scheduler.AddFunc(cfg.WeatherCron, sweep); err != nil {
			log.Error("failed to schedule weather sweeps", "cron", cfg.WeatherCron, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		go sweep()
		log.Info("weather sweeps scheduled", "cron", cfg.WeatherCron, "sources", len(weatherLoops))
	}

	<-ctx.Done()
	log.Info("shutting down")
	<-scheduler.Stop().Done()
	wg.Wait()
}

func serveMetrics(addr string, registry *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
	return server
}
