// Command transcriberd runs the media transcription service: an HTTP API in
// front of a checkpointed download-and-transcribe pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"video-transcriber/internal/checkpoint"
	"video-transcriber/internal/config"
	"video-transcriber/internal/diagnostics"
	"video-transcriber/internal/httpapi"
	"video-transcriber/internal/jobs"
	"video-transcriber/internal/logging"
	"video-transcriber/internal/media"
	"video-transcriber/internal/observability"
	"video-transcriber/internal/store"
	"video-transcriber/internal/transcribe"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init("info", "console")
		fallback := logging.WithComponent("main")
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	logger := logging.WithComponent("main")
	logger.Info().Str("config", *configPath).Str("listen", cfg.ListenAddr).Msg("starting video-transcriber")

	checker := diagnostics.NewChecker()
	report := checker.Run(cfg)
	for _, item := range report.Items {
		if item.Status == diagnostics.StatusFail {
			logger.Warn().Str("check", item.ID).Str("hint", item.Hint).Msg(item.Message)
		}
	}
	if report.HasFailures {
		logger.Warn().Msg("startup checks reported failures; jobs may fail until they are resolved")
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "jobs.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("open job database")
	}
	defer db.Close()

	jobStore, err := store.NewJobStore(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("prepare job store")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	runner := &media.ExecRunner{}
	extractor := media.NewExtractor(cfg.Tools.FFmpeg, runner)
	prober := media.NewFFprobeProber(cfg.Tools.FFprobe, runner)
	downloader := media.NewYtDlpDownloader(cfg.Tools.YtDlp, runner)
	transcriber := transcribe.NewWhisperTranscriber(cfg.Tools.Whisper, cfg.ModelPath, extractor, runner)

	checkpoints := checkpoint.NewStore(filepath.Join(cfg.CacheDir, "checkpoints"))
	driver := transcribe.NewDriver(
		checkpoints,
		transcriber,
		prober,
		media.Fingerprint,
		cfg.SegmentSeconds,
		cfg.SegmentTimeout.Std(),
		logging.WithComponent("driver"),
	)

	events := jobs.NewEventBus(1024)
	orchestrator := jobs.New(jobs.Options{
		Store:           jobStore,
		Checkpoints:     checkpoints,
		Downloader:      downloader,
		Driver:          driver,
		Events:          events,
		Metrics:         metrics,
		MediaDir:        filepath.Join(cfg.CacheDir, "media"),
		OutputDir:       cfg.OutputDir,
		Weights:         cfg.Weights,
		DownloadTimeout: cfg.DownloadTimeout.Std(),
		Logger:          logging.WithComponent("orchestrator"),
	})
	defer orchestrator.Close()

	reportIncomplete(orchestrator, logger)

	api := httpapi.NewServer(
		orchestrator,
		events,
		registry,
		func() diagnostics.Report { return checker.Run(cfg) },
		logging.WithComponent("httpapi"),
	)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

// reportIncomplete logs jobs interrupted by a previous run so operators can
// resume them; nothing restarts automatically.
func reportIncomplete(orchestrator *jobs.Orchestrator, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ids, err := orchestrator.ListIncomplete(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list incomplete jobs")
		return
	}
	if len(ids) > 0 {
		logger.Info().Int("count", len(ids)).Strs("jobIds", ids).Msg("incomplete jobs found; resume via POST /api/jobs/{id}/resume")
	}
}

// defaultConfigPath points at the per-user config file.
func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(homeDir, ".video-transcriber", "config.yaml")
}
