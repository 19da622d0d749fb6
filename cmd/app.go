package cmd

import (
	"fmt"
	"log/slog"

	"github.com/lehigh-university-libraries/visionbatch/internal/analysis"
	"github.com/lehigh-university-libraries/visionbatch/internal/batch"
	"github.com/lehigh-university-libraries/visionbatch/internal/classifier"
	"github.com/lehigh-university-libraries/visionbatch/internal/config"
	"github.com/lehigh-university-libraries/visionbatch/internal/jobs"
	"github.com/lehigh-university-libraries/visionbatch/internal/progress"
	"github.com/lehigh-university-libraries/visionbatch/internal/providers"
	"github.com/lehigh-university-libraries/visionbatch/internal/storage"
)

// app is the wired core shared by the subcommands
type app struct {
	cfg       *config.Config
	processor *batch.Processor
	tracker   *progress.Tracker
	store     *storage.ResultStore
	runner    *jobs.Runner
	service   *analysis.Service
}

func newApp(cfg *config.Config) (*app, error) {
	logger := slog.Default()

	provider, err := classifier.NewProvider(cfg.Provider, providers.Settings{
		APIKey:  cfg.APIKey(),
		BaseURL: cfg.BaseURL(),
	})
	if err != nil {
		return nil, err
	}
	if cfg.Provider != "ollama" && cfg.APIKey() == "" {
		return nil, fmt.Errorf("no API key configured for provider %s", cfg.Provider)
	}

	client := classifier.New(provider, classifier.Options{
		Model:             cfg.Model,
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         cfg.RetryBaseDelay,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Logger:            logger,
	})

	a := &app{
		cfg:       cfg,
		processor: batch.NewProcessor(client, cfg.ThumbnailSize, logger),
		tracker:   progress.NewTracker(logger),
		store:     storage.NewResultStore(logger),
	}
	a.runner = jobs.NewRunner(a.tracker, cfg.MaxConcurrentJobs, logger)
	a.service = analysis.NewService(a.tracker, a.store, a.runner, a.processor, logger)

	slog.Info("Vision provider configured", "provider", cfg.Provider, "model", cfg.Model)
	return a, nil
}
