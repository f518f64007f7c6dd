package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pevans/sitefeed/acquire"
	"github.com/pevans/sitefeed/cache"
	"github.com/pevans/sitefeed/config"
	"github.com/pevans/sitefeed/locate"
	"github.com/pevans/sitefeed/logging"
	"github.com/pevans/sitefeed/metrics"
	"github.com/pevans/sitefeed/pipeline"
	"github.com/pevans/sitefeed/scraper"
	"github.com/pevans/sitefeed/sources"
)

// app holds what every command loads first.
type app struct {
	cfg     *config.Config
	catalog *scraper.Catalog
	logger  *zap.Logger
}

func loadApp(opts *rootOptions) (*app, error) {
	cfg, err := config.LoadConfigFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.sourcesPath != "" {
		cfg.SourcesPath = opts.sourcesPath
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	catalog, err := scraper.LoadSources(cfg.SourcesPath)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, catalog: catalog, logger: logger}, nil
}

// runtime is a fully wired pipeline and the resources behind it.
type runtime struct {
	pipeline *pipeline.Pipeline
	status   *sources.StatusStore
	launcher *acquire.PlaywrightLauncher
}

func (a *app) build(m *metrics.Metrics) (*runtime, error) {
	settings, err := a.cfg.Settings()
	if err != nil {
		return nil, err
	}

	status, err := sources.NewStatusStore(a.cfg.StatusDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open status store: %w", err)
	}

	launcher := acquire.NewPlaywrightLauncher(a.cfg.Browser.BrowserOptions)
	acquirer := acquire.New(launcher, acquire.Options{
		Timeouts:    settings.Timeouts,
		MaxSessions: a.cfg.Browser.MaxSessions,
		Logger:      a.logger.Named("acquire"),
		Metrics:     m,
	})

	p, err := pipeline.New(a.catalog, pipeline.Options{
		Cache:     cache.NewMemory(a.cfg.Cache.TTL),
		Acquirer:  pipeline.Browser(acquirer),
		Locator:   locate.New(settings.RescanDelay, a.logger.Named("locate")),
		Status:    status,
		Metrics:   m,
		Logger:    a.logger.Named("pipeline"),
		RunBudget: settings.RunBudget,
		SelfURL:   a.cfg.PublicURL,
	})
	if err != nil {
		status.Close()
		return nil, err
	}

	return &runtime{pipeline: p, status: status, launcher: launcher}, nil
}

func (r *runtime) Close() error {
	launcherErr := r.launcher.Close()
	if err := r.status.Close(); err != nil {
		return fmt.Errorf("failed to close status store: %w", err)
	}
	return launcherErr
}
