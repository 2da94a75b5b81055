// Package app assembles the search engine components from configuration.
// Both the server and the CLI build their object graph here.
package app

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/lumen-search/internal/config"
	"github.com/helixir/lumen-search/internal/dedup"
	"github.com/helixir/lumen-search/internal/governor"
	"github.com/helixir/lumen-search/internal/observability"
	"github.com/helixir/lumen-search/internal/orchestrator"
	"github.com/helixir/lumen-search/internal/probe"
	"github.com/helixir/lumen-search/internal/providers"
	"github.com/helixir/lumen-search/internal/providers/arxiv"
	"github.com/helixir/lumen-search/internal/providers/crossref"
	"github.com/helixir/lumen-search/internal/providers/openalex"
	"github.com/helixir/lumen-search/internal/providers/semanticscholar"
	"github.com/helixir/lumen-search/internal/sink"
)

// App holds the wired components. Release it with Close.
type App struct {
	Registry     *providers.Registry
	Governor     *governor.Governor
	Orchestrator *orchestrator.Orchestrator
	Probe        *probe.Client
	Dedup        *dedup.Engine
	Sink         sink.DocumentSink

	cache  *probe.BadgerCache
	logger zerolog.Logger
}

// New builds every component from cfg. metrics may be nil.
func New(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{logger: observability.WithComponent(logger, "app")}

	a.Registry = BuildRegistry(cfg.Providers, metrics)
	if a.Registry.Len() == 0 {
		return nil, errors.New("no providers enabled")
	}

	a.Governor = governor.New(
		governor.WithQuotas(cfg.Governor.EffectiveQuotas()),
		governor.WithFallbackQuota(cfg.Governor.Fallback),
		governor.WithLogger(logger),
		governor.WithMetrics(metrics),
	)

	a.Orchestrator = orchestrator.New(a.Registry, a.Governor,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithProviderTimeout(cfg.Orchestrator.ProviderTimeout),
		orchestrator.WithBufferSize(cfg.Orchestrator.BufferSize),
		orchestrator.WithDefaultMaxResults(cfg.Orchestrator.DefaultMaxResults),
	)

	probeOpts := []probe.Option{
		probe.WithPolicy(cfg.Probe.Policy),
		probe.WithConcurrency(cfg.Probe.Concurrency),
		probe.WithTimeout(cfg.Probe.Timeout),
		probe.WithLogger(logger),
		probe.WithMetrics(metrics),
	}
	if cfg.Probe.Cache.Enabled {
		cache, err := probe.OpenBadgerCache(probe.BadgerCacheConfig{
			Dir: cfg.Probe.Cache.Dir,
			TTL: cfg.Probe.Cache.TTL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open probe cache: %w", err)
		}
		a.cache = cache
		probeOpts = append(probeOpts, probe.WithCache(cache))
	}
	a.Probe = probe.New(a.Registry, a.Governor, probeOpts...)

	engine, err := dedup.NewEngine(cfg.Dedup, dedup.WithLogger(logger), dedup.WithMetrics(metrics))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create dedup engine: %w", err)
	}
	a.Dedup = engine

	if cfg.Kafka.Enabled {
		ks, err := sink.NewKafkaSink(sink.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			ServiceName:  cfg.Kafka.ServiceName,
		}, logger, metrics)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create kafka sink: %w", err)
		}
		a.Sink = ks
	} else {
		a.Sink = sink.NopSink{}
	}

	a.logger.Info().
		Strs("providers", a.Registry.IDs()).
		Bool("probe_cache", a.cache != nil).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("components ready")

	return a, nil
}

// BuildRegistry registers every enabled provider.
func BuildRegistry(cfg config.ProvidersConfig, metrics *observability.Metrics) *providers.Registry {
	reg := providers.NewRegistry()

	if c := cfg.OpenAlex; c.Enabled {
		reg.Register(openalex.New(openalex.Config{
			BaseURL:    c.BaseURL,
			Email:      c.Email,
			Timeout:    c.Timeout,
			PageSize:   c.PageSize,
			MaxRetries: c.MaxRetries,
			Metrics:    metrics,
		}))
	}
	if c := cfg.Crossref; c.Enabled {
		reg.Register(crossref.New(crossref.Config{
			BaseURL:    c.BaseURL,
			Email:      c.Email,
			Timeout:    c.Timeout,
			PageSize:   c.PageSize,
			MaxRetries: c.MaxRetries,
			Metrics:    metrics,
		}))
	}
	if c := cfg.ArXiv; c.Enabled {
		reg.Register(arxiv.New(arxiv.Config{
			BaseURL:    c.BaseURL,
			Timeout:    c.Timeout,
			PageSize:   c.PageSize,
			MaxRetries: c.MaxRetries,
			Metrics:    metrics,
		}))
	}
	if c := cfg.SemanticScholar; c.Enabled {
		reg.Register(semanticscholar.NewClient(semanticscholar.Config{
			BaseURL:    c.BaseURL,
			APIKey:     c.APIKey,
			Timeout:    c.Timeout,
			PageSize:   c.PageSize,
			MaxRetries: c.MaxRetries,
			Metrics:    metrics,
		}, nil))
	}

	return reg
}

// Close releases the sink, the dedup worker pool and the probe cache.
func (a *App) Close() {
	if a.Sink != nil {
		if err := a.Sink.Close(); err != nil {
			a.logger.Error().Err(err).Msg("failed to close sink")
		}
	}
	if a.Dedup != nil {
		a.Dedup.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error().Err(err).Msg("failed to close probe cache")
		}
	}
}
