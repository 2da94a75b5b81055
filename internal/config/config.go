// Package config provides configuration management for the search engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/helixir/lumen-search/internal/dedup"
	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/governor"
	"github.com/helixir/lumen-search/internal/probe"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "LUMEN"

// Config holds all configuration for the search engine.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Governor contains provider rate and quota settings.
	Governor GovernorConfig `mapstructure:"governor"`
	// Orchestrator contains fan-out settings.
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	// Probe contains probe client settings.
	Probe ProbeConfig `mapstructure:"probe"`
	// Dedup contains deduplication settings.
	Dedup dedup.Config `mapstructure:"dedup"`
	// Providers contains per-provider client settings.
	Providers ProvidersConfig `mapstructure:"providers"`
	// Kafka contains the downstream sink settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response.
	// Streaming searches can run long, so zero disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// CORSAllowedOrigins lists browser origins allowed to call the API.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// GovernorConfig holds admission control settings.
type GovernorConfig struct {
	// ResetSchedule is the cron spec of the daily counter reset, evaluated in UTC.
	ResetSchedule string `mapstructure:"reset_schedule"`
	// Quotas overrides the built-in quota of individual providers.
	Quotas map[string]governor.ProviderQuotaConfig `mapstructure:"quotas"`
	// Fallback applies to providers with no quota at all.
	Fallback governor.ProviderQuotaConfig `mapstructure:"fallback"`
}

// EffectiveQuotas merges the configured overrides over the built-in quotas.
func (c *GovernorConfig) EffectiveQuotas() map[string]governor.ProviderQuotaConfig {
	quotas := governor.DefaultQuotas()
	for id, q := range c.Quotas {
		quotas[strings.ToLower(id)] = q
	}
	return quotas
}

// OrchestratorConfig holds search fan-out settings.
type OrchestratorConfig struct {
	// ProviderTimeout bounds each provider task.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	// BufferSize is the capacity of the event channel of a search stream.
	BufferSize int `mapstructure:"buffer_size"`
	// DefaultMaxResults caps each provider's share of a search that sets no
	// max_results.
	DefaultMaxResults int `mapstructure:"default_max_results"`
}

// ProbeConfig holds probe client settings.
type ProbeConfig struct {
	// Concurrency bounds concurrent statistics calls.
	Concurrency int `mapstructure:"concurrency"`
	// Timeout bounds each statistics call.
	Timeout time.Duration `mapstructure:"timeout"`
	// Policy holds the refinement thresholds.
	Policy probe.Policy `mapstructure:"policy"`
	// Cache configures the statistics cache.
	Cache ProbeCacheConfig `mapstructure:"cache"`
}

// ProbeCacheConfig configures the Badger-backed statistics cache.
type ProbeCacheConfig struct {
	// Enabled turns the cache on.
	Enabled bool `mapstructure:"enabled"`
	// Dir is the Badger directory. Empty keeps the cache in memory.
	Dir string `mapstructure:"dir"`
	// TTL is how long a cached answer stays valid.
	TTL time.Duration `mapstructure:"ttl"`
}

// ProvidersConfig holds the configuration of each built-in provider.
type ProvidersConfig struct {
	OpenAlex        ProviderConfig `mapstructure:"openalex"`
	Crossref        ProviderConfig `mapstructure:"crossref"`
	ArXiv           ProviderConfig `mapstructure:"arxiv"`
	SemanticScholar ProviderConfig `mapstructure:"semanticscholar"`
}

// ProviderConfig holds the client settings of one provider.
type ProviderConfig struct {
	// Enabled registers the provider.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded from the environment only. Only Semantic Scholar uses one.
	APIKey string `mapstructure:"-"`
	// Email joins the polite pool where the provider has one.
	Email string `mapstructure:"email"`
	// BaseURL overrides the API endpoint.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// PageSize is the number of results requested per page.
	PageSize int `mapstructure:"page_size"`
	// MaxRetries is the number of retries on 429 and 5xx.
	MaxRetries int `mapstructure:"max_retries"`
}

// KafkaConfig holds Kafka sink settings.
type KafkaConfig struct {
	// Enabled turns on publishing. When false, outputs are discarded.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic to publish to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// ServiceName is stamped on every message as its source.
	ServiceName string `mapstructure:"service_name"`
	// ControlTopic carries provider budget events. Empty disables the listener.
	ControlTopic string `mapstructure:"control_topic"`
	// GroupID is the consumer group of the budget listener.
	GroupID string `mapstructure:"group_id"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load reads configuration from an optional .env file, environment variables
// and an optional config file.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/lumen-search")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets reads API keys from the environment only, never from files.
func loadSecrets(cfg *Config) {
	cfg.Providers.SemanticScholar.APIKey = os.Getenv(EnvPrefix + "_PROVIDERS_SEMANTICSCHOLAR_API_KEY")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.cors_allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "lumen")

	v.SetDefault("governor.reset_schedule", governor.DefaultResetSchedule)
	v.SetDefault("governor.fallback.requests_per_second", governor.FallbackQuota.RequestsPerSecond)
	v.SetDefault("governor.fallback.burst_capacity", governor.FallbackQuota.BurstCapacity)
	v.SetDefault("governor.fallback.daily_limit", governor.FallbackQuota.DailyLimit)

	v.SetDefault("orchestrator.provider_timeout", "30s")
	v.SetDefault("orchestrator.buffer_size", 64)
	v.SetDefault("orchestrator.default_max_results", 200)

	v.SetDefault("probe.concurrency", 4)
	v.SetDefault("probe.timeout", "10s")
	v.SetDefault("probe.policy.narrow_above", probe.DefaultPolicy().NarrowAbove)
	v.SetDefault("probe.policy.broaden_below", probe.DefaultPolicy().BroadenBelow)
	v.SetDefault("probe.policy.max_concept_hints", probe.DefaultPolicy().MaxConceptHints)
	v.SetDefault("probe.cache.enabled", true)
	v.SetDefault("probe.cache.dir", "")
	v.SetDefault("probe.cache.ttl", probe.DefaultCacheTTL.String())

	defaults := dedup.DefaultConfig()
	v.SetDefault("dedup.title_threshold", defaults.TitleThreshold)
	v.SetDefault("dedup.year_tolerance", defaults.YearTolerance)
	v.SetDefault("dedup.workers", 4)
	v.SetDefault("dedup.parallel_threshold", defaults.ParallelThreshold)

	v.SetDefault("providers.openalex.enabled", true)
	v.SetDefault("providers.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("providers.openalex.timeout", "30s")
	v.SetDefault("providers.openalex.page_size", 25)
	v.SetDefault("providers.openalex.max_retries", 3)

	v.SetDefault("providers.crossref.enabled", true)
	v.SetDefault("providers.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("providers.crossref.timeout", "30s")
	v.SetDefault("providers.crossref.page_size", 20)
	v.SetDefault("providers.crossref.max_retries", 3)

	v.SetDefault("providers.arxiv.enabled", true)
	v.SetDefault("providers.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("providers.arxiv.timeout", "30s")
	v.SetDefault("providers.arxiv.page_size", 50)
	v.SetDefault("providers.arxiv.max_retries", 3)

	v.SetDefault("providers.semanticscholar.enabled", true)
	v.SetDefault("providers.semanticscholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("providers.semanticscholar.timeout", "30s")
	v.SetDefault("providers.semanticscholar.page_size", 100)
	v.SetDefault("providers.semanticscholar.max_retries", 3)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.lumen_search")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.service_name", "lumen-search")
	v.SetDefault("kafka.control_topic", "")
	v.SetDefault("kafka.group_id", "lumen-search")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}
	if c.Metrics.Enabled && c.Server.MetricsPort == c.Server.HTTPPort {
		return fmt.Errorf("metrics port must differ from HTTP port (%d)", c.Server.HTTPPort)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	for id, q := range c.Governor.Quotas {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("governor quota %q: %w", id, err)
		}
	}
	if err := c.Governor.Fallback.Validate(); err != nil {
		return fmt.Errorf("governor fallback quota: %w", err)
	}

	if c.Orchestrator.ProviderTimeout <= 0 {
		return fmt.Errorf("orchestrator provider_timeout must be positive")
	}
	if c.Orchestrator.BufferSize < 0 {
		return fmt.Errorf("orchestrator buffer_size must be >= 0")
	}
	if c.Orchestrator.DefaultMaxResults < 1 {
		return fmt.Errorf("orchestrator default_max_results must be positive")
	}

	if c.Probe.Concurrency <= 0 {
		return fmt.Errorf("probe concurrency must be positive")
	}
	if err := c.Probe.Policy.Validate(); err != nil {
		return fmt.Errorf("probe policy: %w", err)
	}

	if err := c.Dedup.Validate(); err != nil {
		return fmt.Errorf("dedup: %w", err)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
		if c.Kafka.ControlTopic != "" && c.Kafka.GroupID == "" {
			return fmt.Errorf("kafka group_id is required when control_topic is set")
		}
	}

	if !c.Providers.anyEnabled() {
		return fmt.Errorf("at least one provider must be enabled (%s, %s, %s, %s)",
			domain.ProviderOpenAlex, domain.ProviderCrossref, domain.ProviderArXiv, domain.ProviderSemanticScholar)
	}

	return nil
}

func (p *ProvidersConfig) anyEnabled() bool {
	return p.OpenAlex.Enabled || p.Crossref.Enabled || p.ArXiv.Enabled || p.SemanticScholar.Enabled
}
