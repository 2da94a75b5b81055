package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/lumen-search/internal/dedup"
	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/governor"
	"github.com/helixir/lumen-search/internal/probe"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Zero(t, cfg.Server.WriteTimeout)
	assert.Empty(t, cfg.Server.CORSAllowedOrigins)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Metrics defaults
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "lumen", cfg.Metrics.Namespace)

	// Governor defaults
	assert.Equal(t, governor.DefaultResetSchedule, cfg.Governor.ResetSchedule)
	assert.Equal(t, governor.FallbackQuota, cfg.Governor.Fallback)
	assert.Equal(t, governor.DefaultQuotas(), cfg.Governor.EffectiveQuotas())

	// Orchestrator defaults
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.ProviderTimeout)
	assert.Equal(t, 64, cfg.Orchestrator.BufferSize)
	assert.Equal(t, 200, cfg.Orchestrator.DefaultMaxResults)

	// Probe defaults
	assert.Equal(t, 4, cfg.Probe.Concurrency)
	assert.Equal(t, probe.DefaultPolicy(), cfg.Probe.Policy)
	assert.True(t, cfg.Probe.Cache.Enabled)
	assert.Equal(t, probe.DefaultCacheTTL, cfg.Probe.Cache.TTL)

	// Dedup defaults
	assert.Equal(t, dedup.DefaultConfig().TitleThreshold, cfg.Dedup.TitleThreshold)
	assert.Equal(t, 1, cfg.Dedup.YearTolerance)
	assert.Equal(t, 4, cfg.Dedup.Workers)

	// Provider defaults
	assert.True(t, cfg.Providers.OpenAlex.Enabled)
	assert.True(t, cfg.Providers.Crossref.Enabled)
	assert.True(t, cfg.Providers.ArXiv.Enabled)
	assert.True(t, cfg.Providers.SemanticScholar.Enabled)
	assert.Equal(t, "https://api.openalex.org", cfg.Providers.OpenAlex.BaseURL)
	assert.Empty(t, cfg.Providers.SemanticScholar.APIKey)

	// Kafka defaults
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Kafka.ControlTopic)
	assert.Equal(t, "lumen-search", cfg.Kafka.GroupID)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("LUMEN_SERVER_HTTP_PORT", "8888")
	t.Setenv("LUMEN_LOGGING_LEVEL", "debug")
	t.Setenv("LUMEN_ORCHESTRATOR_PROVIDER_TIMEOUT", "5s")
	t.Setenv("LUMEN_PROBE_POLICY_NARROW_ABOVE", "900")
	t.Setenv("LUMEN_DEDUP_TITLE_THRESHOLD", "0.9")
	t.Setenv("LUMEN_PROVIDERS_ARXIV_ENABLED", "false")
	t.Setenv("LUMEN_KAFKA_TOPIC", "custom.topic")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.ProviderTimeout)
	assert.Equal(t, int64(900), cfg.Probe.Policy.NarrowAbove)
	assert.InDelta(t, 0.9, cfg.Dedup.TitleThreshold, 1e-9)
	assert.False(t, cfg.Providers.ArXiv.Enabled)
	assert.Equal(t, "custom.topic", cfg.Kafka.Topic)
}

func TestLoad_APIKeysFromEnvOnly(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("LUMEN_PROVIDERS_SEMANTICSCHOLAR_API_KEY", "s2-key")
	t.Setenv("LUMEN_PROVIDERS_OPENALEX_API_KEY", "oa-key")
	t.Setenv("LUMEN_PROVIDERS_SEMANTICSCHOLAR_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s2-key", cfg.Providers.SemanticScholar.APIKey)
	assert.Equal(t, 5, cfg.Providers.SemanticScholar.MaxRetries)
	assert.Empty(t, cfg.Providers.OpenAlex.APIKey)
}

func TestLoadFile(t *testing.T) {
	clearEnvVars(t)

	path := filepath.Join(t.TempDir(), "lumen.yaml")
	yaml := `
server:
  http_port: 7000
governor:
  quotas:
    semanticscholar:
      requests_per_second: 1
      burst_capacity: 1
      daily_limit: 100
probe:
  policy:
    broaden_below: 10
providers:
  crossref:
    email: ops@example.org
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.HTTPPort)
	assert.Equal(t, int64(10), cfg.Probe.Policy.BroadenBelow)
	assert.Equal(t, "ops@example.org", cfg.Providers.Crossref.Email)

	quotas := cfg.Governor.EffectiveQuotas()
	assert.Equal(t, governor.ProviderQuotaConfig{RequestsPerSecond: 1, BurstCapacity: 1, DailyLimit: 100}, quotas[domain.ProviderSemanticScholar])
	assert.Equal(t, governor.DefaultQuotas()[domain.ProviderOpenAlex], quotas[domain.ProviderOpenAlex])
}

func TestLoadFile_Missing(t *testing.T) {
	clearEnvVars(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "http port zero", mutate: func(c *Config) { c.Server.HTTPPort = 0 }, wantErr: "invalid HTTP port"},
		{name: "http port too high", mutate: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "invalid HTTP port"},
		{name: "metrics port negative", mutate: func(c *Config) { c.Server.MetricsPort = -1 }, wantErr: "invalid metrics port"},
		{name: "metrics port collides", mutate: func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, wantErr: "must differ"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "invalid log level"},
		{
			name:    "quota",
			mutate:  func(c *Config) { c.Governor.Quotas = map[string]governor.ProviderQuotaConfig{"arxiv": {}} },
			wantErr: `governor quota "arxiv"`,
		},
		{name: "fallback quota", mutate: func(c *Config) { c.Governor.Fallback.BurstCapacity = 0 }, wantErr: "fallback"},
		{name: "provider timeout", mutate: func(c *Config) { c.Orchestrator.ProviderTimeout = 0 }, wantErr: "provider_timeout"},
		{name: "default max results", mutate: func(c *Config) { c.Orchestrator.DefaultMaxResults = 0 }, wantErr: "default_max_results"},
		{name: "probe concurrency", mutate: func(c *Config) { c.Probe.Concurrency = 0 }, wantErr: "probe concurrency"},
		{name: "probe policy", mutate: func(c *Config) { c.Probe.Policy.BroadenBelow = c.Probe.Policy.NarrowAbove + 1 }, wantErr: "probe policy"},
		{name: "dedup", mutate: func(c *Config) { c.Dedup.TitleThreshold = 2 }, wantErr: "dedup"},
		{name: "kafka brokers", mutate: func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, wantErr: "kafka brokers"},
		{name: "kafka topic", mutate: func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "" }, wantErr: "kafka topic"},
		{
			name: "kafka group id",
			mutate: func(c *Config) {
				c.Kafka.Enabled = true
				c.Kafka.ControlTopic = "control.lumen_search"
				c.Kafka.GroupID = ""
			},
			wantErr: "group_id",
		},
		{
			name: "no providers",
			mutate: func(c *Config) {
				c.Providers = ProvidersConfig{}
			},
			wantErr: "at least one provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfig_Addresses(t *testing.T) {
	cfg := ServerConfig{Host: "localhost", HTTPPort: 8080, MetricsPort: 9091}
	assert.Equal(t, "localhost:8080", cfg.HTTPAddress())
	assert.Equal(t, "localhost:9091", cfg.MetricsAddress())
}

// clearEnvVars unsets all LUMEN_ environment variables for the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, env := range os.Environ() {
		key, _, _ := strings.Cut(env, "=")
		if strings.HasPrefix(key, EnvPrefix+"_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// validConfig returns a valid configuration for testing
func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			HTTPPort:    8080,
			MetricsPort: 9091,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics:  MetricsConfig{Enabled: true},
		Governor: GovernorConfig{Fallback: governor.FallbackQuota},
		Orchestrator: OrchestratorConfig{
			ProviderTimeout:   30 * time.Second,
			BufferSize:        64,
			DefaultMaxResults: 200,
		},
		Probe: ProbeConfig{
			Concurrency: 4,
			Policy:      probe.DefaultPolicy(),
		},
		Dedup: dedup.DefaultConfig(),
		Providers: ProvidersConfig{
			OpenAlex: ProviderConfig{Enabled: true},
		},
		Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"},
	}
}
