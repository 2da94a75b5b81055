package governor

import (
	"fmt"

	"github.com/helixir/lumen-search/internal/domain"
)

// ProviderQuotaConfig is the immutable rate and quota configuration of one provider.
type ProviderQuotaConfig struct {
	// RequestsPerSecond is the continuous token refill rate.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`

	// BurstCapacity is the maximum number of tokens the bucket can hold.
	BurstCapacity int `mapstructure:"burst_capacity" json:"burst_capacity"`

	// DailyLimit caps the requests per UTC day. Zero means unlimited.
	DailyLimit int64 `mapstructure:"daily_limit" json:"daily_limit,omitempty"`
}

// Unlimited reports whether the quota has no daily cap.
func (q ProviderQuotaConfig) Unlimited() bool {
	return q.DailyLimit <= 0
}

// Validate checks the quota values.
func (q ProviderQuotaConfig) Validate() error {
	if q.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %g", q.RequestsPerSecond)
	}
	if q.BurstCapacity < 1 {
		return fmt.Errorf("burst_capacity must be at least 1, got %d", q.BurstCapacity)
	}
	if q.DailyLimit < 0 {
		return fmt.Errorf("daily_limit must be >= 0, got %d", q.DailyLimit)
	}
	return nil
}

// FallbackQuota applies to providers that have no explicit configuration.
var FallbackQuota = ProviderQuotaConfig{RequestsPerSecond: 1, BurstCapacity: 1, DailyLimit: 1000}

// DefaultQuotas returns the built-in quotas of the known providers.
//
//   - OpenAlex: 10 req/s, no daily cap.
//   - Crossref polite pool: 50 req/s, no daily cap.
//   - arXiv: 1 req/s, no daily cap.
//   - Semantic Scholar without API key: 5 req/s, 5000 per day.
func DefaultQuotas() map[string]ProviderQuotaConfig {
	return map[string]ProviderQuotaConfig{
		domain.ProviderOpenAlex:        {RequestsPerSecond: 10, BurstCapacity: 10},
		domain.ProviderCrossref:        {RequestsPerSecond: 50, BurstCapacity: 50},
		domain.ProviderArXiv:           {RequestsPerSecond: 1, BurstCapacity: 1},
		domain.ProviderSemanticScholar: {RequestsPerSecond: 5, BurstCapacity: 5, DailyLimit: 5000},
	}
}
