package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog"

	"github.com/helixir/lumen-search/internal/domain"
)

// DefaultCacheTTL is how long a cached probe stays valid.
const DefaultCacheTTL = 15 * time.Minute

// StatsCache stores provider statistics between probes of the same query.
type StatsCache interface {
	// Get returns the cached statistics, or false on a miss.
	Get(ctx context.Context, provider, query string) (*domain.SearchStatistics, bool)

	// Put stores the statistics for the cache's TTL.
	Put(ctx context.Context, provider, query string, stats *domain.SearchStatistics) error
}

// BadgerCacheConfig configures a BadgerCache.
type BadgerCacheConfig struct {
	// Dir is the database directory. Empty keeps the cache in memory.
	Dir string

	// TTL is the lifetime of an entry. Zero means DefaultCacheTTL.
	TTL time.Duration
}

// BadgerCache is a StatsCache backed by BadgerDB. Entries expire through
// Badger's native TTL.
type BadgerCache struct {
	db     *badger.DB
	ttl    time.Duration
	logger zerolog.Logger
}

var _ StatsCache = (*BadgerCache)(nil)

// badgerLogger adapts zerolog to badger.Logger.
type badgerLogger struct {
	logger zerolog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error().Msgf(msg, items...)
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn().Msgf(msg, items...)
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug().Msgf(msg, items...)
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Trace().Msgf(msg, items...)
}

// OpenBadgerCache opens a cache in cfg.Dir, creating the directory if
// needed, or an in-memory cache when Dir is empty.
func OpenBadgerCache(cfg BadgerCacheConfig, logger zerolog.Logger) (*BadgerCache, error) {
	var opts badger.Options
	if cfg.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening probe cache: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &BadgerCache{db: db, ttl: ttl, logger: logger}, nil
}

// Close closes the underlying database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func cacheKey(provider, query string) []byte {
	return []byte("probe/" + provider + "/" + query)
}

// Get implements StatsCache. Read errors are logged and reported as misses.
func (c *BadgerCache) Get(_ context.Context, provider, query string) (*domain.SearchStatistics, bool) {
	var stats domain.SearchStatistics
	err := c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(cacheKey(provider, query))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stats)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn().Err(err).Str("provider", provider).Msg("probe cache read failed")
		}
		return nil, false
	}
	return &stats, true
}

// Put implements StatsCache.
func (c *BadgerCache) Put(_ context.Context, provider, query string, stats *domain.SearchStatistics) error {
	val, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding statistics: %w", err)
	}
	return c.db.Update(func(tx *badger.Txn) error {
		return tx.SetEntry(badger.NewEntry(cacheKey(provider, query), val).WithTTL(c.ttl))
	})
}
