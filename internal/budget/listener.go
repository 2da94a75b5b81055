// Package budget provides a Kafka listener for provider budget events. An
// operator or a billing service publishes them when a provider plan changes
// or a daily allowance is granted again, and the listener applies them to
// the governor without a restart.
package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/lumen-search/internal/governor"
	"github.com/helixir/lumen-search/internal/observability"
)

// Event types accepted on the control topic.
const (
	EventDailyReset   = "provider_budget.daily_reset"
	EventQuotaUpdated = "provider_budget.quota_updated"
)

// Event is a provider budget change.
type Event struct {
	Type string `json:"type"`
	// Provider names the provider of a quota update.
	Provider string `json:"provider,omitempty"`
	// Quota is the new quota of a quota update.
	Quota *governor.ProviderQuotaConfig `json:"quota,omitempty"`
}

// QuotaController is the part of the governor the listener drives.
type QuotaController interface {
	ResetDailyCounters()
	UpdateQuota(provider string, q governor.ProviderQuotaConfig) error
}

// MessageReader is the subset of *kafka.Reader the listener needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config holds configuration for the budget listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for budget events.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// Listener consumes budget events from Kafka and applies them to the governor.
type Listener struct {
	reader     MessageReader
	controller QuotaController
	logger     zerolog.Logger
	retryDelay time.Duration
}

// NewListener creates a listener with a kafka-go consumer group reader.
func NewListener(cfg Config, controller QuotaController, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  3 * time.Second,
	})
	return NewListenerWithReader(reader, controller, logger)
}

// NewListenerWithReader creates a listener over an existing reader.
func NewListenerWithReader(reader MessageReader, controller QuotaController, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:     reader,
		controller: controller,
		logger:     observability.WithComponent(logger, "budget_listener"),
		retryDelay: time.Second,
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting budget listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("budget listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retryDelay):
			}
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received budget event")

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal budget event")
			continue
		}

		if err := l.Handle(event); err != nil {
			l.logger.Error().Err(err).
				Str("type", event.Type).
				Str("provider", event.Provider).
				Msg("failed to handle budget event")
		}
	}
}

// Handle applies one event to the governor.
func (l *Listener) Handle(event Event) error {
	switch event.Type {
	case EventDailyReset:
		l.logger.Info().Msg("handling out-of-schedule daily reset")
		l.controller.ResetDailyCounters()
		return nil

	case EventQuotaUpdated:
		provider := strings.ToLower(strings.TrimSpace(event.Provider))
		if provider == "" {
			return errors.New("quota update without provider")
		}
		if event.Quota == nil {
			return fmt.Errorf("quota update for %s without quota", provider)
		}
		if err := l.controller.UpdateQuota(provider, *event.Quota); err != nil {
			return fmt.Errorf("update quota of %s: %w", provider, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown budget event type %q", event.Type)
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing budget listener")
	return l.reader.Close()
}
