package governor

import (
	"fmt"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"
)

// DefaultResetSchedule fires at every UTC midnight.
const DefaultResetSchedule = "@daily"

// Resetter is implemented by Governor.
type Resetter interface {
	ResetDailyCounters()
}

// DailyResetScheduler calls ResetDailyCounters on a cron schedule evaluated in UTC.
type DailyResetScheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewDailyResetScheduler registers the reset job. An empty schedule means
// DefaultResetSchedule. The schedule uses the six-field cron syntax with seconds.
func NewDailyResetScheduler(r Resetter, schedule string, logger zerolog.Logger) (*DailyResetScheduler, error) {
	if schedule == "" {
		schedule = DefaultResetSchedule
	}

	s := &DailyResetScheduler{
		cron:   cron.NewWithLocation(time.UTC),
		logger: logger.With().Str("component", "governor_scheduler").Logger(),
	}
	err := s.cron.AddFunc(schedule, func() {
		r.ResetDailyCounters()
		s.logger.Debug().Msg("scheduled daily reset ran")
	})
	if err != nil {
		return nil, fmt.Errorf("parse reset schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *DailyResetScheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("daily reset scheduler started")
}

// Stop halts the scheduler. A running job is not interrupted.
func (s *DailyResetScheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("daily reset scheduler stopped")
}
