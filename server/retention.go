package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// RetentionConfig configures the periodic run-record sweep.
type RetentionConfig struct {
	// Schedule is a five-field UTC cron expression, e.g. "0 3 * * *".
	Schedule string
	// MaxAge is how long finished runs are kept.
	MaxAge time.Duration
	Logger *slog.Logger
}

// RetentionSweeper deletes run records older than a configured age on a cron
// schedule.
type RetentionSweeper struct {
	store    RunStore
	schedule cron.Schedule
	maxAge   time.Duration
	logger   *slog.Logger
}

// NewRetentionSweeper validates the config and builds a sweeper. It does not
// start sweeping; call Run.
func NewRetentionSweeper(store RunStore, cfg RetentionConfig) (*RetentionSweeper, error) {
	schedule, err := parseCronExpressionUTC(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionSweeper{
		store:    store,
		schedule: schedule,
		maxAge:   cfg.MaxAge,
		logger:   logger,
	}, nil
}

// Run sweeps on the configured schedule until the context is canceled.
func (s *RetentionSweeper) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.SweepOnce(ctx)
	}
}

// SweepOnce deletes runs older than MaxAge once.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.maxAge)
	deleted, err := s.store.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("run retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("run retention sweep", "deleted", deleted, "cutoff", cutoff)
	}
}
