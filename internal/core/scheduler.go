package core

// scheduler.go purges old staging runs from history.
//
// The scheduler is long-running and stops with its context. A failed purge is
// logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// PurgeConfig holds configuration for the history purge scheduler.
type PurgeConfig struct {
	Retention     time.Duration // Runs started earlier than now-Retention are purged (default: 30 days)
	CheckInterval time.Duration // How often to run (default: 24h)
}

func (c PurgeConfig) withDefaults() PurgeConfig {
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

// StartHistoryPurgeScheduler purges finished runs older than the retention
// window immediately and then every CheckInterval, until ctx is cancelled.
func (s *Service) StartHistoryPurgeScheduler(ctx context.Context, cfg PurgeConfig) {
	cfg = cfg.withDefaults()
	slog.Info("history purge scheduler started",
		"retention", cfg.Retention.String(),
		"interval", cfg.CheckInterval.String(),
	)

	s.purgeHistory(ctx, cfg.Retention)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("history purge scheduler stopped")
			return
		case <-ticker.C:
			s.purgeHistory(ctx, cfg.Retention)
		}
	}
}

func (s *Service) purgeHistory(ctx context.Context, retention time.Duration) {
	start := time.Now()
	purged, err := s.history.PurgeRuns(ctx, start.Add(-retention))
	if err != nil {
		slog.Error("history purge failed", "error", err)
		return
	}
	slog.Info("purged staging runs",
		"runs_purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
