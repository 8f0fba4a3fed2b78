package database

import (
	"context"
	"time"

	"mockpair/internal/config"

	"github.com/rs/zerolog"
)

// RetentionService periodically drops expired notifications and old
// completed queue tasks.
type RetentionService struct {
	db     *DB
	config config.RetentionConfig
	logger *zerolog.Logger
}

func NewRetentionService(db *DB, cfg config.RetentionConfig, logger *zerolog.Logger) *RetentionService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RetentionService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

func (s *RetentionService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Retention service is disabled")
		return
	}

	interval := time.Hour
	if s.config.Schedule != "" {
		if d, err := time.ParseDuration(s.config.Schedule); err == nil && d > 0 {
			interval = d
		} else {
			s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("Failed to parse retention schedule, using default 1h")
		}
	}

	s.logger.Info().Dur("interval", interval).Msg("Retention service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge pass.
func (s *RetentionService) RunOnce(ctx context.Context) {
	ts := utcNow()

	purged, err := s.db.PurgeExpiredNotifications(ctx, ts)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to purge expired notifications")
	} else if purged > 0 {
		s.logger.Info().Int64("count", purged).Msg("Purged expired notifications")
	}

	if s.config.QueueTTL <= 0 {
		return
	}
	tasks, err := s.db.PurgeCompletedIntentTasks(ctx, ts.Add(-s.config.QueueTTL))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to purge completed intent tasks")
	} else if tasks > 0 {
		s.logger.Info().Int64("count", tasks).Msg("Purged completed intent tasks")
	}
}
