package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quillcms/quill/internal/config"
	"github.com/quillcms/quill/internal/models"
	"github.com/quillcms/quill/internal/queue"
)

// Sweeper is the safety net for scheduled publication: a recurring scan that
// enqueues an immediate publish-post job for every post whose scheduled time
// has passed. It catches delayed jobs that were lost or never enqueued, e.g.
// after a process restart. Duplicate jobs are fine, publishing is idempotent.
type Sweeper struct {
	config    *config.SweeperConfig
	db        *gorm.DB
	scheduler queue.Scheduler
	logger    *zap.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
}

func NewSweeper(cfg *config.SweeperConfig, db *gorm.DB, scheduler queue.Scheduler, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		config:    cfg,
		db:        db,
		scheduler: scheduler,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Sweeper is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.Interval)
	if err != nil {
		s.logger.Error("Invalid sweep interval", zap.String("interval", s.config.Interval), zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduled-post sweeper",
		zap.String("job", models.JobCheckScheduled),
		zap.String("interval", s.config.Interval))

	s.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				if err := s.Sweep(ctx); err != nil {
					s.logger.Error("Sweep failed", zap.Error(err))
				}
			case <-s.stopCh:
				s.logger.Info("Sweeper stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Sweeper context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Sweeper) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Sweeper shutdown completed")
}

// Sweep enqueues a publish job for every overdue scheduled post.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := time.Now()

	var posts []models.Post
	if err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.StatusScheduled, time.Now()).
		Find(&posts).Error; err != nil {
		return err
	}

	for _, post := range posts {
		err := s.scheduler.Enqueue(ctx, models.JobPublishPost, PublishPostPayload{PostID: post.ID})
		if err != nil {
			s.logger.Error("Failed to enqueue overdue publish",
				zap.Uint("post_id", post.ID),
				zap.Error(err))
			continue
		}
		s.logger.Info("Overdue scheduled post queued for publish",
			zap.Uint("post_id", post.ID),
			zap.Timep("scheduled_for", post.ScheduledFor))
	}

	if len(posts) > 0 {
		s.logger.Info("Sweep completed",
			zap.String("job", models.JobCheckScheduled),
			zap.Int("posts", len(posts)),
			zap.Duration("duration", time.Since(start)))
	}
	return nil
}
