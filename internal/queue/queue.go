package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quillcms/quill/internal/models"
)

// ErrEmpty is returned by Claim when no job is currently due.
var ErrEmpty = errors.New("no runnable job")

// Scheduler enqueues named jobs for asynchronous execution. Delivery is
// at-least-once: a job may run more than once and handlers must tolerate
// replays.
type Scheduler interface {
	Enqueue(ctx context.Context, name string, payload any) error
	EnqueueIn(ctx context.Context, name string, payload any, delay time.Duration) error
}

// Queue is a database-backed job queue shared by the API and worker
// processes. Job rows are the only cross-process coordination mechanism;
// claiming relies on a conditional update so concurrent workers never run the
// same row twice at once.
type Queue struct {
	db          *gorm.DB
	logger      *zap.Logger
	maxAttempts int
}

func NewQueue(db *gorm.DB, logger *zap.Logger, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{
		db:          db,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Enqueue schedules a job for immediate execution.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) error {
	return q.EnqueueIn(ctx, name, payload, 0)
}

// EnqueueIn schedules a job to run no earlier than now+delay.
func (q *Queue) EnqueueIn(ctx context.Context, name string, payload any, delay time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}

	job := models.Job{
		Name:        name,
		Payload:     data,
		RunAt:       time.Now().Add(delay),
		Status:      models.JobPending,
		MaxAttempts: q.maxAttempts,
	}
	if err := q.db.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", name, err)
	}

	q.logger.Debug("Job enqueued",
		zap.Uint("job_id", job.ID),
		zap.String("name", name),
		zap.Duration("delay", delay))
	return nil
}

// Claim atomically takes ownership of the oldest due pending job. It returns
// ErrEmpty when nothing is runnable.
func (q *Queue) Claim(ctx context.Context) (*models.Job, error) {
	for {
		var job models.Job
		err := q.db.WithContext(ctx).
			Where("status = ? AND run_at <= ?", models.JobPending, time.Now()).
			Order("run_at").
			First(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrEmpty
			}
			return nil, err
		}

		// The status guard makes the claim safe across worker processes:
		// whoever flips pending to running owns the row.
		res := q.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobPending).
			Updates(map[string]any{
				"status":   models.JobRunning,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to another worker, try the next row.
			continue
		}

		job.Status = models.JobRunning
		job.Attempts++
		return &job, nil
	}
}

// Complete marks a claimed job as done.
func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	return q.db.WithContext(ctx).Model(job).
		Update("status", models.JobCompleted).Error
}

// Fail records a handler error. The job is re-queued with backoff until its
// attempts are exhausted, then parked as failed.
func (q *Queue) Fail(ctx context.Context, job *models.Job, jobErr error) error {
	updates := map[string]any{
		"last_error": jobErr.Error(),
	}
	if job.Attempts >= job.MaxAttempts {
		updates["status"] = models.JobFailed
		q.logger.Error("Job failed permanently",
			zap.Uint("job_id", job.ID),
			zap.String("name", job.Name),
			zap.Int("attempts", job.Attempts),
			zap.Error(jobErr))
	} else {
		updates["status"] = models.JobPending
		updates["run_at"] = time.Now().Add(retryBackoff(job.Attempts))
		q.logger.Warn("Job failed, will retry",
			zap.Uint("job_id", job.ID),
			zap.String("name", job.Name),
			zap.Int("attempts", job.Attempts),
			zap.Error(jobErr))
	}
	return q.db.WithContext(ctx).Model(job).Updates(updates).Error
}

func retryBackoff(attempts int) time.Duration {
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
