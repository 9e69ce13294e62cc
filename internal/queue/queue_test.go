package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quillcms/quill/internal/models"
)

func setupQueueTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:queue-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Job{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

type testPayload struct {
	PostID uint `json:"postId"`
}

func TestClaimRespectsRunAt(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, zap.NewNop(), 3)
	ctx := context.Background()

	if err := q.EnqueueIn(ctx, "publish-post", testPayload{PostID: 1}, time.Hour); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Delayed job must not be claimable before its run_at.
	if _, err := q.Claim(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty for future job, got %v", err)
	}

	if err := q.Enqueue(ctx, "publish-post", testPayload{PostID: 2}); err != nil {
		t.Fatalf("enqueue immediate: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.Status != models.JobRunning {
		t.Fatalf("expected running, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", job.Attempts)
	}

	// The running job is owned; nothing else is due.
	if _, err := q.Claim(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty after claim, got %v", err)
	}
}

func TestClaimOrdersByRunAt(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, zap.NewNop(), 3)
	ctx := context.Background()

	if err := q.EnqueueIn(ctx, "publish-post", testPayload{PostID: 2}, -time.Minute); err != nil {
		t.Fatalf("enqueue newer: %v", err)
	}
	if err := q.EnqueueIn(ctx, "publish-post", testPayload{PostID: 1}, -time.Hour); err != nil {
		t.Fatalf("enqueue older: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	var p testPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.PostID != 1 {
		t.Fatalf("expected oldest job first, got post %d", p.PostID)
	}
}

func TestCompleteAndFailLifecycle(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, zap.NewNop(), 2)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "publish-post", testPayload{PostID: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// First failure re-queues with backoff.
	if err := q.Fail(ctx, job, errors.New("boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	var reloaded models.Job
	if err := db.First(&reloaded, job.ID).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if reloaded.Status != models.JobPending {
		t.Fatalf("expected pending after first failure, got %s", reloaded.Status)
	}
	if reloaded.LastError != "boom" {
		t.Fatalf("expected last_error recorded, got %q", reloaded.LastError)
	}
	if !reloaded.RunAt.After(time.Now()) {
		t.Fatal("expected backoff to push run_at into the future")
	}

	// Exhausting attempts parks the job as failed.
	if err := db.Model(&reloaded).Update("run_at", time.Now().Add(-time.Second)).Error; err != nil {
		t.Fatalf("rewind run_at: %v", err)
	}
	job, err = q.Claim(ctx)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := q.Fail(ctx, job, errors.New("boom again")); err != nil {
		t.Fatalf("second fail: %v", err)
	}
	if err := db.First(&reloaded, job.ID).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if reloaded.Status != models.JobFailed {
		t.Fatalf("expected failed after max attempts, got %s", reloaded.Status)
	}
}

func TestWorkerProcessesJobs(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, zap.NewNop(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed atomic.Int32
	worker := NewWorker(q, zap.NewNop(), 2, 10*time.Millisecond)
	if err := worker.Register("publish-post", func(ctx context.Context, payload []byte) error {
		processed.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := q.Enqueue(ctx, "publish-post", testPayload{PostID: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "publish-post", testPayload{PostID: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := worker.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	defer worker.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for processed.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := processed.Load(); got != 2 {
		t.Fatalf("expected 2 processed jobs, got %d", got)
	}

	var completed int64
	if err := db.Model(&models.Job{}).Where("status = ?", models.JobCompleted).Count(&completed).Error; err != nil {
		t.Fatalf("count completed: %v", err)
	}
	if completed != 2 {
		t.Fatalf("expected 2 completed rows, got %d", completed)
	}
}

func TestWorkerRetriesFailedHandler(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, zap.NewNop(), 3)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "publish-post", testPayload{PostID: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	worker := NewWorker(q, zap.NewNop(), 1, 10*time.Millisecond)
	if err := worker.Register("publish-post", func(ctx context.Context, payload []byte) error {
		return errors.New("transient")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Drive one claim/fail cycle synchronously instead of starting the pool.
	if !worker.processOne(ctx) {
		t.Fatal("expected a job to be processed")
	}

	var job models.Job
	if err := db.First(&job).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if job.Status != models.JobPending {
		t.Fatalf("expected pending for retry, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", job.Attempts)
	}
}

func TestWorkerRejectsDuplicateHandler(t *testing.T) {
	worker := NewWorker(NewQueue(setupQueueTestDB(t), zap.NewNop(), 3), zap.NewNop(), 1, time.Second)
	if err := worker.Register("publish-post", func(ctx context.Context, payload []byte) error { return nil }); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := worker.Register("publish-post", func(ctx context.Context, payload []byte) error { return nil }); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}
