package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quillcms/quill/internal/cache"
	"github.com/quillcms/quill/internal/config"
	"github.com/quillcms/quill/internal/models"
	"github.com/quillcms/quill/internal/queue"
)

func TestSweepEnqueuesOverdueScheduledPosts(t *testing.T) {
	db := setupTestDB(t)
	sched := queue.NewMemory()
	sweeper := NewSweeper(&config.SweeperConfig{Interval: "60s", Enabled: true}, db, sched, zap.NewNop())

	user := createTestUser(t, db, "author")
	overdue := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	posts := []models.Post{
		{Title: "Overdue", Content: "overdue post content", Slug: "overdue", Status: models.StatusScheduled, AuthorID: user.ID, ScheduledFor: &overdue},
		{Title: "Not Yet", Content: "future post content", Slug: "not-yet", Status: models.StatusScheduled, AuthorID: user.ID, ScheduledFor: &future},
		{Title: "Draft", Content: "draft post content", Slug: "draft", Status: models.StatusDraft, AuthorID: user.ID},
	}
	for i := range posts {
		if err := db.Create(&posts[i]).Error; err != nil {
			t.Fatalf("create post: %v", err)
		}
	}

	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	jobs := sched.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(jobs))
	}
	if jobs[0].Name != models.JobPublishPost {
		t.Fatalf("unexpected job name %q", jobs[0].Name)
	}
	if jobs[0].Delay != 0 {
		t.Fatalf("sweep jobs run immediately, got delay %v", jobs[0].Delay)
	}
	var payload PublishPostPayload
	if err := json.Unmarshal(jobs[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PostID != posts[0].ID {
		t.Fatalf("expected overdue post %d, got %d", posts[0].ID, payload.PostID)
	}
}

func TestSweepThenWorkerPublishes(t *testing.T) {
	// End to end through the durable queue: sweep finds the overdue post,
	// the worker executes the publish transition.
	db := setupTestDB(t)
	q := queue.NewQueue(db, zap.NewNop(), 3)
	svc := NewPostService(db, cache.NewMemory(), q, zap.NewNop())
	sweeper := NewSweeper(&config.SweeperConfig{Interval: "60s", Enabled: true}, db, q, zap.NewNop())

	user := createTestUser(t, db, "author")
	overdue := time.Now().Add(-time.Minute)
	post := models.Post{
		Title:        "Overdue",
		Content:      "overdue post content",
		Slug:         "overdue",
		Status:       models.StatusScheduled,
		AuthorID:     user.ID,
		ScheduledFor: &overdue,
	}
	if err := db.Create(&post).Error; err != nil {
		t.Fatalf("create post: %v", err)
	}

	ctx := context.Background()
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	worker := queue.NewWorker(q, zap.NewNop(), 1, 10*time.Millisecond)
	if err := worker.Register(models.JobPublishPost, svc.HandlePublishJob); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := worker.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	defer worker.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var reloaded models.Post
		if err := db.First(&reloaded, post.ID).Error; err != nil {
			t.Fatalf("reload post: %v", err)
		}
		if reloaded.Status == models.StatusPublished {
			if reloaded.PublishedAt == nil {
				t.Fatal("published_at must be set")
			}
			if reloaded.ScheduledFor == nil {
				t.Fatal("scheduled_for must be preserved")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("post was never published by the worker")
}

func TestSweeperDisabled(t *testing.T) {
	db := setupTestDB(t)
	sweeper := NewSweeper(&config.SweeperConfig{Enabled: false}, db, queue.NewMemory(), zap.NewNop())
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("disabled sweeper must start cleanly: %v", err)
	}
}
