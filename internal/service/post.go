package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quillcms/quill/internal/cache"
	"github.com/quillcms/quill/internal/models"
	"github.com/quillcms/quill/internal/queue"
	"github.com/quillcms/quill/pkg/util"
)

const (
	minTitleLen   = 3
	minContentLen = 10

	defaultPageSize = 10
	maxPageSize     = 100
)

// Actor identifies who is performing an operation. Ownership checks pass for
// the post's author and for admins.
type Actor struct {
	UserID uint
	Role   string
}

func (a Actor) owns(post *models.Post) bool {
	return post.AuthorID == a.UserID || a.Role == models.RoleAdmin
}

// PublishPostPayload is the payload of a publish-post job.
type PublishPostPayload struct {
	PostID uint `json:"postId"`
}

// CreatePostInput carries the fields accepted when creating a post.
type CreatePostInput struct {
	Title        string
	Content      string
	Status       string
	ScheduledFor *time.Time
}

// UpdatePostInput is a partial patch; nil fields are left untouched.
type UpdatePostInput struct {
	Title        *string
	Content      *string
	Status       *string
	ScheduledFor *time.Time
}

// PostFilter is the validated query shape for listings.
type PostFilter struct {
	Status string
	Search string
	Page   int
	Limit  int
}

func (f *PostFilter) normalize() error {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Status != "" && !models.ValidStatus(f.Status) {
		return newValidationError("status", "unknown status")
	}
	f.Search = strings.TrimSpace(f.Search)
	return nil
}

// PostListResult is a page of posts plus pagination metadata.
type PostListResult struct {
	Posts      []models.Post `json:"data"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

// PostService is the post lifecycle controller. It enforces status
// transitions and ownership, snapshots revisions, invalidates cache entries
// and hands scheduled publications to the job queue. The database is the
// single source of truth; cache and queue are side channels.
type PostService struct {
	db        *gorm.DB
	cache     cache.Cache
	scheduler queue.Scheduler
	logger    *zap.Logger
}

func NewPostService(db *gorm.DB, c cache.Cache, scheduler queue.Scheduler, logger *zap.Logger) *PostService {
	return &PostService{
		db:        db,
		cache:     c,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Create validates input, derives a unique slug and persists the post. A
// SCHEDULED post with a future scheduled_for also gets a delayed publish job.
func (s *PostService) Create(ctx context.Context, input CreatePostInput, actor Actor) (*models.Post, error) {
	if actor.UserID == 0 {
		return nil, ErrUnauthorized
	}
	if err := validatePostFields(input.Title, input.Content); err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = models.StatusDraft
	}
	if !models.ValidStatus(status) {
		return nil, newValidationError("status", "unknown status")
	}

	now := time.Now()
	post := models.Post{
		Title:        input.Title,
		Content:      input.Content,
		Status:       status,
		AuthorID:     actor.UserID,
		ScheduledFor: input.ScheduledFor,
	}

	switch status {
	case models.StatusPublished:
		post.PublishedAt = &now
	case models.StatusScheduled:
		if input.ScheduledFor == nil || input.ScheduledFor.IsZero() {
			return nil, newValidationError("scheduledFor", "required for scheduled posts")
		}
		if !input.ScheduledFor.After(now) {
			return nil, newValidationError("scheduledFor", "must be in the future")
		}
	}

	slug, err := s.uniqueSlug(ctx, input.Title)
	if err != nil {
		return nil, err
	}
	post.Slug = slug

	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	if post.Status == models.StatusScheduled {
		s.enqueuePublish(ctx, &post)
	}

	s.logger.Info("Post created",
		zap.Uint("post_id", post.ID),
		zap.String("slug", post.Slug),
		zap.String("status", post.Status))
	return &post, nil
}

// Update snapshots the current title/content as a revision and applies the
// patch, both inside one transaction so the snapshot always reflects
// pre-update state.
func (s *PostService) Update(ctx context.Context, id uint, input UpdatePostInput, actor Actor) (*models.Post, error) {
	post, err := s.getOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	if input.Title != nil || input.Content != nil {
		title := post.Title
		content := post.Content
		if input.Title != nil {
			title = *input.Title
		}
		if input.Content != nil {
			content = *input.Content
		}
		if err := validatePostFields(title, content); err != nil {
			return nil, err
		}
	}
	if input.Status != nil && !models.ValidStatus(*input.Status) {
		return nil, newValidationError("status", "unknown status")
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := snapshotRevision(tx, post, actor.UserID); err != nil {
			return err
		}

		if input.Title != nil {
			post.Title = *input.Title
		}
		if input.Content != nil {
			post.Content = *input.Content
		}
		if input.ScheduledFor != nil {
			post.ScheduledFor = input.ScheduledFor
		}
		if input.Status != nil {
			post.Status = *input.Status
			switch *input.Status {
			case models.StatusPublished:
				post.PublishedAt = &now
			case models.StatusScheduled:
				if post.ScheduledFor == nil {
					return newValidationError("scheduledFor", "required for scheduled posts")
				}
			}
		}

		return tx.Save(post).Error
	})
	if err != nil {
		return nil, err
	}

	if input.Status != nil && *input.Status == models.StatusScheduled {
		if post.ScheduledFor != nil && post.ScheduledFor.After(time.Now()) {
			s.enqueuePublish(ctx, post)
		}
	}

	s.cache.Del(ctx, cache.PostKey(post.ID))
	return post, nil
}

// Delete removes a post and its revisions.
func (s *PostService) Delete(ctx context.Context, id uint, actor Actor) error {
	post, err := s.getOwned(ctx, id, actor)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.PostRevision{}).Error; err != nil {
			return err
		}
		return tx.Delete(post).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	s.cache.Del(ctx, cache.PostKey(post.ID))
	s.logger.Info("Post deleted", zap.Uint("post_id", post.ID))
	return nil
}

// Publish forces a post into PUBLISHED. Publishing an already-published post
// just refreshes its published_at timestamp.
func (s *PostService) Publish(ctx context.Context, id uint, actor Actor) (*models.Post, error) {
	post, err := s.getOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	post.Status = models.StatusPublished
	post.PublishedAt = &now
	if err := s.db.WithContext(ctx).Save(post).Error; err != nil {
		return nil, fmt.Errorf("failed to publish post: %w", err)
	}

	s.cache.Del(ctx, cache.PostKey(post.ID))
	s.logger.Info("Post published", zap.Uint("post_id", post.ID))
	return post, nil
}

// Schedule marks a post SCHEDULED for the given time and enqueues a delayed
// publish job when the time is still in the future. A past time is persisted
// as-is and left to the check-scheduled sweep.
func (s *PostService) Schedule(ctx context.Context, id uint, scheduledFor time.Time, actor Actor) (*models.Post, error) {
	post, err := s.getOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if scheduledFor.IsZero() {
		return nil, newValidationError("scheduledFor", "required")
	}

	post.Status = models.StatusScheduled
	post.ScheduledFor = &scheduledFor
	if err := s.db.WithContext(ctx).Save(post).Error; err != nil {
		return nil, fmt.Errorf("failed to schedule post: %w", err)
	}

	s.enqueuePublish(ctx, post)
	s.cache.Del(ctx, cache.PostKey(post.ID))
	s.logger.Info("Post scheduled",
		zap.Uint("post_id", post.ID),
		zap.Time("scheduled_for", scheduledFor))
	return post, nil
}

// Restore overwrites the post's title/content from an earlier revision. The
// current state is snapshotted first so the restore itself can be undone, and
// the post always comes back as a DRAFT.
func (s *PostService) Restore(ctx context.Context, postID, revisionID uint, actor Actor) (*models.Post, error) {
	post, err := s.getOwned(ctx, postID, actor)
	if err != nil {
		return nil, err
	}

	var revision models.PostRevision
	if err := s.db.WithContext(ctx).
		Where("id = ? AND post_id = ?", revisionID, postID).
		First(&revision).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := snapshotRevision(tx, post, actor.UserID); err != nil {
			return err
		}
		post.Title = revision.Title
		post.Content = revision.Content
		post.Status = models.StatusDraft
		return tx.Save(post).Error
	})
	if err != nil {
		return nil, err
	}

	s.cache.Del(ctx, cache.PostKey(post.ID))
	s.logger.Info("Post restored from revision",
		zap.Uint("post_id", post.ID),
		zap.Uint("revision_id", revision.ID))
	return post, nil
}

// Revisions lists a post's snapshots, most recent first.
func (s *PostService) Revisions(ctx context.Context, postID uint, actor Actor) ([]models.PostRevision, error) {
	if _, err := s.getOwned(ctx, postID, actor); err != nil {
		return nil, err
	}

	var revisions []models.PostRevision
	if err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at DESC, id DESC").
		Find(&revisions).Error; err != nil {
		return nil, err
	}
	return revisions, nil
}

// Get returns a post regardless of status, with ownership enforced.
func (s *PostService) Get(ctx context.Context, id uint, actor Actor) (*models.Post, error) {
	return s.getOwned(ctx, id, actor)
}

// GetPublished serves a single published post through the cache. Cache
// failures fall back to the store.
func (s *PostService) GetPublished(ctx context.Context, id uint) (*models.Post, error) {
	key := cache.PostKey(id)
	if payload, err := s.cache.Get(ctx, key); err == nil {
		var post models.Post
		if err := json.Unmarshal([]byte(payload), &post); err == nil {
			return &post, nil
		}
		s.cache.Del(ctx, key)
	}

	var post models.Post
	err := s.db.WithContext(ctx).
		Preload("Author").
		Where("id = ? AND status = ?", id, models.StatusPublished).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if payload, err := json.Marshal(&post); err == nil {
		s.cache.Set(ctx, key, string(payload), cache.PostTTL)
	}
	return &post, nil
}

// ListPublished returns a page of published posts. Only the unfiltered
// listing is cached; search queries and pages beyond defaults always hit the
// store. Listing entries are never invalidated on write, they age out by TTL.
func (s *PostService) ListPublished(ctx context.Context, filter PostFilter) (*PostListResult, error) {
	filter.Status = models.StatusPublished
	if err := filter.normalize(); err != nil {
		return nil, err
	}

	cacheable := filter.Page == 1 && filter.Search == ""
	key := cache.ListingKey(filter.Page, filter.Limit)
	if cacheable {
		if payload, err := s.cache.Get(ctx, key); err == nil {
			var result PostListResult
			if err := json.Unmarshal([]byte(payload), &result); err == nil {
				return &result, nil
			}
		}
	}

	result, err := s.list(ctx, filter, 0)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if payload, err := json.Marshal(result); err == nil {
			s.cache.Set(ctx, key, string(payload), cache.ListingTTL)
		}
	}
	return result, nil
}

// ListMine returns the actor's own posts with an optional status filter.
func (s *PostService) ListMine(ctx context.Context, filter PostFilter, actor Actor) (*PostListResult, error) {
	if err := filter.normalize(); err != nil {
		return nil, err
	}
	return s.list(ctx, filter, actor.UserID)
}

// PublishScheduled is the publish-post job handler entry point. It re-reads
// current post state so a job firing after deletion or an earlier publish
// no-ops instead of erroring. Safe to run concurrently and repeatedly.
func (s *PostService) PublishScheduled(ctx context.Context, postID uint) error {
	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Info("Skipping publish, post no longer exists", zap.Uint("post_id", postID))
			return nil
		}
		return err
	}

	if post.Status == models.StatusPublished {
		s.logger.Debug("Skipping publish, post already published", zap.Uint("post_id", postID))
		return nil
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&post).Updates(map[string]any{
		"status":       models.StatusPublished,
		"published_at": now,
	}).Error; err != nil {
		return fmt.Errorf("failed to publish post %d: %w", postID, err)
	}

	s.cache.Del(ctx, cache.PostKey(postID))
	s.logger.Info("Scheduled post published", zap.Uint("post_id", postID))
	return nil
}

// HandlePublishJob adapts PublishScheduled to the queue handler signature.
func (s *PostService) HandlePublishJob(ctx context.Context, payload []byte) error {
	var p PublishPostPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bad publish-post payload: %w", err)
	}
	return s.PublishScheduled(ctx, p.PostID)
}

func (s *PostService) list(ctx context.Context, filter PostFilter, authorID uint) (*PostListResult, error) {
	query := s.db.WithContext(ctx).Model(&models.Post{})
	if authorID != 0 {
		query = query.Where("author_id = ?", authorID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("title LIKE ? OR content LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var posts []models.Post
	if err := query.
		Preload("Author").
		Order("created_at DESC, id DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&posts).Error; err != nil {
		return nil, err
	}

	totalPages := int((total + int64(filter.Limit) - 1) / int64(filter.Limit))
	return &PostListResult{
		Posts:      posts,
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: totalPages,
	}, nil
}

func (s *PostService) getOwned(ctx context.Context, id uint, actor Actor) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !actor.owns(&post) {
		return nil, ErrForbidden
	}
	return &post, nil
}

// enqueuePublish hands a scheduled post to the queue. Zero or negative
// delays are not enqueued; the sweep or the web path covers those. Enqueue
// failure is logged, never surfaced: the SCHEDULED status is already
// persisted and the sweep will pick the post up.
func (s *PostService) enqueuePublish(ctx context.Context, post *models.Post) {
	if post.ScheduledFor == nil {
		return
	}
	delay := time.Until(*post.ScheduledFor)
	if delay <= 0 {
		return
	}
	err := s.scheduler.EnqueueIn(ctx, models.JobPublishPost, PublishPostPayload{PostID: post.ID}, delay)
	if err != nil {
		s.logger.Error("Failed to enqueue publish job, relying on sweep",
			zap.Uint("post_id", post.ID),
			zap.Error(err))
	}
}

// uniqueSlug derives a slug from the title and disambiguates collisions with
// a millisecond timestamp suffix.
func (s *PostService) uniqueSlug(ctx context.Context, title string) (string, error) {
	slug := util.Slugify(title)
	if slug == "" {
		slug = "post"
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("slug = ?", slug).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		slug = fmt.Sprintf("%s-%d", slug, time.Now().UnixMilli())
	}
	return slug, nil
}

// snapshotRevision appends the post's current title/content to the revision
// log. Runs inside the caller's transaction.
func snapshotRevision(tx *gorm.DB, post *models.Post, actorID uint) error {
	revision := models.PostRevision{
		PostID:   post.ID,
		Title:    post.Title,
		Content:  post.Content,
		AuthorID: actorID,
	}
	if err := tx.Create(&revision).Error; err != nil {
		return fmt.Errorf("failed to snapshot revision: %w", err)
	}
	return nil
}

func validatePostFields(title, content string) error {
	fields := make(map[string]string)
	if utf8.RuneCountInString(title) < minTitleLen {
		fields["title"] = fmt.Sprintf("must be at least %d characters", minTitleLen)
	}
	if utf8.RuneCountInString(content) < minContentLen {
		fields["content"] = fmt.Sprintf("must be at least %d characters", minContentLen)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
