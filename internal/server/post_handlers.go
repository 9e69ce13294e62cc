package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quillcms/quill/internal/auth"
	"github.com/quillcms/quill/internal/service"
)

type createPostRequest struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	Status       string `json:"status"`
	ScheduledFor string `json:"scheduledFor"`
}

type updatePostRequest struct {
	Title        *string `json:"title"`
	Content      *string `json:"content"`
	Status       *string `json:"status"`
	ScheduledFor *string `json:"scheduledFor"`
}

type schedulePostRequest struct {
	ScheduledFor string `json:"scheduledFor"`
}

func (s *Server) actor(c *gin.Context) (service.Actor, bool) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return service.Actor{}, false
	}
	return service.Actor{UserID: identity.UserID, Role: identity.Role}, true
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, false
	}
	return uint(id), true
}

// parseScheduledFor accepts an RFC 3339 timestamp string from request bodies.
func parseScheduledFor(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) handleCreatePost(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}

	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	scheduledFor, err := parseScheduledFor(req.ScheduledFor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": gin.H{"scheduledFor": "must be a valid RFC 3339 timestamp"}})
		return
	}

	post, err := s.Posts.Create(c.Request.Context(), service.CreatePostInput{
		Title:        req.Title,
		Content:      req.Content,
		Status:       req.Status,
		ScheduledFor: scheduledFor,
	}, actor)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, post)
}

func (s *Server) handleListMyPosts(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}

	filter := service.PostFilter{
		Status: c.Query("status"),
		Search: c.Query("search"),
		Page:   queryInt(c, "page"),
		Limit:  queryInt(c, "limit"),
	}

	result, err := s.Posts.ListMine(c.Request.Context(), filter, actor)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse(result))
}

func (s *Server) handleListPublished(c *gin.Context) {
	filter := service.PostFilter{
		Search: c.Query("search"),
		Page:   queryInt(c, "page"),
		Limit:  queryInt(c, "limit"),
	}

	result, err := s.Posts.ListPublished(c.Request.Context(), filter)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse(result))
}

func (s *Server) handleGetPublished(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	post, err := s.Posts.GetPublished(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

func (s *Server) handleGetPost(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	post, err := s.Posts.Get(c.Request.Context(), id, actor)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

func (s *Server) handleUpdatePost(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	input := service.UpdatePostInput{
		Title:   req.Title,
		Content: req.Content,
		Status:  req.Status,
	}
	if req.ScheduledFor != nil {
		scheduledFor, err := parseScheduledFor(*req.ScheduledFor)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": gin.H{"scheduledFor": "must be a valid RFC 3339 timestamp"}})
			return
		}
		input.ScheduledFor = scheduledFor
	}

	post, err := s.Posts.Update(c.Request.Context(), id, input, actor)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

func (s *Server) handleDeletePost(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := s.Posts.Delete(c.Request.Context(), id, actor); err != nil {
		s.renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handlePublishPost(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	post, err := s.Posts.Publish(c.Request.Context(), id, actor)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

func (s *Server) handleSchedulePost(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req schedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	scheduledFor, err := parseScheduledFor(req.ScheduledFor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": gin.H{"scheduledFor": "must be a valid RFC 3339 timestamp"}})
		return
	}

	// A missing timestamp is passed through as the zero time so the service
	// can run its ownership check before rejecting the input.
	var at time.Time
	if scheduledFor != nil {
		at = *scheduledFor
	}

	post, err := s.Posts.Schedule(c.Request.Context(), id, at, actor)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

func (s *Server) handleListRevisions(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	revisions, err := s.Posts.Revisions(c.Request.Context(), id, actor)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": revisions})
}

func (s *Server) handleRestoreRevision(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	revisionID, ok := pathID(c, "revisionId")
	if !ok {
		return
	}

	post, err := s.Posts.Restore(c.Request.Context(), id, revisionID, actor)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

func listResponse(result *service.PostListResult) gin.H {
	return gin.H{
		"data": result.Posts,
		"meta": gin.H{
			"total":      result.Total,
			"page":       result.Page,
			"limit":      result.Limit,
			"totalPages": result.TotalPages,
		},
	}
}
