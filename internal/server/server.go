package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quillcms/quill/internal/auth"
	"github.com/quillcms/quill/internal/cache"
	"github.com/quillcms/quill/internal/config"
	"github.com/quillcms/quill/internal/models"
	"github.com/quillcms/quill/internal/queue"
	"github.com/quillcms/quill/internal/service"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Auth    *auth.Manager
	Posts   *service.PostService
	Users   *service.UserService
	Worker  *queue.Worker
	Sweeper *service.Sweeper
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var c cache.Cache
	if cfg.Redis.Enabled {
		c = cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	} else {
		c = cache.NewMemory()
	}

	q := queue.NewQueue(db, logger, cfg.Queue.MaxAttempts)

	srv, err := newServer(cfg, logger, db, c, q)
	if err != nil {
		return nil, err
	}

	// The API process can run an embedded worker so small deployments need a
	// single binary; larger ones run `quill worker` separately.
	if cfg.Queue.Embedded {
		pollInterval, err := time.ParseDuration(cfg.Queue.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll interval: %w", err)
		}
		worker := queue.NewWorker(q, logger, cfg.Queue.Workers, pollInterval)
		if err := worker.Register(models.JobPublishPost, srv.Posts.HandlePublishJob); err != nil {
			return nil, err
		}
		srv.Worker = worker
		srv.Sweeper = service.NewSweeper(&cfg.Sweeper, db, q, logger)
	}

	return srv, nil
}

func newServer(cfg *config.Config, logger *zap.Logger, db *gorm.DB, c cache.Cache, scheduler queue.Scheduler) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	tokenTTL, err := time.ParseDuration(cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid token ttl: %w", err)
	}

	// Initialize services
	authManager := auth.NewManager(cfg.Auth.JWTSecret, tokenTTL, logger)
	postService := service.NewPostService(db, c, scheduler, logger)
	userService := service.NewUserService(db, logger)

	// Create router
	router := gin.New()

	srv := &Server{
		Config: cfg,
		DB:     db,
		Router: router,
		Logger: logger,
		Auth:   authManager,
		Posts:  postService,
		Users:  userService,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	if s.Config.Upload.ServeStatic {
		s.Router.Static(s.Config.Upload.PublicPath, s.Config.Upload.Dir)
	}

	// API routes
	api := s.Router.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", s.handleRegister)
			authGroup.POST("/login", s.handleLogin)
		}

		// Public read path
		api.GET("/posts/published", s.handleListPublished)
		api.GET("/posts/published/:id", s.handleGetPublished)

		// Authoring surface
		authed := api.Group("", s.Auth.Middleware())
		{
			authed.POST("/posts", s.handleCreatePost)
			authed.GET("/posts", s.handleListMyPosts)
			authed.GET("/posts/:id", s.handleGetPost)
			authed.PUT("/posts/:id", s.handleUpdatePost)
			authed.DELETE("/posts/:id", s.handleDeletePost)
			authed.POST("/posts/:id/publish", s.handlePublishPost)
			authed.POST("/posts/:id/schedule", s.handleSchedulePost)
			authed.GET("/posts/:id/revisions", s.handleListRevisions)
			authed.POST("/posts/:id/revisions/:revisionId/restore", s.handleRestoreRevision)
			authed.POST("/media/upload", s.handleUploadMedia)
		}
	}
}

// renderError maps service errors onto the API's error taxonomy.
func (s *Server) renderError(c *gin.Context, err error) {
	if ve, ok := service.AsValidationError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": ve.Fields})
		return
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	default:
		s.Logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start background machinery first
	if s.Worker != nil {
		if err := s.Worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}
	if s.Sweeper != nil {
		if err := s.Sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop background machinery first
	if s.Sweeper != nil {
		s.Sweeper.Stop()
	}
	if s.Worker != nil {
		s.Worker.Stop()
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
