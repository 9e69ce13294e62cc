package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quillcms/quill/internal/cache"
	"github.com/quillcms/quill/internal/config"
	"github.com/quillcms/quill/internal/models"
	"github.com/quillcms/quill/internal/queue"
	"github.com/quillcms/quill/internal/server"
	"github.com/quillcms/quill/internal/service"
	"github.com/quillcms/quill/pkg/logger"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill - blogging backend with scheduled publication",
	Long:  `Quill serves a blogging/CMS API with drafts, revisions and a delayed-job pipeline for scheduled publication.`,
	RunE:  runServer,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone job worker",
	Long:  `Runs the delayed-job worker and the scheduled-post sweeper without the HTTP API.`,
	RunE:  runWorker,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Quill %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServer(*cobra.Command, []string) error {
	cfg, appLogger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Quill server", zap.String("version", version))

	// Create server
	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	waitForShutdown(ctx, appLogger)

	// Graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func runWorker(*cobra.Command, []string) error {
	cfg, appLogger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Quill worker", zap.String("version", version))

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	var c cache.Cache
	if cfg.Redis.Enabled {
		c = cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, appLogger)
	} else {
		c = cache.NewMemory()
	}

	pollInterval, err := time.ParseDuration(cfg.Queue.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll interval: %w", err)
	}

	q := queue.NewQueue(db, appLogger, cfg.Queue.MaxAttempts)
	posts := service.NewPostService(db, c, q, appLogger)

	worker := queue.NewWorker(q, appLogger, cfg.Queue.Workers, pollInterval)
	if err := worker.Register(models.JobPublishPost, posts.HandlePublishJob); err != nil {
		return err
	}
	sweeper := service.NewSweeper(&cfg.Sweeper, db, q, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	waitForShutdown(ctx, appLogger)

	sweeper.Stop()
	worker.Stop()
	appLogger.Info("Worker exited")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, appLogger, nil
}

func waitForShutdown(ctx context.Context, appLogger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down...")
	case <-ctx.Done():
		appLogger.Info("Context cancelled")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
