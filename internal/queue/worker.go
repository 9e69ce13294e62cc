package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc processes one job execution. The raw JSON payload is passed
// through unchanged from EnqueueIn.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Worker runs a pool of goroutines that poll the queue and dispatch jobs to
// registered handlers. Job execution is decoupled from the HTTP request that
// enqueued the job; several worker processes may poll the same table.
type Worker struct {
	queue        *Queue
	logger       *zap.Logger
	workers      int
	pollInterval time.Duration

	mu       sync.Mutex
	handlers map[string]HandlerFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWorker(queue *Queue, logger *zap.Logger, workers int, pollInterval time.Duration) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		queue:        queue,
		logger:       logger,
		workers:      workers,
		pollInterval: pollInterval,
		handlers:     make(map[string]HandlerFunc),
		stopCh:       make(chan struct{}),
	}
}

// Register binds a handler to a job name. Registering the same name twice is
// a programming error.
func (w *Worker) Register(name string, handler HandlerFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.handlers[name]; exists {
		return fmt.Errorf("handler for job %s already registered", name)
	}
	w.handlers[name] = handler
	return nil
}

func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting queue worker",
		zap.Int("workers", w.workers),
		zap.Duration("poll_interval", w.pollInterval))

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
	return nil
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
	w.logger.Info("Queue worker shutdown completed")
}

func (w *Worker) run(ctx context.Context, id int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is due before sleeping again.
		for w.processOne(ctx) {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
		}

		select {
		case <-ticker.C:
		case <-w.stopCh:
			w.logger.Debug("Worker stopped", zap.Int("worker", id))
			return
		case <-ctx.Done():
			w.logger.Debug("Worker context cancelled", zap.Int("worker", id))
			return
		}
	}
}

// processOne claims and executes a single job. It reports whether a job was
// found, so callers can keep draining a backlog.
func (w *Worker) processOne(ctx context.Context) bool {
	job, err := w.queue.Claim(ctx)
	if err != nil {
		if !errors.Is(err, ErrEmpty) && ctx.Err() == nil {
			w.logger.Error("Failed to claim job", zap.Error(err))
		}
		return false
	}

	w.mu.Lock()
	handler, ok := w.handlers[job.Name]
	w.mu.Unlock()
	if !ok {
		w.logger.Error("No handler for job", zap.String("name", job.Name), zap.Uint("job_id", job.ID))
		if err := w.queue.Fail(ctx, job, fmt.Errorf("no handler registered for %s", job.Name)); err != nil {
			w.logger.Error("Failed to record job failure", zap.Error(err))
		}
		return true
	}

	start := time.Now()
	if err := handler(ctx, job.Payload); err != nil {
		if failErr := w.queue.Fail(ctx, job, err); failErr != nil {
			w.logger.Error("Failed to record job failure", zap.Error(failErr))
		}
		return true
	}

	if err := w.queue.Complete(ctx, job); err != nil {
		w.logger.Error("Failed to mark job completed", zap.Uint("job_id", job.ID), zap.Error(err))
		return true
	}

	w.logger.Info("Job completed",
		zap.Uint("job_id", job.ID),
		zap.String("name", job.Name),
		zap.Duration("duration", time.Since(start)))
	return true
}
