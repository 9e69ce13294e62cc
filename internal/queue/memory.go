package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// RecordedJob is one enqueue captured by the Memory scheduler.
type RecordedJob struct {
	Name    string
	Payload []byte
	Delay   time.Duration
}

// Memory is an in-process Scheduler that records enqueues instead of
// persisting them. Used by tests to assert what the lifecycle controller
// scheduled.
type Memory struct {
	mu   sync.Mutex
	jobs []RecordedJob
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Enqueue(ctx context.Context, name string, payload any) error {
	return m.EnqueueIn(ctx, name, payload, 0)
}

func (m *Memory) EnqueueIn(_ context.Context, name string, payload any, delay time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, RecordedJob{Name: name, Payload: data, Delay: delay})
	return nil
}

// Jobs returns a copy of the recorded enqueues.
func (m *Memory) Jobs() []RecordedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedJob, len(m.jobs))
	copy(out, m.jobs)
	return out
}
