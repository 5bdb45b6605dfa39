package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

const DefaultMaxAttempts = 3

type memoryRecord struct {
	job   *contracts.Job
	lease time.Duration
}

// Memory is the in-process queue driver. It carries the full contract
// semantics so tests and dev mode behave exactly like the durable drivers,
// minus the durability.
type Memory struct {
	mu          sync.Mutex
	jobs        map[string]*memoryRecord
	byDelivery  map[string]string
	maxAttempts int
	now         func() time.Time
}

type MemoryOptions struct {
	MaxAttempts int
	Now         func() time.Time
}

func NewMemory(options MemoryOptions) *Memory {
	maxAttempts := options.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		jobs:        map[string]*memoryRecord{},
		byDelivery:  map[string]string{},
		maxAttempts: maxAttempts,
		now:         now,
	}
}

func deliveryKey(source contracts.Source, deliveryID string) string {
	return string(source) + "\x00" + deliveryID
}

func (m *Memory) Enqueue(_ context.Context, job *contracts.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := deliveryKey(job.Event.Source, job.Event.DeliveryID)
	if _, exists := m.byDelivery[key]; exists {
		return contracts.ErrDuplicateDelivery
	}

	stored := job.Clone()
	now := m.now().UTC()
	stored.State = contracts.JobStateQueued
	if stored.SchemaVersion == 0 {
		stored.SchemaVersion = contracts.JobSchemaVersion
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	m.jobs[stored.ID] = &memoryRecord{job: stored}
	m.byDelivery[key] = stored.ID
	return nil
}

func (m *Memory) ExistsByDelivery(_ context.Context, source contracts.Source, deliveryID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobID, ok := m.byDelivery[deliveryKey(source, deliveryID)]
	return jobID, ok, nil
}

func (m *Memory) Dequeue(_ context.Context, workerID string, lease time.Duration) (*contracts.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidate *memoryRecord
	for _, rec := range m.jobs {
		if rec.job.State != contracts.JobStateQueued {
			continue
		}
		if candidate == nil || olderThan(rec.job, candidate.job) {
			candidate = rec
		}
	}
	if candidate == nil {
		return nil, nil
	}

	now := m.now().UTC()
	expires := now.Add(lease)
	candidate.job.State = contracts.JobStateProcessing
	candidate.job.WorkerID = workerID
	candidate.job.LeaseExpiresAt = &expires
	candidate.job.UpdatedAt = now
	candidate.lease = lease
	return candidate.job.Clone(), nil
}

func olderThan(a, b *contracts.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (m *Memory) Heartbeat(_ context.Context, jobID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.leasedLocked(jobID, workerID)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	expires := now.Add(rec.lease)
	rec.job.LeaseExpiresAt = &expires
	rec.job.UpdatedAt = now
	return nil
}

func (m *Memory) Complete(_ context.Context, jobID, workerID string, result contracts.JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.leasedLocked(jobID, workerID)
	if err != nil {
		return err
	}
	rec.job.State = contracts.JobStateDone
	rec.job.Result = &result
	rec.job.Error = nil
	rec.job.LeaseExpiresAt = nil
	rec.job.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) Fail(_ context.Context, jobID, workerID string, jobErr contracts.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.leasedLocked(jobID, workerID)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	rec.job.Error = &jobErr
	rec.job.UpdatedAt = now
	rec.job.LeaseExpiresAt = nil

	if jobErr.Retryable && rec.job.Attempts+1 < m.maxAttempts {
		rec.job.State = contracts.JobStateQueued
		rec.job.Attempts++
		rec.job.WorkerID = ""
		return nil
	}
	rec.job.State = contracts.JobStateFailed
	return nil
}

func (m *Memory) ReclaimExpired(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	var reclaimed []string
	for _, rec := range m.jobs {
		if rec.job.State != contracts.JobStateProcessing {
			continue
		}
		if rec.job.LeaseExpiresAt == nil || rec.job.LeaseExpiresAt.After(now) {
			continue
		}
		rec.job.State = contracts.JobStateQueued
		rec.job.Attempts++
		rec.job.WorkerID = ""
		rec.job.LeaseExpiresAt = nil
		rec.job.UpdatedAt = now
		reclaimed = append(reclaimed, rec.job.ID)
	}
	sort.Strings(reclaimed)
	return reclaimed, nil
}

func (m *Memory) Get(_ context.Context, jobID string) (*contracts.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("get job %s: %w", jobID, contracts.ErrJobNotFound)
	}
	return rec.job.Clone(), nil
}

func (m *Memory) List(_ context.Context, state contracts.JobState, limit int) ([]*contracts.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*contracts.Job
	for _, rec := range m.jobs {
		if state != "" && rec.job.State != state {
			continue
		}
		out = append(out, rec.job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Backlog(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.jobs {
		if rec.job.State == contracts.JobStateQueued {
			count++
		}
	}
	return count, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) leasedLocked(jobID, workerID string) (*memoryRecord, error) {
	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, contracts.ErrJobNotFound)
	}
	if rec.job.State != contracts.JobStateProcessing {
		return nil, fmt.Errorf("job %s in state %s: %w", jobID, rec.job.State, contracts.ErrJobNotProcessing)
	}
	if rec.job.WorkerID != workerID {
		return nil, fmt.Errorf("job %s held by %s: %w", jobID, rec.job.WorkerID, contracts.ErrNotLeaseHolder)
	}
	return rec, nil
}
