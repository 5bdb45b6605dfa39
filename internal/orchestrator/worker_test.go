package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/queue"
)

func waitForState(t *testing.T, q contracts.JobQueue, jobID string, state contracts.JobState) *contracts.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Get(context.Background(), jobID)
		if err == nil && job.State == state {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := q.Get(context.Background(), jobID)
	t.Fatalf("job never reached %s, stuck at %+v", state, job)
	return nil
}

func TestPoolCompletesJob(t *testing.T) {
	q := queue.NewMemory(queue.MemoryOptions{})
	adapter := &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitCompleted, false, "ok\n")}
	o, _ := newTestOrchestrator(t, &fakeWorktrees{}, &fakeSnapshots{}, adapter, Options{})

	var results []string
	pool, err := NewPool(q, o, PoolOptions{
		Workers:        1,
		Lease:          time.Minute,
		PollInterval:   10 * time.Millisecond,
		OnJobCompleted: func(result string) { results = append(results, result) },
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	job := issueJob(contracts.SkillResolveIssue)
	job.State = contracts.JobStateQueued
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	done := waitForState(t, q, job.ID, contracts.JobStateDone)
	if done.Result == nil || done.Result.BranchName == "" {
		t.Fatalf("completed job missing result: %+v", done)
	}

	cancel()
	select {
	case <-poolDone:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not drain after cancel")
	}
	if len(results) != 1 || results[0] != "completed" {
		t.Fatalf("unexpected completion counts %v", results)
	}
}

func TestPoolRecordsFatalFailure(t *testing.T) {
	q := queue.NewMemory(queue.MemoryOptions{})
	adapter := &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitFailed, false)}
	o, _ := newTestOrchestrator(t, &fakeWorktrees{}, &fakeSnapshots{}, adapter, Options{})

	pool, err := NewPool(q, o, PoolOptions{Workers: 1, Lease: time.Minute, PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	job := issueJob(contracts.SkillResolveIssue)
	job.ID = "job-crash"
	job.State = contracts.JobStateQueued
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	failed := waitForState(t, q, job.ID, contracts.JobStateFailed)
	if failed.Error == nil || failed.Error.Kind != contracts.ErrKindAgentCrashed {
		t.Fatalf("expected agent_crashed on the record, got %+v", failed.Error)
	}
}

func TestPoolRequeuesRetryableFailure(t *testing.T) {
	q := queue.NewMemory(queue.MemoryOptions{})
	// Snapshot errors are retryable; the second attempt succeeds.
	snaps := &fakeSnapshots{errs: []error{context.DeadlineExceeded}}
	adapter := &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitCompleted, false)}
	o, _ := newTestOrchestrator(t, &fakeWorktrees{}, snaps, adapter, Options{})

	pool, err := NewPool(q, o, PoolOptions{Workers: 1, Lease: time.Minute, PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	job := issueJob(contracts.SkillResolveIssue)
	job.ID = "job-retry"
	job.State = contracts.JobStateQueued
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	done := waitForState(t, q, job.ID, contracts.JobStateDone)
	if done.Attempts != 1 {
		t.Fatalf("expected one requeue before success, got %d attempts", done.Attempts)
	}
	if done.Error != nil {
		t.Fatalf("completion must clear the error, got %+v", done.Error)
	}
}
