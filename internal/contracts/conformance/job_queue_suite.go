// Package conformance holds driver-independent contract suites. Every queue
// driver must pass RunJobQueueSuite regardless of its storage engine.
package conformance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

// Clock is a deterministic time source for fixtures. Drivers receive
// Clock.Now as their clock; the suite advances it to simulate lease expiry.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type JobQueueFixture struct {
	Queue   contracts.JobQueue
	Advance func(d time.Duration)
}

// JobQueueFactory builds a fresh queue per scenario with an attempt budget
// of three.
type JobQueueFactory func(t *testing.T) JobQueueFixture

type JobQueueConfig struct {
	Backend  string
	NewQueue JobQueueFactory
}

func RunJobQueueSuite(t *testing.T, cfg JobQueueConfig) {
	t.Helper()

	if strings.TrimSpace(cfg.Backend) == "" {
		t.Fatal("conformance backend is required")
	}
	if cfg.NewQueue == nil {
		t.Fatal("conformance queue factory is required")
	}

	ctx := context.Background()

	t.Run("enqueue deduplicates by source and delivery id", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		first := suiteJob("job-1", contracts.SourceGitHub, "d-001")
		if err := fixture.Queue.Enqueue(ctx, first); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		replay := suiteJob("job-2", contracts.SourceGitHub, "d-001")
		if err := fixture.Queue.Enqueue(ctx, replay); !errors.Is(err, contracts.ErrDuplicateDelivery) {
			t.Fatalf("expected ErrDuplicateDelivery, got %v", err)
		}

		jobID, ok, err := fixture.Queue.ExistsByDelivery(ctx, contracts.SourceGitHub, "d-001")
		if err != nil || !ok {
			t.Fatalf("expected delivery to resolve, got ok=%v err=%v", ok, err)
		}
		if jobID != "job-1" {
			t.Fatalf("expected original job id job-1, got %q", jobID)
		}

		otherSource := suiteJob("job-3", contracts.SourceTrello, "d-001")
		if err := fixture.Queue.Enqueue(ctx, otherSource); err != nil {
			t.Fatalf("same delivery id under another source must enqueue: %v", err)
		}

		backlog, err := fixture.Queue.Backlog(ctx)
		if err != nil {
			t.Fatalf("backlog failed: %v", err)
		}
		if backlog != 2 {
			t.Fatalf("expected backlog 2, got %d", backlog)
		}
	})

	t.Run("dequeue leases the oldest queued job", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		if err := fixture.Queue.Enqueue(ctx, suiteJob("job-a", contracts.SourceGitHub, "d-a")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		fixture.Advance(time.Second)
		if err := fixture.Queue.Enqueue(ctx, suiteJob("job-b", contracts.SourceGitHub, "d-b")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		leased, err := fixture.Queue.Dequeue(ctx, "worker-1", time.Minute)
		if err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		if leased == nil || leased.ID != "job-a" {
			t.Fatalf("expected oldest job-a, got %+v", leased)
		}
		if leased.State != contracts.JobStateProcessing || leased.WorkerID != "worker-1" {
			t.Fatalf("expected processing lease for worker-1, got %+v", leased)
		}
		if leased.LeaseExpiresAt == nil {
			t.Fatalf("expected lease expiry to be set")
		}

		second, err := fixture.Queue.Dequeue(ctx, "worker-2", time.Minute)
		if err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		if second == nil || second.ID != "job-b" {
			t.Fatalf("expected job-b for second worker, got %+v", second)
		}

		empty, err := fixture.Queue.Dequeue(ctx, "worker-3", time.Minute)
		if err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		if empty != nil {
			t.Fatalf("expected empty queue, got %+v", empty)
		}
	})

	t.Run("only the lease holder may mutate", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		if err := fixture.Queue.Enqueue(ctx, suiteJob("job-l", contracts.SourceGitHub, "d-l")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := fixture.Queue.Dequeue(ctx, "worker-1", time.Minute); err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}

		if err := fixture.Queue.Heartbeat(ctx, "job-l", "worker-2"); !errors.Is(err, contracts.ErrNotLeaseHolder) {
			t.Fatalf("expected ErrNotLeaseHolder from heartbeat, got %v", err)
		}
		if err := fixture.Queue.Complete(ctx, "job-l", "worker-2", contracts.JobResult{}); !errors.Is(err, contracts.ErrNotLeaseHolder) {
			t.Fatalf("expected ErrNotLeaseHolder from complete, got %v", err)
		}
		if err := fixture.Queue.Fail(ctx, "job-l", "worker-2", contracts.NewJobError(contracts.ErrKindInternal, "x")); !errors.Is(err, contracts.ErrNotLeaseHolder) {
			t.Fatalf("expected ErrNotLeaseHolder from fail, got %v", err)
		}

		result := contracts.JobResult{Reason: "all good", WorktreePreserved: true}
		if err := fixture.Queue.Complete(ctx, "job-l", "worker-1", result); err != nil {
			t.Fatalf("complete failed: %v", err)
		}
		job, err := fixture.Queue.Get(ctx, "job-l")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if job.State != contracts.JobStateDone {
			t.Fatalf("expected done, got %s", job.State)
		}
		if job.Result == nil || job.Result.Reason != "all good" {
			t.Fatalf("expected recorded result, got %+v", job.Result)
		}

		if err := fixture.Queue.Complete(ctx, "job-l", "worker-1", result); !errors.Is(err, contracts.ErrJobNotProcessing) {
			t.Fatalf("expected ErrJobNotProcessing on double complete, got %v", err)
		}
	})

	t.Run("retryable failure requeues with attempts incremented", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		if err := fixture.Queue.Enqueue(ctx, suiteJob("job-r", contracts.SourceGitHub, "d-r")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := fixture.Queue.Dequeue(ctx, "worker-1", time.Minute); err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}

		jobErr := contracts.NewJobError(contracts.ErrKindAgentTimeout, "agent exceeded budget")
		if err := fixture.Queue.Fail(ctx, "job-r", "worker-1", jobErr); err != nil {
			t.Fatalf("fail failed: %v", err)
		}

		job, err := fixture.Queue.Get(ctx, "job-r")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if job.State != contracts.JobStateQueued {
			t.Fatalf("expected requeued job, got %s", job.State)
		}
		if job.Attempts != 1 {
			t.Fatalf("expected attempts=1, got %d", job.Attempts)
		}
		if job.Error == nil || job.Error.Kind != contracts.ErrKindAgentTimeout {
			t.Fatalf("expected recorded error, got %+v", job.Error)
		}
		if job.WorkerID != "" {
			t.Fatalf("expected worker cleared, got %q", job.WorkerID)
		}

		again, err := fixture.Queue.Dequeue(ctx, "worker-2", time.Minute)
		if err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		if again == nil || again.ID != "job-r" {
			t.Fatalf("expected requeued job available, got %+v", again)
		}
	})

	t.Run("fatal failure parks the job", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		if err := fixture.Queue.Enqueue(ctx, suiteJob("job-f", contracts.SourceGitHub, "d-f")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := fixture.Queue.Dequeue(ctx, "worker-1", time.Minute); err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		if err := fixture.Queue.Fail(ctx, "job-f", "worker-1", contracts.NewJobError(contracts.ErrKindAgentCrashed, "exit 1")); err != nil {
			t.Fatalf("fail failed: %v", err)
		}

		job, err := fixture.Queue.Get(ctx, "job-f")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if job.State != contracts.JobStateFailed {
			t.Fatalf("expected failed, got %s", job.State)
		}

		empty, err := fixture.Queue.Dequeue(ctx, "worker-2", time.Minute)
		if err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		if empty != nil {
			t.Fatalf("expected no dequeueable job, got %+v", empty)
		}
	})

	t.Run("attempt budget forces fatal", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		if err := fixture.Queue.Enqueue(ctx, suiteJob("job-x", contracts.SourceGitHub, "d-x")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		retryable := contracts.NewJobError(contracts.ErrKindWorktreeCreate, "branch collision")
		for attempt := 1; attempt <= 3; attempt++ {
			leased, err := fixture.Queue.Dequeue(ctx, "worker-1", time.Minute)
			if err != nil {
				t.Fatalf("dequeue %d failed: %v", attempt, err)
			}
			if leased == nil {
				t.Fatalf("expected job available on attempt %d", attempt)
			}
			if err := fixture.Queue.Fail(ctx, "job-x", "worker-1", retryable); err != nil {
				t.Fatalf("fail %d failed: %v", attempt, err)
			}
		}

		job, err := fixture.Queue.Get(ctx, "job-x")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if job.State != contracts.JobStateFailed {
			t.Fatalf("expected budget exhaustion to park the job, got %s", job.State)
		}
	})

	t.Run("expired leases are reclaimed exactly once", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		if err := fixture.Queue.Enqueue(ctx, suiteJob("job-e", contracts.SourceGitHub, "d-e")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := fixture.Queue.Dequeue(ctx, "worker-1", time.Minute); err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}

		fixture.Advance(61 * time.Second)
		reclaimed, err := fixture.Queue.ReclaimExpired(ctx)
		if err != nil {
			t.Fatalf("reclaim failed: %v", err)
		}
		if len(reclaimed) != 1 || reclaimed[0] != "job-e" {
			t.Fatalf("expected [job-e], got %v", reclaimed)
		}

		job, err := fixture.Queue.Get(ctx, "job-e")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if job.State != contracts.JobStateQueued || job.Attempts != 1 || job.WorkerID != "" {
			t.Fatalf("expected requeued job with attempts=1, got %+v", job)
		}

		second, err := fixture.Queue.ReclaimExpired(ctx)
		if err != nil {
			t.Fatalf("second reclaim failed: %v", err)
		}
		if len(second) != 0 {
			t.Fatalf("expected idempotent reclaim, got %v", second)
		}
	})

	t.Run("heartbeat extends the lease", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		if err := fixture.Queue.Enqueue(ctx, suiteJob("job-h", contracts.SourceGitHub, "d-h")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := fixture.Queue.Dequeue(ctx, "worker-1", time.Minute); err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}

		fixture.Advance(40 * time.Second)
		if err := fixture.Queue.Heartbeat(ctx, "job-h", "worker-1"); err != nil {
			t.Fatalf("heartbeat failed: %v", err)
		}

		// Past the original expiry, inside the extended one.
		fixture.Advance(40 * time.Second)
		reclaimed, err := fixture.Queue.ReclaimExpired(ctx)
		if err != nil {
			t.Fatalf("reclaim failed: %v", err)
		}
		if len(reclaimed) != 0 {
			t.Fatalf("expected heartbeat to keep the lease, got %v", reclaimed)
		}

		fixture.Advance(70 * time.Second)
		reclaimed, err = fixture.Queue.ReclaimExpired(ctx)
		if err != nil {
			t.Fatalf("reclaim failed: %v", err)
		}
		if len(reclaimed) != 1 {
			t.Fatalf("expected lease to lapse eventually, got %v", reclaimed)
		}
	})

	t.Run("replayed delivery resolves after completion", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		if err := fixture.Queue.Enqueue(ctx, suiteJob("job-d", contracts.SourceGitHub, "d-d")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := fixture.Queue.Dequeue(ctx, "worker-1", time.Minute); err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		if err := fixture.Queue.Complete(ctx, "job-d", "worker-1", contracts.JobResult{}); err != nil {
			t.Fatalf("complete failed: %v", err)
		}

		jobID, ok, err := fixture.Queue.ExistsByDelivery(ctx, contracts.SourceGitHub, "d-d")
		if err != nil || !ok || jobID != "job-d" {
			t.Fatalf("expected completed delivery to stay deduplicated, got id=%q ok=%v err=%v", jobID, ok, err)
		}
	})

	t.Run("list filters by state and orders recent first", func(t *testing.T) {
		fixture := queueFixture(t, cfg)
		for i := 1; i <= 3; i++ {
			job := suiteJob(fmt.Sprintf("job-%d", i), contracts.SourceGitHub, fmt.Sprintf("d-%d", i))
			if err := fixture.Queue.Enqueue(ctx, job); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
			fixture.Advance(time.Second)
		}
		if _, err := fixture.Queue.Dequeue(ctx, "worker-1", time.Minute); err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}

		queued, err := fixture.Queue.List(ctx, contracts.JobStateQueued, 0)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(queued) != 2 {
			t.Fatalf("expected 2 queued jobs, got %d", len(queued))
		}
		if queued[0].ID != "job-3" || queued[1].ID != "job-2" {
			t.Fatalf("expected recent-first order, got %s then %s", queued[0].ID, queued[1].ID)
		}

		all, err := fixture.Queue.List(ctx, "", 2)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected limit to apply, got %d", len(all))
		}
	})
}

func queueFixture(t *testing.T, cfg JobQueueConfig) JobQueueFixture {
	t.Helper()
	fixture := cfg.NewQueue(t)
	if fixture.Queue == nil {
		t.Fatal("conformance queue is required")
	}
	if fixture.Advance == nil {
		t.Fatal("conformance clock control is required")
	}
	t.Cleanup(func() {
		_ = fixture.Queue.Close()
	})
	return fixture
}

func suiteJob(id string, source contracts.Source, deliveryID string) *contracts.Job {
	return &contracts.Job{
		ID: id,
		Event: contracts.Event{
			Source:     source,
			EventType:  "issues.opened",
			DeliveryID: deliveryID,
			RawPayload: []byte(`{"action":"opened"}`),
		},
		Skill: contracts.SkillResolveIssue,
	}
}
