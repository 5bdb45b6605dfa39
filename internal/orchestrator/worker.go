package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

const (
	DefaultWorkers      = 4
	DefaultLease        = 5 * time.Minute
	DefaultPollInterval = time.Second
)

// Pool runs the dequeue loop. Each worker holds at most one job, renews its
// lease at a third of the lease window, and reports the terminal state back
// to the queue. A separate ticker reclaims leases abandoned by dead workers.
type Pool struct {
	queue contracts.JobQueue
	orch  *Orchestrator

	workers      int
	lease        time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	onCompleted  func(result string)
	onBacklog    func(size int)
}

type PoolOptions struct {
	Workers      int
	Lease        time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	// OnJobCompleted feeds jobs_completed_total with "completed" or the
	// error kind.
	OnJobCompleted func(result string)
	// OnBacklog feeds the queue_backlog gauge on every poll.
	OnBacklog func(size int)
}

func NewPool(queue contracts.JobQueue, orch *Orchestrator, options PoolOptions) (*Pool, error) {
	if queue == nil || orch == nil {
		return nil, fmt.Errorf("pool requires a queue and an orchestrator")
	}
	workers := options.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	lease := options.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	poll := options.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:        queue,
		orch:         orch,
		workers:      workers,
		lease:        lease,
		pollInterval: poll,
		logger:       logger.With("component", "worker-pool"),
		onCompleted:  options.OnJobCompleted,
		onBacklog:    options.OnBacklog,
	}, nil
}

// Run blocks until ctx is cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reclaimLoop(ctx)
	}()

	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.lease / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := p.queue.ReclaimExpired(ctx)
			if err != nil {
				p.logger.Warn("lease reclaim failed", "error", err)
				continue
			}
			if len(reclaimed) > 0 {
				p.logger.Info("reclaimed expired leases", "jobs", reclaimed)
			}
		}
	}
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) {
	log := p.logger.With("worker_id", workerID)
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx, workerID, p.lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("dequeue failed", "error", err)
			p.sleep(ctx)
			continue
		}
		if p.onBacklog != nil {
			if backlog, err := p.queue.Backlog(ctx); err == nil {
				p.onBacklog(backlog)
			}
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}
		p.runJob(ctx, workerID, job, log)
	}
}

func (p *Pool) runJob(ctx context.Context, workerID string, job *contracts.Job, log *slog.Logger) {
	log = log.With("job_id", job.ID, "attempt", job.Attempts)
	log.Info("job leased")

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		ticker := time.NewTicker(p.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				if err := p.queue.Heartbeat(heartbeatCtx, job.ID, workerID); err != nil {
					log.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}()

	result, jobErr := p.orch.Execute(ctx, job)
	stopHeartbeat()
	hbWG.Wait()

	// Terminal reporting uses a fresh context: a shutting-down worker still
	// records what happened.
	reportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if jobErr != nil {
		log.Warn("job failed", "kind", jobErr.Kind, "retryable", jobErr.Retryable, "error", jobErr.Message)
		if err := p.queue.Fail(reportCtx, job.ID, workerID, *jobErr); err != nil {
			log.Error("recording failure failed", "error", err)
		}
		if p.onCompleted != nil {
			p.onCompleted(string(jobErr.Kind))
		}
		return
	}
	log.Info("job completed", "duration", result.Duration, "preserved", result.WorktreePreserved)
	if err := p.queue.Complete(reportCtx, job.ID, workerID, result); err != nil {
		log.Error("recording completion failed", "error", err)
	}
	if p.onCompleted != nil {
		p.onCompleted("completed")
	}
}

func (p *Pool) sleep(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
