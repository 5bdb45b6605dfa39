// Package orchestrator runs one job end to end: it materializes an
// isolated worktree, snapshots it, drives the agent, snapshots again, and
// decides whether the worktree may be cleaned up. Doubt always resolves to
// preservation.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/snapshot"
)

const (
	DefaultAgentTimeout   = 900 * time.Second
	DefaultOutputMaxBytes = 1 << 20
	branchPrefix          = "auto-claude"
	maxBranchRetries      = 3
)

type Orchestrator struct {
	worktrees contracts.WorktreeManager
	snapshots contracts.Snapshotter
	adapter   contracts.AgentAdapter
	bus       contracts.Bus

	agentTimeout   time.Duration
	outputMaxBytes int64
	autoCleanup    bool
	cleanupMode    contracts.CleanupMode
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string
	onTimeout      func()
}

type Options struct {
	AgentTimeout   time.Duration
	OutputMaxBytes int64
	// AutoCleanup removes a clean worktree after success. Default is off:
	// the worktree is preserved for inspection.
	AutoCleanup bool
	CleanupMode contracts.CleanupMode
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
	// OnAgentTimeout feeds agent_timeouts_total.
	OnAgentTimeout func()
}

func New(worktrees contracts.WorktreeManager, snapshots contracts.Snapshotter, adapter contracts.AgentAdapter, bus contracts.Bus, options Options) (*Orchestrator, error) {
	if worktrees == nil || snapshots == nil || adapter == nil || bus == nil {
		return nil, fmt.Errorf("orchestrator requires worktrees, snapshots, adapter, and bus")
	}
	timeout := options.AgentTimeout
	if timeout <= 0 {
		timeout = DefaultAgentTimeout
	}
	maxBytes := options.OutputMaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultOutputMaxBytes
	}
	mode := options.CleanupMode
	if mode == "" {
		mode = contracts.CleanupModeLenient
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := options.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Orchestrator{
		worktrees:      worktrees,
		snapshots:      snapshots,
		adapter:        adapter,
		bus:            bus,
		agentTimeout:   timeout,
		outputMaxBytes: maxBytes,
		autoCleanup:    options.AutoCleanup,
		cleanupMode:    mode,
		logger:         logger.With("component", "orchestrator"),
		now:            now,
		newID:          newID,
		onTimeout:      options.OnAgentTimeout,
	}, nil
}

// Execute runs the phase machine for one leased job. On success the result
// is returned with a nil error; on failure the JobError carries the kind and
// retryability the worker loop hands to the queue.
func (o *Orchestrator) Execute(ctx context.Context, job *contracts.Job) (contracts.JobResult, *contracts.JobError) {
	started := o.now()
	log := o.logger.With("job_id", job.ID, "skill", job.Skill)

	o.publish(contracts.DomainEvent{Type: contracts.EventJobStarted, JobID: job.ID, Source: job.Event.Source, EventName: job.Event.EventType})
	o.phase(job.ID, contracts.PhaseStart)

	// Dispatch
	o.phase(job.ID, contracts.PhaseDispatch)
	if job.Skill == contracts.SkillNoop {
		result := contracts.JobResult{Reason: "no action required", Duration: o.now().Sub(started)}
		o.finalize(job.ID, result)
		return result, nil
	}

	// SetupWorktree
	o.phase(job.ID, contracts.PhaseSetupWorktree)
	branch, path, err := o.createWorktree(ctx, job)
	if err != nil {
		log.Error("worktree creation failed", "error", err)
		return o.fail(job, started, contracts.NewJobError(contracts.ErrKindWorktreeCreate, err.Error()))
	}
	job.BranchName = branch
	job.WorktreePath = path
	log = log.With("branch", branch)

	// SnapshotInitial
	o.phase(job.ID, contracts.PhaseSnapshotInitial)
	initial, err := o.snapshots.Take(ctx, path)
	if err != nil {
		return o.fail(job, started, contracts.NewJobError(contracts.ErrKindSnapshotFailed, fmt.Sprintf("initial snapshot: %v", err)))
	}
	job.Initial = &initial
	if !initial.Clean() {
		// Recorded, never fatal.
		log.Warn("initial worktree state not clean",
			"staged", len(initial.Staged), "unstaged", len(initial.Unstaged), "conflicts", len(initial.Conflicts))
	}

	// RunAgent
	o.phase(job.ID, contracts.PhaseRunAgent)
	run, jobErr := o.runAgent(ctx, job)
	if jobErr != nil {
		return o.fail(job, started, *jobErr)
	}

	// SnapshotFinal
	o.phase(job.ID, contracts.PhaseSnapshotFinal)
	final, err := o.snapshots.Take(ctx, path)
	if err != nil {
		return o.fail(job, started, contracts.NewJobError(contracts.ErrKindSnapshotFailed, fmt.Sprintf("final snapshot: %v", err)))
	}
	job.Final = &final

	// Validate
	o.phase(job.ID, contracts.PhaseValidate)
	diff := snapshot.Diff(initial, final)
	preserved, preserveReason := o.validate(ctx, job, final, log)

	// Finalize
	result := contracts.JobResult{
		Reason:            "agent run finished",
		BranchName:        branch,
		WorktreePath:      path,
		WorktreePreserved: preserved,
		PreserveReason:    preserveReason,
		InitialDigest:     initial.Digest(),
		FinalDigest:       final.Digest(),
		OutputDigest:      run.outputDigest,
		OutputBytes:       run.outputBytes,
		Diff:              diff,
		Duration:          o.now().Sub(started),
	}
	o.finalize(job.ID, result)
	return result, nil
}

func (o *Orchestrator) createWorktree(ctx context.Context, job *contracts.Job) (branch, path string, err error) {
	issue := "0"
	if job.IssueNumber != nil {
		issue = strconv.Itoa(*job.IssueNumber)
	}
	for attempt := 0; attempt < maxBranchRetries; attempt++ {
		branch = fmt.Sprintf("%s/%s-%s-%s", branchPrefix, job.Event.EventType, issue, shortID(o.newID()))
		path, err = o.worktrees.Create(ctx, branch)
		if err == nil {
			return branch, path, nil
		}
		if !errors.Is(err, contracts.ErrBranchExists) && !errors.Is(err, contracts.ErrWorktreeExists) {
			return "", "", err
		}
		// Collision: a fresh suffix on the next round.
	}
	return "", "", fmt.Errorf("branch collisions exhausted after %d attempts: %w", maxBranchRetries, err)
}

type agentRun struct {
	outputDigest string
	outputBytes  int64
}

func (o *Orchestrator) runAgent(ctx context.Context, job *contracts.Job) (agentRun, *contracts.JobError) {
	spawnCtx, cancelSpawn := context.WithCancel(ctx)
	defer cancelSpawn()

	handle, err := o.adapter.Spawn(spawnCtx, contracts.SpawnSpec{
		WorktreePath: job.WorktreePath,
		Skill:        job.Skill,
		Context: contracts.AgentContext{
			Source:      job.Event.Source,
			EventType:   job.Event.EventType,
			Repository:  job.Repository,
			IssueNumber: job.IssueNumber,
			Payload:     job.Event.RawPayload,
		},
	})
	if err != nil {
		return agentRun{}, jobErrPtr(contracts.NewJobError(contracts.ErrKindAgentSpawnFailed, err.Error()))
	}

	timer := time.NewTimer(o.agentTimeout)
	defer timer.Stop()

	type readResult struct {
		digest hash.Hash
		total  int64
		over   bool
	}
	done := make(chan readResult, 1)

	go func() {
		digest := sha256.New()
		var total int64
		var over bool
		for {
			chunk, err := handle.ReadChunk()
			if len(chunk) > 0 && !over {
				total += int64(len(chunk))
				digest.Write(chunk)
				if total > o.outputMaxBytes {
					over = true
					handle.Cancel()
				} else {
					o.publish(contracts.DomainEvent{
						Type:  contracts.EventJobAgentOutput,
						JobID: job.ID,
						Chunk: append([]byte(nil), chunk...),
					})
				}
			}
			if err != nil {
				if err != io.EOF {
					o.logger.Warn("agent output read error", "job_id", job.ID, "error", err)
				}
				done <- readResult{digest: digest, total: total, over: over}
				return
			}
		}
	}()

	var timedOut bool
	var read readResult
	ctxDone := ctx.Done()
	timerC := timer.C
waitLoop:
	for {
		select {
		case <-ctxDone:
			handle.Cancel()
			ctxDone = nil
		case <-timerC:
			timedOut = true
			if o.onTimeout != nil {
				o.onTimeout()
			}
			handle.Cancel()
			timerC = nil
		case read = <-done:
			break waitLoop
		}
	}
	result := handle.Wait()

	run := agentRun{
		outputDigest: hex.EncodeToString(read.digest.Sum(nil)),
		outputBytes:  read.total,
	}
	switch {
	case timedOut:
		jobErr := contracts.NewJobError(contracts.ErrKindAgentTimeout,
			fmt.Sprintf("agent exceeded %s wall clock", o.agentTimeout))
		// One timeout retry; a second timeout on the same job is fatal.
		if job.Error != nil && job.Error.Kind == contracts.ErrKindAgentTimeout {
			jobErr.Retryable = false
		}
		return run, jobErrPtr(jobErr)
	case read.over:
		return run, jobErrPtr(contracts.NewJobError(contracts.ErrKindAgentOutputOverflow,
			fmt.Sprintf("agent output exceeded %d bytes", o.outputMaxBytes)))
	case ctx.Err() != nil:
		return run, jobErrPtr(contracts.NewJobError(contracts.ErrKindInternal, "orchestration cancelled"))
	case result.ExitStatus == contracts.AgentExitCompleted:
		return run, nil
	default:
		return run, jobErrPtr(contracts.NewJobError(contracts.ErrKindAgentCrashed,
			fmt.Sprintf("agent exit status %s", result.ExitStatus)))
	}
}

// validate applies the safe-cleanup predicate. The worktree is removed only
// when the predicate holds and auto-cleanup is enabled; any doubt or removal
// trouble preserves it. validation_failed never fails the job.
func (o *Orchestrator) validate(ctx context.Context, job *contracts.Job, final contracts.Snapshot, log *slog.Logger) (preserved bool, reason string) {
	mode := job.CleanupMode
	if mode == "" {
		mode = o.cleanupMode
	}
	if !snapshot.SafeToRemove(final, mode) {
		blockers := snapshot.RemovalBlockers(final, mode)
		return true, "unsafe to remove: " + strings.Join(blockers, ", ")
	}
	if !o.autoCleanup {
		return true, "auto cleanup disabled"
	}
	if err := o.worktrees.Remove(ctx, job.WorktreePath, false); err != nil {
		log.Warn("worktree removal failed, preserving", "error", err)
		return true, "removal failed: " + err.Error()
	}
	return false, ""
}

func (o *Orchestrator) fail(job *contracts.Job, started time.Time, jobErr contracts.JobError) (contracts.JobResult, *contracts.JobError) {
	o.phase(job.ID, contracts.PhaseFailed)
	o.publish(contracts.DomainEvent{
		Type:  contracts.EventJobFailed,
		JobID: job.ID,
		Err:   &jobErr,
	})
	result := contracts.JobResult{
		BranchName:        job.BranchName,
		WorktreePath:      job.WorktreePath,
		WorktreePreserved: job.WorktreePath != "",
		PreserveReason:    "job failed",
		Duration:          o.now().Sub(started),
	}
	return result, &jobErr
}

func (o *Orchestrator) finalize(jobID string, result contracts.JobResult) {
	o.phase(jobID, contracts.PhaseFinalize)
	o.publish(contracts.DomainEvent{
		Type:   contracts.EventJobCompleted,
		JobID:  jobID,
		Result: &result,
	})
	o.phase(jobID, contracts.PhaseDone)
}

func (o *Orchestrator) phase(jobID string, phase contracts.Phase) {
	o.publish(contracts.DomainEvent{Type: contracts.EventJobPhaseChanged, JobID: jobID, Phase: phase})
}

func (o *Orchestrator) publish(event contracts.DomainEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = o.now()
	}
	o.bus.Publish(event)
}

func jobErrPtr(jobErr contracts.JobError) *contracts.JobError {
	return &jobErr
}

func shortID(id string) string {
	clean := strings.ReplaceAll(id, "-", "")
	if len(clean) > 8 {
		clean = clean[:8]
	}
	return clean
}
