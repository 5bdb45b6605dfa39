package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

type captureBus struct {
	mu     sync.Mutex
	events []contracts.DomainEvent
}

func (b *captureBus) Publish(event contracts.DomainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *captureBus) Subscribe(string, int) (<-chan contracts.DomainEvent, func()) {
	ch := make(chan contracts.DomainEvent)
	close(ch)
	return ch, func() {}
}

func (b *captureBus) Close() error { return nil }

func (b *captureBus) byType(t contracts.DomainEventType) []contracts.DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []contracts.DomainEvent
	for _, event := range b.events {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

func (b *captureBus) phases() []contracts.Phase {
	var out []contracts.Phase
	for _, event := range b.byType(contracts.EventJobPhaseChanged) {
		out = append(out, event.Phase)
	}
	return out
}

type fakeWorktrees struct {
	mu         sync.Mutex
	root       string
	collisions int
	createErr  error
	created    []string
	removed    []string
	removeErr  error
}

func (f *fakeWorktrees) Create(_ context.Context, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.collisions > 0 {
		f.collisions--
		return "", contracts.ErrBranchExists
	}
	f.created = append(f.created, branch)
	return filepath.Join(f.root, filepath.Base(branch)), nil
}

func (f *fakeWorktrees) Remove(_ context.Context, path string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, fmt.Sprintf("%s force=%t", path, force))
	return nil
}

func (f *fakeWorktrees) List(context.Context) ([]contracts.WorktreeInfo, error) { return nil, nil }

type fakeSnapshots struct {
	mu    sync.Mutex
	snaps []contracts.Snapshot
	errs  []error
	i     int
}

func (f *fakeSnapshots) Take(context.Context, string) (contracts.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.i
	f.i++
	if i < len(f.errs) && f.errs[i] != nil {
		return contracts.Snapshot{}, f.errs[i]
	}
	if i < len(f.snaps) {
		return f.snaps[i], nil
	}
	return contracts.Snapshot{Branch: "auto", HeadCommit: "abc"}, nil
}

type scriptedHandle struct {
	mu        sync.Mutex
	chunks    [][]byte
	exit      contracts.AgentExit
	blocking  bool
	cancelled bool
	release   chan struct{}
}

func newScriptedHandle(exit contracts.AgentExit, blocking bool, chunks ...string) *scriptedHandle {
	h := &scriptedHandle{exit: exit, blocking: blocking, release: make(chan struct{})}
	for _, c := range chunks {
		h.chunks = append(h.chunks, []byte(c))
	}
	return h
}

func (h *scriptedHandle) ReadChunk() ([]byte, error) {
	h.mu.Lock()
	if len(h.chunks) > 0 {
		chunk := h.chunks[0]
		h.chunks = h.chunks[1:]
		h.mu.Unlock()
		return chunk, nil
	}
	blocking := h.blocking
	h.mu.Unlock()
	if blocking {
		<-h.release
	}
	return nil, io.EOF
}

func (h *scriptedHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.cancelled {
		h.cancelled = true
		close(h.release)
	}
}

func (h *scriptedHandle) Wait() contracts.AgentResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return contracts.AgentResult{ExitStatus: contracts.AgentExitCancelled}
	}
	return contracts.AgentResult{ExitStatus: h.exit}
}

type fakeAdapter struct {
	handle   contracts.AgentHandle
	spawnErr error
	lastSpec contracts.SpawnSpec
}

func (f *fakeAdapter) Spawn(_ context.Context, spec contracts.SpawnSpec) (contracts.AgentHandle, error) {
	f.lastSpec = spec
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	return f.handle, nil
}

func issueJob(skill contracts.Skill) *contracts.Job {
	n := 42
	return &contracts.Job{
		ID:            "job-1",
		SchemaVersion: contracts.JobSchemaVersion,
		Event: contracts.Event{
			Source:     contracts.SourceGitHub,
			EventType:  "issues.opened",
			DeliveryID: "delivery-1",
		},
		IssueNumber: &n,
		Repository:  "egv/demo",
		Skill:       skill,
		State:       contracts.JobStateProcessing,
	}
}

func newTestOrchestrator(t *testing.T, wt *fakeWorktrees, snaps *fakeSnapshots, adapter contracts.AgentAdapter, options Options) (*Orchestrator, *captureBus) {
	t.Helper()
	bus := &captureBus{}
	if wt.root == "" {
		wt.root = t.TempDir()
	}
	o, err := New(wt, snaps, adapter, bus, options)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o, bus
}

func TestExecuteNoopShortCircuits(t *testing.T) {
	wt := &fakeWorktrees{}
	o, bus := newTestOrchestrator(t, wt, &fakeSnapshots{}, &fakeAdapter{}, Options{})

	result, jobErr := o.Execute(context.Background(), issueJob(contracts.SkillNoop))
	if jobErr != nil {
		t.Fatalf("noop must not fail: %v", jobErr)
	}
	if result.Reason != "no action required" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
	if len(wt.created) != 0 {
		t.Fatal("noop must not create a worktree")
	}
	if got := len(bus.byType(contracts.EventJobCompleted)); got != 1 {
		t.Fatalf("expected one JobCompleted, got %d", got)
	}
	phases := bus.phases()
	if phases[len(phases)-1] != contracts.PhaseDone {
		t.Fatalf("expected final phase done, got %v", phases)
	}
	for _, phase := range phases {
		if phase == contracts.PhaseSetupWorktree {
			t.Fatal("noop must skip worktree phases")
		}
	}
}

func TestExecuteHappyPath(t *testing.T) {
	wt := &fakeWorktrees{}
	snaps := &fakeSnapshots{snaps: []contracts.Snapshot{
		{Branch: "auto", HeadCommit: "abc"},
		{Branch: "auto", HeadCommit: "abc", Untracked: []string{"fix.go"}},
	}}
	adapter := &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitCompleted, false, "thinking\n", "done\n")}
	o, bus := newTestOrchestrator(t, wt, snaps, adapter, Options{})

	job := issueJob(contracts.SkillResolveIssue)
	result, jobErr := o.Execute(context.Background(), job)
	if jobErr != nil {
		t.Fatalf("unexpected failure: %+v", jobErr)
	}
	// The event type goes into the branch verbatim, dots included.
	if matched, err := path.Match("auto-claude/issues.opened-42-*", result.BranchName); err != nil || !matched {
		t.Fatalf("unexpected branch %q", result.BranchName)
	}
	if len(result.BranchName) != len("auto-claude/issues.opened-42-")+8 {
		t.Fatalf("expected 8-char suffix, got %q", result.BranchName)
	}
	if result.InitialDigest == "" || result.FinalDigest == "" || result.OutputDigest == "" {
		t.Fatalf("missing digests in %+v", result)
	}
	if result.OutputBytes != int64(len("thinking\ndone\n")) {
		t.Fatalf("unexpected output byte count %d", result.OutputBytes)
	}
	if len(result.Diff.NewUntracked) != 1 || result.Diff.NewUntracked[0] != "fix.go" {
		t.Fatalf("unexpected diff %+v", result.Diff)
	}
	if !result.WorktreePreserved || result.PreserveReason != "auto cleanup disabled" {
		t.Fatalf("default must preserve the worktree: %+v", result)
	}
	if adapter.lastSpec.Skill != contracts.SkillResolveIssue {
		t.Fatalf("unexpected spawn spec %+v", adapter.lastSpec)
	}
	if got := len(bus.byType(contracts.EventJobAgentOutput)); got != 2 {
		t.Fatalf("expected 2 output events, got %d", got)
	}
}

func TestExecuteAutoCleanupRemovesCleanWorktree(t *testing.T) {
	wt := &fakeWorktrees{}
	snaps := &fakeSnapshots{snaps: []contracts.Snapshot{
		{Branch: "auto", HeadCommit: "abc"},
		{Branch: "auto", HeadCommit: "abc", Untracked: []string{"notes.txt"}},
	}}
	adapter := &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitCompleted, false)}
	o, _ := newTestOrchestrator(t, wt, snaps, adapter, Options{AutoCleanup: true})

	result, jobErr := o.Execute(context.Background(), issueJob(contracts.SkillResolveIssue))
	if jobErr != nil {
		t.Fatalf("unexpected failure: %+v", jobErr)
	}
	if result.WorktreePreserved {
		t.Fatalf("clean tree with auto cleanup should be removed: %+v", result)
	}
	if len(wt.removed) != 1 || !strings.HasSuffix(wt.removed[0], "force=false") {
		t.Fatalf("expected one non-forced removal, got %v", wt.removed)
	}
}

func TestExecutePreservesUnsafeWorktreeDespiteAutoCleanup(t *testing.T) {
	wt := &fakeWorktrees{}
	snaps := &fakeSnapshots{snaps: []contracts.Snapshot{
		{Branch: "auto", HeadCommit: "abc"},
		{Branch: "auto", HeadCommit: "abc", Staged: []string{"fix.go"}},
	}}
	adapter := &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitCompleted, false)}
	o, _ := newTestOrchestrator(t, wt, snaps, adapter, Options{AutoCleanup: true})

	result, jobErr := o.Execute(context.Background(), issueJob(contracts.SkillResolveIssue))
	if jobErr != nil {
		t.Fatalf("unexpected failure: %+v", jobErr)
	}
	if !result.WorktreePreserved {
		t.Fatal("staged changes must preserve the worktree")
	}
	if !strings.Contains(result.PreserveReason, "staged") {
		t.Fatalf("reason should name the blocker, got %q", result.PreserveReason)
	}
	if len(wt.removed) != 0 {
		t.Fatalf("unsafe tree must not be removed, got %v", wt.removed)
	}
}

func TestExecuteAgentTimeout(t *testing.T) {
	timeouts := 0
	wt := &fakeWorktrees{}
	adapter := &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitCompleted, true)}
	o, _ := newTestOrchestrator(t, wt, &fakeSnapshots{}, adapter, Options{
		AgentTimeout:   50 * time.Millisecond,
		OnAgentTimeout: func() { timeouts++ },
	})

	_, jobErr := o.Execute(context.Background(), issueJob(contracts.SkillResolveIssue))
	if jobErr == nil || jobErr.Kind != contracts.ErrKindAgentTimeout {
		t.Fatalf("expected agent_timeout, got %+v", jobErr)
	}
	if !jobErr.Retryable {
		t.Fatal("first timeout must be retryable")
	}
	if timeouts != 1 {
		t.Fatalf("expected one timeout count, got %d", timeouts)
	}
}

func TestExecuteSecondTimeoutIsFatal(t *testing.T) {
	wt := &fakeWorktrees{}
	adapter := &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitCompleted, true)}
	o, _ := newTestOrchestrator(t, wt, &fakeSnapshots{}, adapter, Options{AgentTimeout: 50 * time.Millisecond})

	job := issueJob(contracts.SkillResolveIssue)
	job.Attempts = 1
	job.Error = &contracts.JobError{Kind: contracts.ErrKindAgentTimeout, Message: "previous timeout", Retryable: true}

	_, jobErr := o.Execute(context.Background(), job)
	if jobErr == nil || jobErr.Kind != contracts.ErrKindAgentTimeout {
		t.Fatalf("expected agent_timeout, got %+v", jobErr)
	}
	if jobErr.Retryable {
		t.Fatal("second timeout must be fatal")
	}
}

func TestExecuteOutputOverflowCancelsAgent(t *testing.T) {
	wt := &fakeWorktrees{}
	handle := newScriptedHandle(contracts.AgentExitCompleted, false, strings.Repeat("x", 64))
	adapter := &fakeAdapter{handle: handle}
	o, _ := newTestOrchestrator(t, wt, &fakeSnapshots{}, adapter, Options{OutputMaxBytes: 16})

	result, jobErr := o.Execute(context.Background(), issueJob(contracts.SkillResolveIssue))
	if jobErr == nil || jobErr.Kind != contracts.ErrKindAgentOutputOverflow {
		t.Fatalf("expected agent_output_overflow, got %+v", jobErr)
	}
	if jobErr.Retryable {
		t.Fatal("overflow is fatal")
	}
	handle.mu.Lock()
	cancelled := handle.cancelled
	handle.mu.Unlock()
	if !cancelled {
		t.Fatal("overflow must cancel the agent")
	}
	if !result.WorktreePreserved {
		t.Fatal("failure must preserve the worktree")
	}
}

func TestExecuteBranchCollisionRetries(t *testing.T) {
	wt := &fakeWorktrees{collisions: 2}
	adapter := &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitCompleted, false)}
	o, _ := newTestOrchestrator(t, wt, &fakeSnapshots{}, adapter, Options{})

	_, jobErr := o.Execute(context.Background(), issueJob(contracts.SkillResolveIssue))
	if jobErr != nil {
		t.Fatalf("expected success after collision retries, got %+v", jobErr)
	}
	if len(wt.created) != 1 {
		t.Fatalf("expected one successful create, got %v", wt.created)
	}
}

func TestExecuteWorktreeCreateFailure(t *testing.T) {
	wt := &fakeWorktrees{createErr: errors.New("disk full")}
	o, bus := newTestOrchestrator(t, wt, &fakeSnapshots{}, &fakeAdapter{}, Options{})

	_, jobErr := o.Execute(context.Background(), issueJob(contracts.SkillResolveIssue))
	if jobErr == nil || jobErr.Kind != contracts.ErrKindWorktreeCreate {
		t.Fatalf("expected worktree_create_failed, got %+v", jobErr)
	}
	if !jobErr.Retryable {
		t.Fatal("worktree creation failures are retryable")
	}
	if got := len(bus.byType(contracts.EventJobFailed)); got != 1 {
		t.Fatalf("expected one JobFailed, got %d", got)
	}
}

func TestExecuteSpawnFailureAndCrash(t *testing.T) {
	wt := &fakeWorktrees{}
	adapter := &fakeAdapter{spawnErr: errors.New("binary not found")}
	o, _ := newTestOrchestrator(t, wt, &fakeSnapshots{}, adapter, Options{})

	_, jobErr := o.Execute(context.Background(), issueJob(contracts.SkillResolveIssue))
	if jobErr == nil || jobErr.Kind != contracts.ErrKindAgentSpawnFailed {
		t.Fatalf("expected agent_spawn_failed, got %+v", jobErr)
	}

	adapter = &fakeAdapter{handle: newScriptedHandle(contracts.AgentExitFailed, false, "boom\n")}
	o, _ = newTestOrchestrator(t, &fakeWorktrees{}, &fakeSnapshots{}, adapter, Options{})
	_, jobErr = o.Execute(context.Background(), issueJob(contracts.SkillResolveIssue))
	if jobErr == nil || jobErr.Kind != contracts.ErrKindAgentCrashed {
		t.Fatalf("expected agent_crashed, got %+v", jobErr)
	}
	if jobErr.Retryable {
		t.Fatal("crashes are fatal")
	}
}
