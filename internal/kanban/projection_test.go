package kanban

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

// fakePort records calls and can fail the first N attempts of any operation.
type fakePort struct {
	lists     []contracts.KanbanList
	calls     []string
	failFirst int
	attempts  int
	nextCard  int
}

func (f *fakePort) maybeFail(op string) error {
	f.attempts++
	if f.attempts <= f.failFirst {
		return fmt.Errorf("%s: simulated 503", op)
	}
	return nil
}

func (f *fakePort) CreateCard(_ context.Context, listID, title, _ string) (string, error) {
	if err := f.maybeFail("create"); err != nil {
		return "", err
	}
	f.nextCard++
	cardID := fmt.Sprintf("card-%d", f.nextCard)
	f.calls = append(f.calls, fmt.Sprintf("create %s %q -> %s", listID, title, cardID))
	return cardID, nil
}

func (f *fakePort) AddComment(_ context.Context, cardID, text string) error {
	if err := f.maybeFail("comment"); err != nil {
		return err
	}
	f.calls = append(f.calls, fmt.Sprintf("comment %s %q", cardID, firstLine(text)))
	return nil
}

func (f *fakePort) MoveCard(_ context.Context, cardID, listID string) error {
	if err := f.maybeFail("move"); err != nil {
		return err
	}
	f.calls = append(f.calls, fmt.Sprintf("move %s -> %s", cardID, listID))
	return nil
}

func (f *fakePort) ListLists(_ context.Context, _ string) ([]contracts.KanbanList, error) {
	if err := f.maybeFail("lists"); err != nil {
		return nil, err
	}
	return f.lists, nil
}

func (f *fakePort) MapListToStatus(name string) contracts.CardStatus {
	switch strings.ToLower(name) {
	case "to do":
		return contracts.CardStatusTodo
	case "in progress":
		return contracts.CardStatusInProgress
	case "review":
		return contracts.CardStatusReview
	case "done":
		return contracts.CardStatusDone
	case "blocked":
		return contracts.CardStatusBlocked
	default:
		return contracts.CardStatusUnknown
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func fullBoard() []contracts.KanbanList {
	return []contracts.KanbanList{
		{ID: "l-todo", Name: "To Do"},
		{ID: "l-prog", Name: "In Progress"},
		{ID: "l-rev", Name: "Review"},
		{ID: "l-done", Name: "Done"},
		{ID: "l-block", Name: "Blocked"},
	}
}

func newTestProjection(t *testing.T, port contracts.KanbanPort, options ProjectionOptions) *Projection {
	t.Helper()
	options.BoardID = "board-1"
	if options.Sleep == nil {
		options.Sleep = func(context.Context, time.Duration) error { return nil }
	}
	p, err := NewProjection(port, options)
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}
	if err := p.resolveLists(context.Background()); err != nil {
		t.Fatalf("resolve lists: %v", err)
	}
	return p
}

func TestProjectionLifecycle(t *testing.T) {
	port := &fakePort{lists: fullBoard()}
	p := newTestProjection(t, port, ProjectionOptions{})
	ctx := context.Background()

	p.apply(ctx, contracts.DomainEvent{
		Type:      contracts.EventIssueReceived,
		JobID:     "job-1",
		Source:    contracts.SourceGitHub,
		EventName: "issues.opened",
		Metadata:  map[string]string{"title": "Crash on save", "repository": "egv/demo"},
	})
	p.apply(ctx, contracts.DomainEvent{
		Type: contracts.EventJobPhaseChanged, JobID: "job-1", Phase: contracts.PhaseRunAgent,
	})
	p.apply(ctx, contracts.DomainEvent{
		Type: contracts.EventJobPhaseChanged, JobID: "job-1", Phase: contracts.PhaseValidate,
	})
	p.apply(ctx, contracts.DomainEvent{
		Type: contracts.EventJobCompleted, JobID: "job-1",
		Result: &contracts.JobResult{Reason: "agent finished", BranchName: "auto-claude/x"},
	})

	want := []string{
		`create l-todo "Crash on save" -> card-1`,
		`comment card-1 "Phase: run_agent"`,
		`move card-1 -> l-prog`,
		`comment card-1 "Phase: validate"`,
		`move card-1 -> l-rev`,
		`comment card-1 "Completed: agent finished"`,
		`move card-1 -> l-done`,
	}
	if len(port.calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), port.calls)
	}
	for i := range want {
		if port.calls[i] != want[i] {
			t.Fatalf("call %d: expected %q, got %q", i, want[i], port.calls[i])
		}
	}
}

func TestProjectionFailureMovesToBlocked(t *testing.T) {
	port := &fakePort{lists: fullBoard()}
	p := newTestProjection(t, port, ProjectionOptions{})
	ctx := context.Background()

	p.apply(ctx, contracts.DomainEvent{
		Type: contracts.EventIssueReceived, JobID: "job-1",
		Source: contracts.SourceGitHub, EventName: "issues.opened",
	})
	p.apply(ctx, contracts.DomainEvent{
		Type: contracts.EventJobFailed, JobID: "job-1",
		Err: &contracts.JobError{Kind: contracts.ErrKindAgentTimeout, Message: "agent exceeded 900s"},
	})

	last := port.calls[len(port.calls)-1]
	if last != "move card-1 -> l-block" {
		t.Fatalf("expected move to blocked, got %q", last)
	}
	if _, ok := p.cards["job-1"]; ok {
		t.Fatal("terminal event should forget the card mapping")
	}
}

func TestProjectionRetriesTransientErrors(t *testing.T) {
	retries := 0
	port := &fakePort{lists: fullBoard()}
	p := newTestProjection(t, port, ProjectionOptions{OnRetry: func() { retries++ }})

	// Fail the next two attempts; the third create succeeds.
	port.failFirst = port.attempts + 2
	p.apply(context.Background(), contracts.DomainEvent{
		Type: contracts.EventIssueReceived, JobID: "job-1",
		Source: contracts.SourceGitHub, EventName: "issues.opened",
	})

	if retries != 2 {
		t.Fatalf("expected 2 retries, got %d", retries)
	}
	if p.cards["job-1"] != "card-1" {
		t.Fatalf("expected card mapping after retries, got %+v", p.cards)
	}
}

func TestProjectionGivesUpAfterMaxAttempts(t *testing.T) {
	gaveUp := 0
	port := &fakePort{lists: fullBoard()}
	p := newTestProjection(t, port, ProjectionOptions{OnGiveUp: func() { gaveUp++ }})

	port.failFirst = port.attempts + 100
	p.apply(context.Background(), contracts.DomainEvent{
		Type: contracts.EventIssueReceived, JobID: "job-1",
		Source: contracts.SourceGitHub, EventName: "issues.opened",
	})

	if gaveUp != 1 {
		t.Fatalf("expected one give-up, got %d", gaveUp)
	}
	if _, ok := p.cards["job-1"]; ok {
		t.Fatal("no card mapping should exist after exhaustion")
	}

	// Later events for the unmapped job are silently skipped, never an error.
	port.failFirst = 0
	before := len(port.calls)
	p.apply(context.Background(), contracts.DomainEvent{
		Type: contracts.EventJobPhaseChanged, JobID: "job-1", Phase: contracts.PhaseRunAgent,
	})
	if len(port.calls) != before {
		t.Fatalf("expected no board calls for unmapped job, got %v", port.calls[before:])
	}
}

func TestProjectionSkipsStatusWithoutList(t *testing.T) {
	// Board has no Review list and one unrecognized list.
	port := &fakePort{lists: []contracts.KanbanList{
		{ID: "l-todo", Name: "To Do"},
		{ID: "l-prog", Name: "In Progress"},
		{ID: "l-weird", Name: "Someday/Maybe"},
	}}
	p := newTestProjection(t, port, ProjectionOptions{})
	ctx := context.Background()

	if _, ok := p.lists[contracts.CardStatusUnknown]; ok {
		t.Fatal("unknown status must never be mapped to a list")
	}

	p.apply(ctx, contracts.DomainEvent{
		Type: contracts.EventIssueReceived, JobID: "job-1",
		Source: contracts.SourceGitHub, EventName: "issues.opened",
	})
	p.apply(ctx, contracts.DomainEvent{
		Type: contracts.EventJobPhaseChanged, JobID: "job-1", Phase: contracts.PhaseValidate,
	})

	for _, call := range port.calls {
		if strings.HasPrefix(call, "move") {
			t.Fatalf("expected no move without a Review list, got %q", call)
		}
	}
}

func TestNewProjectionValidation(t *testing.T) {
	if _, err := NewProjection(nil, ProjectionOptions{BoardID: "b"}); err == nil {
		t.Fatal("expected error for nil port")
	}
	if _, err := NewProjection(&fakePort{}, ProjectionOptions{}); err == nil {
		t.Fatal("expected error for missing board id")
	}
}

func TestProjectionResolveListsPropagatesExhaustion(t *testing.T) {
	port := &fakePort{failFirst: 100}
	p, err := NewProjection(port, ProjectionOptions{
		BoardID: "board-1",
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}
	if err := p.resolveLists(context.Background()); err == nil {
		t.Fatal("expected error when list resolution keeps failing")
	} else if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected cancellation error: %v", err)
	}
}
