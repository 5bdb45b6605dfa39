package kanban

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

const (
	backoffBase     = 250 * time.Millisecond
	backoffCap      = 8 * time.Second
	backoffAttempts = 5
	subscriberName  = "kanban-projection"
)

// Projection mirrors job lifecycle events onto the board. It is strictly
// best-effort: a board call that keeps failing after backoff is logged and
// counted, and the job proceeds untouched.
type Projection struct {
	port     contracts.KanbanPort
	boardID  string
	logger   *slog.Logger
	onRetry  func()
	onGiveUp func()
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(max time.Duration) time.Duration

	lists map[contracts.CardStatus]string
	cards map[string]string
}

type ProjectionOptions struct {
	BoardID string
	Logger  *slog.Logger
	// OnRetry and OnGiveUp feed projection_retries_total and
	// projection_failures_total.
	OnRetry  func()
	OnGiveUp func()
	// Sleep is injectable for tests; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewProjection(port contracts.KanbanPort, options ProjectionOptions) (*Projection, error) {
	if port == nil {
		return nil, fmt.Errorf("projection requires a kanban port")
	}
	if strings.TrimSpace(options.BoardID) == "" {
		return nil, fmt.Errorf("projection requires a board id")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := options.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	return &Projection{
		port:     port,
		boardID:  options.BoardID,
		logger:   logger.With("component", "kanban.projection"),
		onRetry:  options.OnRetry,
		onGiveUp: options.OnGiveUp,
		sleep:    sleep,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
		cards: map[string]string{},
	}, nil
}

// Run resolves the board's lists, subscribes to the bus, and applies events
// until ctx is cancelled or the bus closes.
func (p *Projection) Run(ctx context.Context, bus contracts.Bus) error {
	if err := p.resolveLists(ctx); err != nil {
		return err
	}
	events, cancel := bus.Subscribe(subscriberName, 0)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			p.apply(ctx, event)
		}
	}
}

func (p *Projection) resolveLists(ctx context.Context) error {
	var lists []contracts.KanbanList
	err := p.withRetry(ctx, "list lists", func(ctx context.Context) error {
		var err error
		lists, err = p.port.ListLists(ctx, p.boardID)
		return err
	})
	if err != nil {
		return fmt.Errorf("resolve board lists: %w", err)
	}

	p.lists = map[contracts.CardStatus]string{}
	for _, list := range lists {
		status := p.port.MapListToStatus(list.Name)
		if status == contracts.CardStatusUnknown {
			p.logger.Warn("unrecognized board list", "list", list.Name)
			continue
		}
		p.lists[status] = list.ID
	}
	for _, status := range contracts.AllCardStatuses() {
		if _, ok := p.lists[status]; !ok {
			p.logger.Warn("board has no list for status", "status", status)
		}
	}
	return nil
}

func (p *Projection) apply(ctx context.Context, event contracts.DomainEvent) {
	switch event.Type {
	case contracts.EventIssueReceived:
		p.createCard(ctx, event)
	case contracts.EventJobPhaseChanged:
		p.recordPhase(ctx, event)
	case contracts.EventJobWarning:
		p.comment(ctx, event.JobID, "Warning: "+event.Message)
	case contracts.EventJobCompleted:
		p.comment(ctx, event.JobID, completionComment(event))
		p.move(ctx, event.JobID, contracts.CardStatusDone)
		delete(p.cards, event.JobID)
	case contracts.EventJobFailed:
		p.comment(ctx, event.JobID, failureComment(event))
		p.move(ctx, event.JobID, contracts.CardStatusBlocked)
		delete(p.cards, event.JobID)
	}
}

func (p *Projection) createCard(ctx context.Context, event contracts.DomainEvent) {
	listID, ok := p.lists[contracts.CardStatusTodo]
	if !ok {
		p.logger.Warn("no TODO list, card not created", "job_id", event.JobID)
		return
	}
	title := event.Metadata["title"]
	if title == "" {
		title = fmt.Sprintf("%s %s", event.Source, event.EventName)
	}
	description := cardDescription(event)

	var cardID string
	err := p.withRetry(ctx, "create card", func(ctx context.Context) error {
		var err error
		cardID, err = p.port.CreateCard(ctx, listID, title, description)
		return err
	})
	if err != nil {
		p.logger.Error("card creation abandoned", "job_id", event.JobID, "error", err)
		return
	}
	p.cards[event.JobID] = cardID
}

func (p *Projection) recordPhase(ctx context.Context, event contracts.DomainEvent) {
	p.comment(ctx, event.JobID, "Phase: "+string(event.Phase))
	switch event.Phase {
	case contracts.PhaseRunAgent:
		p.move(ctx, event.JobID, contracts.CardStatusInProgress)
	case contracts.PhaseValidate:
		p.move(ctx, event.JobID, contracts.CardStatusReview)
	}
}

func (p *Projection) comment(ctx context.Context, jobID, text string) {
	cardID, ok := p.cards[jobID]
	if !ok {
		return
	}
	err := p.withRetry(ctx, "add comment", func(ctx context.Context) error {
		return p.port.AddComment(ctx, cardID, text)
	})
	if err != nil {
		p.logger.Error("comment abandoned", "job_id", jobID, "error", err)
	}
}

func (p *Projection) move(ctx context.Context, jobID string, status contracts.CardStatus) {
	cardID, ok := p.cards[jobID]
	if !ok {
		return
	}
	listID, ok := p.lists[status]
	if !ok {
		p.logger.Warn("no list for status, move skipped", "job_id", jobID, "status", status)
		return
	}
	err := p.withRetry(ctx, "move card", func(ctx context.Context) error {
		return p.port.MoveCard(ctx, cardID, listID)
	})
	if err != nil {
		p.logger.Error("move abandoned", "job_id", jobID, "status", status, "error", err)
	}
}

func (p *Projection) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := backoffBase
	var lastErr error
	for attempt := 1; attempt <= backoffAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt == backoffAttempts {
			break
		}
		if p.onRetry != nil {
			p.onRetry()
		}
		p.logger.Warn("board call failed, retrying", "op", op, "attempt", attempt, "error", lastErr)
		if err := p.sleep(ctx, delay+p.jitter(delay/2)); err != nil {
			return lastErr
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	if p.onGiveUp != nil {
		p.onGiveUp()
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

func cardDescription(event contracts.DomainEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job: %s\n", event.JobID)
	fmt.Fprintf(&b, "Source: %s\n", event.Source)
	fmt.Fprintf(&b, "Event: %s\n", event.EventName)
	if repo := event.Metadata["repository"]; repo != "" {
		fmt.Fprintf(&b, "Repository: %s\n", repo)
	}
	if issue := event.Metadata["issue_number"]; issue != "" {
		fmt.Fprintf(&b, "Issue: #%s\n", issue)
	}
	return b.String()
}

func completionComment(event contracts.DomainEvent) string {
	if event.Result == nil {
		return "Completed."
	}
	var b strings.Builder
	b.WriteString("Completed")
	if event.Result.Reason != "" {
		fmt.Fprintf(&b, ": %s", event.Result.Reason)
	}
	b.WriteString("\n")
	if event.Result.BranchName != "" {
		fmt.Fprintf(&b, "Branch: %s\n", event.Result.BranchName)
	}
	if event.Result.WorktreePreserved {
		fmt.Fprintf(&b, "Worktree preserved at %s\n", event.Result.WorktreePath)
	}
	fmt.Fprintf(&b, "Duration: %s\n", event.Result.Duration.Round(time.Millisecond))
	return b.String()
}

func failureComment(event contracts.DomainEvent) string {
	if event.Err == nil {
		return "Failed."
	}
	return fmt.Sprintf("Failed: %s (%s)", event.Err.Message, event.Err.Kind)
}
