package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"sync"
	"testing"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/queue"
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

func signGitHub(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func signTrello(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestProcessor(t *testing.T) (*Processor, *queue.Memory, *captureBus) {
	t.Helper()
	q := queue.NewMemory(queue.MemoryOptions{})
	bus := &captureBus{}
	p, err := NewProcessor(Options{
		Queue: q,
		Bus:   bus,
		Secrets: map[contracts.Source]string{
			contracts.SourceGitHub: "gh-secret",
			contracts.SourceTrello: "trello-secret",
		},
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p, q, bus
}

func githubHeaders(event, delivery, signature string) http.Header {
	h := http.Header{}
	h.Set("X-GitHub-Event", event)
	h.Set("X-GitHub-Delivery", delivery)
	h.Set("X-Hub-Signature-256", signature)
	return h
}

const issueOpenedBody = `{
	"action": "opened",
	"issue": {"number": 42, "title": "Crash on save", "body": "stack trace"},
	"repository": {"full_name": "egv/demo"}
}`

func TestProcessAcceptsSignedGitHubIssue(t *testing.T) {
	p, q, bus := newTestProcessor(t)
	body := []byte(issueOpenedBody)

	outcome := p.Process(context.Background(), "github",
		githubHeaders("issues", "delivery-1", signGitHub("gh-secret", body)), body)

	if outcome.Status != OutcomeAccepted {
		t.Fatalf("expected accepted, got %+v", outcome)
	}
	job, err := q.Get(context.Background(), outcome.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Skill != contracts.SkillResolveIssue {
		t.Fatalf("expected resolve-issue, got %s", job.Skill)
	}
	if job.Event.EventType != "issues.opened" {
		t.Fatalf("expected issues.opened, got %s", job.Event.EventType)
	}
	if job.IssueNumber == nil || *job.IssueNumber != 42 {
		t.Fatalf("expected issue 42, got %v", job.IssueNumber)
	}
	if job.Repository != "egv/demo" {
		t.Fatalf("expected repository, got %q", job.Repository)
	}
	if string(job.Event.RawPayload) != issueOpenedBody {
		t.Fatal("raw payload must be stored verbatim")
	}

	received := bus.byType(contracts.EventIssueReceived)
	if len(received) != 1 {
		t.Fatalf("expected one IssueReceived, got %d", len(received))
	}
	if received[0].Metadata["title"] != "Crash on save" {
		t.Fatalf("unexpected metadata %+v", received[0].Metadata)
	}
	if received[0].Metadata["issue_number"] != "42" {
		t.Fatalf("unexpected metadata %+v", received[0].Metadata)
	}
}

func TestProcessRejectsBadSignature(t *testing.T) {
	p, _, bus := newTestProcessor(t)
	body := []byte(issueOpenedBody)

	outcome := p.Process(context.Background(), "github",
		githubHeaders("issues", "delivery-1", signGitHub("wrong-secret", body)), body)

	if outcome.Status != OutcomeRejected || outcome.RejectKind != contracts.ErrKindUnauthorized {
		t.Fatalf("expected unauthorized rejection, got %+v", outcome)
	}
	if outcome.HTTPStatus() != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", outcome.HTTPStatus())
	}
	if len(bus.events) != 0 {
		t.Fatalf("rejected delivery must publish nothing, got %v", bus.events)
	}
}

func TestProcessDisablesSourceWithoutSecret(t *testing.T) {
	q := queue.NewMemory(queue.MemoryOptions{})
	p, err := NewProcessor(Options{
		Queue:   q,
		Bus:     &captureBus{},
		Secrets: map[contracts.Source]string{contracts.SourceGitHub: "gh-secret"},
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	body := []byte(`{"action": {"id": "a1", "type": "commentCard", "data": {}}}`)
	h := http.Header{}
	h.Set("X-Trello-Webhook", signTrello("anything", body))
	outcome := p.Process(context.Background(), "trello", h, body)
	if outcome.RejectKind != contracts.ErrKindUnauthorized {
		t.Fatalf("expected unauthorized for disabled source, got %+v", outcome)
	}
}

func TestProcessDuplicateDeliveryReturnsSameJob(t *testing.T) {
	p, _, bus := newTestProcessor(t)
	body := []byte(issueOpenedBody)
	headers := githubHeaders("issues", "delivery-1", signGitHub("gh-secret", body))

	first := p.Process(context.Background(), "github", headers, body)
	second := p.Process(context.Background(), "github", headers, body)

	if second.Status != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v", second)
	}
	if second.JobID != first.JobID {
		t.Fatalf("duplicate must return original job id: %q vs %q", second.JobID, first.JobID)
	}
	if second.HTTPStatus() != http.StatusAccepted {
		t.Fatalf("duplicates answer 202, got %d", second.HTTPStatus())
	}
	if got := len(bus.byType(contracts.EventIssueReceived)); got != 1 {
		t.Fatalf("duplicate must not publish again, got %d events", got)
	}
}

func TestProcessRejectsSchemaViolation(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	body := []byte(`{"action": "opened", "issue": {"number": "not-a-number"}}`)

	outcome := p.Process(context.Background(), "github",
		githubHeaders("issues", "delivery-1", signGitHub("gh-secret", body)), body)

	if outcome.RejectKind != contracts.ErrKindMalformed {
		t.Fatalf("expected malformed, got %+v", outcome)
	}
	if outcome.HTTPStatus() != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", outcome.HTTPStatus())
	}
}

func TestProcessRejectsInvalidJSON(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	body := []byte(`{"truncated`)

	outcome := p.Process(context.Background(), "github",
		githubHeaders("issues", "delivery-1", signGitHub("gh-secret", body)), body)
	if outcome.RejectKind != contracts.ErrKindMalformed {
		t.Fatalf("expected malformed, got %+v", outcome)
	}
}

func TestProcessUnknownEventTypeBecomesNoopWithWarning(t *testing.T) {
	p, q, bus := newTestProcessor(t)
	body := []byte(`{"action": "labeled", "issue": {"number": 7}, "repository": {"full_name": "egv/demo"}}`)

	outcome := p.Process(context.Background(), "github",
		githubHeaders("issues", "delivery-2", signGitHub("gh-secret", body)), body)
	if outcome.Status != OutcomeAccepted {
		t.Fatalf("expected accepted, got %+v", outcome)
	}

	job, err := q.Get(context.Background(), outcome.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Skill != contracts.SkillNoop {
		t.Fatalf("unknown event maps to noop, got %s", job.Skill)
	}
	warnings := bus.byType(contracts.EventJobWarning)
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(warnings))
	}
}

func TestProcessTerminalEventEnqueuesNoop(t *testing.T) {
	p, q, bus := newTestProcessor(t)
	body := []byte(`{"action": "closed", "issue": {"number": 9}, "repository": {"full_name": "egv/demo"}}`)

	outcome := p.Process(context.Background(), "github",
		githubHeaders("issues", "delivery-3", signGitHub("gh-secret", body)), body)
	if outcome.Status != OutcomeAccepted {
		t.Fatalf("expected accepted, got %+v", outcome)
	}
	job, _ := q.Get(context.Background(), outcome.JobID)
	if job.Skill != contracts.SkillNoop {
		t.Fatalf("issues.closed maps to noop, got %s", job.Skill)
	}
	// A mapped noop is not a warning case.
	if len(bus.byType(contracts.EventJobWarning)) != 0 {
		t.Fatal("mapped terminal events must not warn")
	}
	if len(bus.byType(contracts.EventIssueReceived)) != 1 {
		t.Fatal("terminal events still publish IssueReceived")
	}
}

func TestProcessTrelloCommentCard(t *testing.T) {
	p, q, _ := newTestProcessor(t)
	body := []byte(`{"action": {"id": "act-1", "type": "commentCard",
		"data": {"card": {"name": "Fix login"}, "board": {"name": "Dev"}}}}`)
	h := http.Header{}
	h.Set("X-Trello-Webhook", signTrello("trello-secret", body))

	outcome := p.Process(context.Background(), "trello", h, body)
	if outcome.Status != OutcomeAccepted {
		t.Fatalf("expected accepted, got %+v", outcome)
	}
	job, err := q.Get(context.Background(), outcome.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Skill != contracts.SkillRespondComment {
		t.Fatalf("expected respond-comment, got %s", job.Skill)
	}
	if job.Event.EventType != "action.commentCard" {
		t.Fatalf("unexpected event type %s", job.Event.EventType)
	}
	if job.Event.DeliveryID != "act-1" {
		t.Fatalf("expected action id as delivery id, got %s", job.Event.DeliveryID)
	}
}

func TestProcessUnknownSource(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	outcome := p.Process(context.Background(), "gitlab", http.Header{}, []byte(`{}`))
	if outcome.RejectKind != contracts.ErrKindUnsupported {
		t.Fatalf("expected unsupported, got %+v", outcome)
	}
}
