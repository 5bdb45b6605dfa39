// Package webhook authenticates incoming deliveries, derives the event
// type, validates the payload, and turns each accepted delivery into a
// durable job. The raw body bytes are verified and hashed as received;
// nothing is re-serialized.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/webhook/schema"
)

type OutcomeStatus string

const (
	OutcomeAccepted  OutcomeStatus = "accepted"
	OutcomeDuplicate OutcomeStatus = "duplicate"
	OutcomeRejected  OutcomeStatus = "rejected"
)

type Outcome struct {
	Status       OutcomeStatus
	JobID        string
	RejectKind   contracts.ErrorKind
	RejectReason string
}

// HTTPStatus maps the outcome to the wire contract: duplicates are 202 like
// first deliveries, so retrying senders see success either way.
func (o Outcome) HTTPStatus() int {
	switch o.Status {
	case OutcomeAccepted, OutcomeDuplicate:
		return http.StatusAccepted
	default:
		switch o.RejectKind {
		case contracts.ErrKindUnauthorized:
			return http.StatusUnauthorized
		case contracts.ErrKindQueueWriteFailed:
			return http.StatusInternalServerError
		default:
			return http.StatusUnprocessableEntity
		}
	}
}

// SkillTable maps (source, event type) to the skill a job runs with.
type SkillTable map[contracts.Source]map[string]contracts.Skill

func DefaultSkillTable() SkillTable {
	return SkillTable{
		contracts.SourceGitHub: {
			"issues.opened":         contracts.SkillResolveIssue,
			"issues.reopened":       contracts.SkillResolveIssue,
			"issue_comment.created": contracts.SkillRespondComment,
			"issues.closed":         contracts.SkillNoop,
			"ping":                  contracts.SkillNoop,
		},
		contracts.SourceTrello: {
			"action.commentCard": contracts.SkillRespondComment,
		},
	}
}

type Processor struct {
	queue   contracts.JobQueue
	bus     contracts.Bus
	secrets map[contracts.Source]string
	skills  SkillTable
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	onEnq   func(skill contracts.Skill)
}

type Options struct {
	Queue contracts.JobQueue
	Bus   contracts.Bus
	// Secrets holds the per-source HMAC secret. A source with no secret is
	// disabled: every delivery for it is unauthorized.
	Secrets map[contracts.Source]string
	// Skills defaults to DefaultSkillTable.
	Skills SkillTable
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
	// OnEnqueued feeds jobs_enqueued_total with the skill of each accepted
	// job.
	OnEnqueued func(skill contracts.Skill)
}

func NewProcessor(options Options) (*Processor, error) {
	if options.Queue == nil {
		return nil, fmt.Errorf("webhook processor requires a job queue")
	}
	if options.Bus == nil {
		return nil, fmt.Errorf("webhook processor requires an event bus")
	}
	schemas, err := schema.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile payload schemas: %w", err)
	}
	skills := options.Skills
	if skills == nil {
		skills = DefaultSkillTable()
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
	onEnq := options.OnEnqueued
	if onEnq == nil {
		onEnq = func(contracts.Skill) {}
	}
	return &Processor{
		queue:   options.Queue,
		bus:     options.Bus,
		secrets: options.Secrets,
		skills:  skills,
		schemas: schemas,
		logger:  logger.With("component", "webhook"),
		now:     now,
		newID:   newID,
		onEnq:   onEnq,
	}, nil
}

func (p *Processor) Process(ctx context.Context, source string, headers http.Header, body []byte) Outcome {
	src := contracts.Source(source)
	sch, ok := p.schemas[source]
	if !ok {
		return reject(contracts.ErrKindUnsupported, "unknown source "+source)
	}

	secret := p.secrets[src]
	if secret == "" {
		return reject(contracts.ErrKindUnauthorized, "source disabled: no secret configured")
	}
	signature, err := verifySignature(src, secret, headers, body)
	if err != nil {
		return reject(contracts.ErrKindUnauthorized, err.Error())
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return reject(contracts.ErrKindMalformed, "payload is not valid JSON")
	}
	if err := sch.Validate(payload); err != nil {
		return reject(contracts.ErrKindMalformed, "payload schema violation: "+err.Error())
	}

	eventType, deliveryID, err := deriveEvent(src, headers, body)
	if err != nil {
		return reject(contracts.ErrKindMalformed, err.Error())
	}

	skill, known := p.skills[src][eventType]
	if !known {
		skill = contracts.SkillNoop
	}

	if jobID, exists, err := p.queue.ExistsByDelivery(ctx, src, deliveryID); err == nil && exists {
		return Outcome{Status: OutcomeDuplicate, JobID: jobID}
	}

	receivedAt := p.now()
	job := &contracts.Job{
		ID:            p.newID(),
		SchemaVersion: contracts.JobSchemaVersion,
		Event: contracts.Event{
			Source:     src,
			EventType:  eventType,
			DeliveryID: deliveryID,
			ReceivedAt: receivedAt,
			RawPayload: body,
			Signature:  signature,
		},
		Skill:     skill,
		State:     contracts.JobStateQueued,
		CreatedAt: receivedAt,
		UpdatedAt: receivedAt,
	}
	details := extractDetails(src, body)
	job.IssueNumber = details.issueNumber
	job.Repository = details.repository

	if err := p.queue.Enqueue(ctx, job); err != nil {
		if errors.Is(err, contracts.ErrDuplicateDelivery) {
			// Lost the race with a concurrent identical delivery.
			if jobID, exists, lookupErr := p.queue.ExistsByDelivery(ctx, src, deliveryID); lookupErr == nil && exists {
				return Outcome{Status: OutcomeDuplicate, JobID: jobID}
			}
			return Outcome{Status: OutcomeDuplicate}
		}
		p.logger.Error("enqueue failed", "source", source, "event_type", eventType, "error", err)
		return reject(contracts.ErrKindQueueWriteFailed, "queue write failed")
	}
	p.onEnq(skill)

	if !known {
		p.bus.Publish(contracts.DomainEvent{
			Type:      contracts.EventJobWarning,
			JobID:     job.ID,
			Source:    src,
			EventName: eventType,
			Message:   fmt.Sprintf("no skill mapped for %s %s, recorded as noop", source, eventType),
			Timestamp: receivedAt,
		})
	}
	p.bus.Publish(contracts.DomainEvent{
		Type:      contracts.EventIssueReceived,
		JobID:     job.ID,
		Source:    src,
		EventName: eventType,
		Metadata:  details.metadata(),
		Timestamp: receivedAt,
	})

	p.logger.Info("delivery accepted",
		"source", source, "event_type", eventType, "delivery_id", deliveryID,
		"job_id", job.ID, "skill", skill)
	return Outcome{Status: OutcomeAccepted, JobID: job.ID}
}

func reject(kind contracts.ErrorKind, reason string) Outcome {
	return Outcome{Status: OutcomeRejected, RejectKind: kind, RejectReason: reason}
}

func verifySignature(source contracts.Source, secret string, headers http.Header, body []byte) (string, error) {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	switch source {
	case contracts.SourceGitHub:
		header := headers.Get("X-Hub-Signature-256")
		if header == "" {
			return "", errors.New("missing X-Hub-Signature-256 header")
		}
		hexSig, ok := strings.CutPrefix(header, "sha256=")
		if !ok {
			return "", errors.New("malformed X-Hub-Signature-256 header")
		}
		got, err := hex.DecodeString(hexSig)
		if err != nil {
			return "", errors.New("malformed X-Hub-Signature-256 header")
		}
		if !hmac.Equal(got, sum) {
			return "", errors.New("signature mismatch")
		}
		return header, nil
	case contracts.SourceTrello:
		header := headers.Get("X-Trello-Webhook")
		if header == "" {
			return "", errors.New("missing X-Trello-Webhook header")
		}
		got, err := base64.StdEncoding.DecodeString(header)
		if err != nil {
			return "", errors.New("malformed X-Trello-Webhook header")
		}
		if !hmac.Equal(got, sum) {
			return "", errors.New("signature mismatch")
		}
		return header, nil
	default:
		return "", fmt.Errorf("no signature scheme for source %s", source)
	}
}

func deriveEvent(source contracts.Source, headers http.Header, body []byte) (eventType, deliveryID string, err error) {
	switch source {
	case contracts.SourceGitHub:
		event := headers.Get("X-GitHub-Event")
		if event == "" {
			return "", "", errors.New("missing X-GitHub-Event header")
		}
		deliveryID = headers.Get("X-GitHub-Delivery")
		if deliveryID == "" {
			return "", "", errors.New("missing X-GitHub-Delivery header")
		}
		var payload struct {
			Action string `json:"action"`
		}
		_ = json.Unmarshal(body, &payload)
		eventType = event
		if payload.Action != "" {
			eventType = event + "." + payload.Action
		}
		return eventType, deliveryID, nil
	case contracts.SourceTrello:
		var payload struct {
			Action struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"action"`
		}
		if err := json.Unmarshal(body, &payload); err != nil || payload.Action.Type == "" {
			return "", "", errors.New("payload has no action.type")
		}
		deliveryID = payload.Action.ID
		if deliveryID == "" {
			sum := sha256.Sum256(body)
			deliveryID = hex.EncodeToString(sum[:16])
		}
		return "action." + payload.Action.Type, deliveryID, nil
	default:
		return "", "", fmt.Errorf("unknown source %s", source)
	}
}

type payloadDetails struct {
	title       string
	repository  string
	issueNumber *int
}

func (d payloadDetails) metadata() map[string]string {
	meta := map[string]string{}
	if d.title != "" {
		meta["title"] = d.title
	}
	if d.repository != "" {
		meta["repository"] = d.repository
	}
	if d.issueNumber != nil {
		meta["issue_number"] = strconv.Itoa(*d.issueNumber)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func extractDetails(source contracts.Source, body []byte) payloadDetails {
	switch source {
	case contracts.SourceGitHub:
		var payload struct {
			Issue *struct {
				Number int    `json:"number"`
				Title  string `json:"title"`
			} `json:"issue"`
			Repository *struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return payloadDetails{}
		}
		details := payloadDetails{}
		if payload.Issue != nil {
			n := payload.Issue.Number
			details.issueNumber = &n
			details.title = payload.Issue.Title
		}
		if payload.Repository != nil {
			details.repository = payload.Repository.FullName
		}
		return details
	case contracts.SourceTrello:
		var payload struct {
			Action struct {
				Data struct {
					Card struct {
						Name string `json:"name"`
					} `json:"card"`
					Board struct {
						Name string `json:"name"`
					} `json:"board"`
				} `json:"data"`
			} `json:"action"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return payloadDetails{}
		}
		return payloadDetails{
			title:      payload.Action.Data.Card.Name,
			repository: payload.Action.Data.Board.Name,
		}
	default:
		return payloadDetails{}
	}
}
