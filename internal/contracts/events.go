package contracts

import (
	"encoding/json"
	"time"
)

type DomainEventType string

const (
	EventIssueReceived   DomainEventType = "issue_received"
	EventJobStarted      DomainEventType = "job_started"
	EventJobPhaseChanged DomainEventType = "job_phase_changed"
	EventJobAgentOutput  DomainEventType = "job_agent_output"
	EventJobCompleted    DomainEventType = "job_completed"
	EventJobFailed       DomainEventType = "job_failed"
	EventJobWarning      DomainEventType = "job_warning"
)

type Phase string

const (
	PhaseStart           Phase = "start"
	PhaseDispatch        Phase = "dispatch"
	PhaseSetupWorktree   Phase = "setup_worktree"
	PhaseSnapshotInitial Phase = "snapshot_initial"
	PhaseRunAgent        Phase = "run_agent"
	PhaseSnapshotFinal   Phase = "snapshot_final"
	PhaseValidate        Phase = "validate"
	// PhaseSubmitChanges is a reserved slot between Validate and Finalize.
	// The orchestrator never commits, pushes, or opens pull requests; the
	// constant exists so a future phase lands without renumbering.
	PhaseSubmitChanges Phase = "submit_changes"
	PhaseFinalize      Phase = "finalize"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
)

// DomainEvent is one in-process notification. Events are ordered FIFO per
// JobID and carry no ordering promise across jobs. They are never persisted;
// the job queue is the durability layer.
type DomainEvent struct {
	Type      DomainEventType
	JobID     string
	Source    Source
	EventName string
	Phase     Phase
	Message   string
	Chunk     []byte
	Result    *JobResult
	Err       *JobError
	Metadata  map[string]string
	Timestamp time.Time
}

type eventWire struct {
	Type      DomainEventType   `json:"type"`
	JobID     string            `json:"job_id"`
	Source    Source            `json:"source,omitempty"`
	EventName string            `json:"event_name,omitempty"`
	Phase     Phase             `json:"phase,omitempty"`
	Message   string            `json:"message,omitempty"`
	Chunk     []byte            `json:"chunk,omitempty"`
	Result    *JobResult        `json:"result,omitempty"`
	Err       *JobError         `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TS        string            `json:"ts"`
}

func MarshalEventJSONL(event DomainEvent) (string, error) {
	payload := eventWire{
		Type:      event.Type,
		JobID:     event.JobID,
		Source:    event.Source,
		EventName: event.EventName,
		Phase:     event.Phase,
		Message:   event.Message,
		Chunk:     event.Chunk,
		Result:    event.Result,
		Err:       event.Err,
		Metadata:  event.Metadata,
		TS:        event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

func ParseEventJSONLLine(line []byte) (DomainEvent, error) {
	var payload eventWire
	if err := json.Unmarshal(line, &payload); err != nil {
		return DomainEvent{}, err
	}
	timestamp := time.Time{}
	if payload.TS != "" {
		parsed, err := time.Parse(time.RFC3339Nano, payload.TS)
		if err != nil {
			return DomainEvent{}, err
		}
		timestamp = parsed
	}
	return DomainEvent{
		Type:      payload.Type,
		JobID:     payload.JobID,
		Source:    payload.Source,
		EventName: payload.EventName,
		Phase:     payload.Phase,
		Message:   payload.Message,
		Chunk:     payload.Chunk,
		Result:    payload.Result,
		Err:       payload.Err,
		Metadata:  payload.Metadata,
		Timestamp: timestamp,
	}, nil
}
