package contracts

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestMarshalEventJSONLStableOrder(t *testing.T) {
	e := DomainEvent{
		Type:      EventJobPhaseChanged,
		JobID:     "job-42",
		Phase:     PhaseRunAgent,
		Message:   "agent dispatched",
		Timestamp: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}

	line, err := MarshalEventJSONL(e)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	expected := `{"type":"job_phase_changed","job_id":"job-42","phase":"run_agent","message":"agent dispatched","ts":"2026-03-01T10:30:00Z"}`
	if strings.TrimSpace(line) != expected {
		t.Fatalf("unexpected json line\nexpected: %s\nactual:   %s", expected, strings.TrimSpace(line))
	}
}

func TestMarshalEventJSONLAlwaysEndsWithNewline(t *testing.T) {
	line, err := MarshalEventJSONL(DomainEvent{Type: EventJobStarted, JobID: "j-1", Timestamp: time.Now().UTC()})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("expected JSONL output to end with newline")
	}
}

func TestMarshalEventJSONLIncludesSourceContextWhenPresent(t *testing.T) {
	e := DomainEvent{
		Type:      EventIssueReceived,
		JobID:     "job-7",
		Source:    SourceGitHub,
		EventName: "issues.opened",
		Message:   "issue 42 received",
		Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	line, err := MarshalEventJSONL(e)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	expected := `{"type":"issue_received","job_id":"job-7","source":"github","event_name":"issues.opened","message":"issue 42 received","ts":"2026-03-02T09:00:00Z"}`
	if strings.TrimSpace(line) != expected {
		t.Fatalf("unexpected json line\nexpected: %s\nactual:   %s", expected, strings.TrimSpace(line))
	}
}

func TestEventRoundTripPreservesChunkAndError(t *testing.T) {
	original := DomainEvent{
		Type:      EventJobFailed,
		JobID:     "job-9",
		Chunk:     []byte("partial output"),
		Err:       &JobError{Kind: ErrKindAgentTimeout, Message: "agent exceeded 900s", Retryable: true},
		Metadata:  map[string]string{"attempt": "1"},
		Timestamp: time.Date(2026, 3, 2, 9, 30, 0, 123456789, time.UTC),
	}

	line, err := MarshalEventJSONL(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	decoded, err := ParseEventJSONLLine([]byte(strings.TrimSpace(line)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if decoded.Type != original.Type || decoded.JobID != original.JobID {
		t.Fatalf("identity fields lost: %+v", decoded)
	}
	if string(decoded.Chunk) != "partial output" {
		t.Fatalf("expected chunk to survive, got %q", decoded.Chunk)
	}
	if decoded.Err == nil || decoded.Err.Kind != ErrKindAgentTimeout || !decoded.Err.Retryable {
		t.Fatalf("expected agent_timeout error, got %+v", decoded.Err)
	}
	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Fatalf("expected timestamp %v, got %v", original.Timestamp, decoded.Timestamp)
	}
}

func TestEventDecoderReadsSequentialLines(t *testing.T) {
	var b strings.Builder
	for _, evt := range []DomainEvent{
		{Type: EventJobStarted, JobID: "j-1", Timestamp: time.Now().UTC()},
		{Type: EventJobPhaseChanged, JobID: "j-1", Phase: PhaseSetupWorktree, Timestamp: time.Now().UTC()},
		{Type: EventJobCompleted, JobID: "j-1", Timestamp: time.Now().UTC()},
	} {
		line, err := MarshalEventJSONL(evt)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		b.WriteString(line)
	}

	decoder := NewEventDecoder(strings.NewReader(b.String()))
	var types []DomainEventType
	for {
		evt, err := decoder.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		types = append(types, evt.Type)
	}

	if len(types) != 3 {
		t.Fatalf("expected 3 events, got %d", len(types))
	}
	if types[0] != EventJobStarted || types[1] != EventJobPhaseChanged || types[2] != EventJobCompleted {
		t.Fatalf("unexpected order: %v", types)
	}
}

func TestEventStreamWritesJSONL(t *testing.T) {
	var sink strings.Builder
	stream := NewEventStream(&sink)
	if err := stream.Write(DomainEvent{Type: EventJobWarning, JobID: "j-2", Message: "unmapped list", Timestamp: time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got := sink.String()
	if !strings.HasSuffix(got, "\n") {
		t.Fatalf("expected trailing newline, got %q", got)
	}
	if !strings.Contains(got, `"type":"job_warning"`) {
		t.Fatalf("expected job_warning line, got %q", got)
	}
}
