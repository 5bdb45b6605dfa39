package contracts

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"
)

type EventSink interface {
	Emit(ctx context.Context, event DomainEvent) error
}

// StreamEventSink writes domain events as JSONL, coalescing bursts of
// job_agent_output so a chatty agent cannot flood the audit log. Lifecycle
// events always flush the pending output for their job first, which keeps
// the per-job order intact.
type StreamEventSink struct {
	stream         *EventStream
	mu             sync.Mutex
	verboseOutput  bool
	outputInterval time.Duration
	maxPending     int
	pending        map[string]*pendingOutput
}

type pendingOutput struct {
	event        DomainEvent
	lastOutputAt time.Time
	count        int
	dropped      int
}

type StreamEventSinkOptions struct {
	VerboseOutput  bool
	OutputInterval time.Duration
	MaxPending     int
}

func NewStreamEventSink(writer io.Writer) *StreamEventSink {
	return NewStreamEventSinkWithOptions(writer, StreamEventSinkOptions{})
}

func NewStreamEventSinkWithOptions(writer io.Writer, options StreamEventSinkOptions) *StreamEventSink {
	interval := options.OutputInterval
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	maxPending := options.MaxPending
	if maxPending <= 0 {
		maxPending = 64
	}
	return &StreamEventSink{
		stream:         NewEventStream(writer),
		verboseOutput:  options.VerboseOutput,
		outputInterval: interval,
		maxPending:     maxPending,
		pending:        map[string]*pendingOutput{},
	}
}

func (s *StreamEventSink) Emit(_ context.Context, event DomainEvent) error {
	if s == nil || s.stream == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.verboseOutput || event.Type != EventJobAgentOutput {
		if err := s.flushJobLocked(event.JobID); err != nil {
			return err
		}
		if event.Type == EventJobCompleted || event.Type == EventJobFailed {
			delete(s.pending, event.JobID)
		}
		return s.stream.Write(event)
	}

	slot := s.pending[event.JobID]
	if slot == nil || slot.lastOutputAt.IsZero() || event.Timestamp.Sub(slot.lastOutputAt) >= s.outputInterval {
		if err := s.flushJobLocked(event.JobID); err != nil {
			return err
		}
		s.pending[event.JobID] = &pendingOutput{lastOutputAt: event.Timestamp}
		return s.stream.Write(event)
	}

	slot.event = event
	if slot.count < s.maxPending {
		slot.count++
	} else {
		slot.dropped++
	}
	return nil
}

// Flush writes any withheld output events. Callers invoke it on shutdown so
// the tail of a run is not lost to the coalescing window.
func (s *StreamEventSink) Flush() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobIDs := make([]string, 0, len(s.pending))
	for jobID := range s.pending {
		jobIDs = append(jobIDs, jobID)
	}
	sort.Strings(jobIDs)

	var err error
	for _, jobID := range jobIDs {
		err = errors.Join(err, s.flushJobLocked(jobID))
	}
	return err
}

func (s *StreamEventSink) flushJobLocked(jobID string) error {
	slot := s.pending[jobID]
	if slot == nil || slot.count == 0 {
		return nil
	}
	event := slot.event
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	if coalesced := slot.count - 1; coalesced > 0 {
		event.Metadata["coalesced_outputs"] = strconv.Itoa(coalesced)
	}
	if slot.dropped > 0 {
		event.Metadata["dropped_outputs"] = strconv.Itoa(slot.dropped)
	}
	delete(s.pending, jobID)
	return s.stream.Write(event)
}
