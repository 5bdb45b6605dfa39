// Package stream fans job console output out to live viewers. The hub keeps
// a bounded replay ring per job so late joiners see recent history, and
// bounded per-subscriber queues so one stalled viewer cannot wedge the rest:
// overflow drops the oldest message and counts the loss.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

const (
	DefaultRingSize         = 256
	DefaultSubscriberBuffer = 256

	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelPhase = "phase"
)

type ConsoleMessage struct {
	Level string    `json:"level"`
	TS    time.Time `json:"ts"`
	Text  string    `json:"text"`
}

type Hub struct {
	mu     sync.Mutex
	jobs   map[string]*jobStream
	closed bool

	ringSize   int
	queueSize  int
	onDrop     func()
	onSubDelta func(delta int)
	now        func() time.Time
}

type jobStream struct {
	ring     []ConsoleMessage
	subs     map[int]chan ConsoleMessage
	nextID   int
	terminal bool
}

type Options struct {
	RingSize         int
	SubscriberBuffer int
	// OnDrop is invoked once per message lost to a full subscriber queue.
	OnDrop func()
	// OnSubscriberChange receives +1/-1 as viewers attach and detach.
	OnSubscriberChange func(delta int)
	Now                func() time.Time
}

func NewHub(options Options) *Hub {
	ringSize := options.RingSize
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	queueSize := options.SubscriberBuffer
	if queueSize <= 0 {
		queueSize = DefaultSubscriberBuffer
	}
	if queueSize < ringSize {
		// Replay must fit the queue.
		queueSize = ringSize
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Hub{
		jobs:       map[string]*jobStream{},
		ringSize:   ringSize,
		queueSize:  queueSize,
		onDrop:     options.OnDrop,
		onSubDelta: options.OnSubscriberChange,
		now:        now,
	}
}

func (h *Hub) Publish(jobID string, msg ConsoleMessage) {
	if msg.TS.IsZero() {
		msg.TS = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	js := h.job(jobID)
	if js.terminal {
		return
	}

	js.ring = append(js.ring, msg)
	if len(js.ring) > h.ringSize {
		js.ring = js.ring[len(js.ring)-h.ringSize:]
	}

	for _, ch := range js.subs {
		h.send(ch, msg)
	}
}

// send enqueues without blocking; a full queue loses its oldest message.
func (h *Hub) send(ch chan ConsoleMessage, msg ConsoleMessage) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
		if h.onDrop != nil {
			h.onDrop()
		}
	default:
	}
	select {
	case ch <- msg:
	default:
		if h.onDrop != nil {
			h.onDrop()
		}
	}
}

// Subscribe attaches a viewer to one job, replaying the ring first. For a
// job already terminal the replay is delivered and the channel closed.
func (h *Hub) Subscribe(jobID string) (<-chan ConsoleMessage, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan ConsoleMessage, h.queueSize)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	js := h.job(jobID)
	for _, msg := range js.ring {
		h.send(ch, msg)
	}
	if js.terminal {
		close(ch)
		return ch, func() {}
	}

	id := js.nextID
	js.nextID++
	js.subs[id] = ch
	if h.onSubDelta != nil {
		h.onSubDelta(1)
	}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := js.subs[id]; ok {
			delete(js.subs, id)
			close(existing)
			if h.onSubDelta != nil {
				h.onSubDelta(-1)
			}
		}
	}
	return ch, cancel
}

// CloseJob marks a job terminal and closes its subscriber channels. The ring
// is kept so late joiners still get the history.
func (h *Hub) CloseJob(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	js, ok := h.jobs[jobID]
	if !ok {
		js = h.job(jobID)
	}
	if js.terminal {
		return
	}
	js.terminal = true
	for id, ch := range js.subs {
		delete(js.subs, id)
		close(ch)
		if h.onSubDelta != nil {
			h.onSubDelta(-1)
		}
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, js := range h.jobs {
		for id, ch := range js.subs {
			delete(js.subs, id)
			close(ch)
			if h.onSubDelta != nil {
				h.onSubDelta(-1)
			}
		}
		js.terminal = true
	}
}

func (h *Hub) job(jobID string) *jobStream {
	js, ok := h.jobs[jobID]
	if !ok {
		js = &jobStream{subs: map[int]chan ConsoleMessage{}}
		h.jobs[jobID] = js
	}
	return js
}

// Bridge consumes the domain bus and translates events into console lines.
// Terminal events close the job's streams after the final line.
func (h *Hub) Bridge(ctx context.Context, bus contracts.Bus) {
	events, cancel := bus.Subscribe("stream-hub", 0)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			h.applyEvent(event)
		}
	}
}

func (h *Hub) applyEvent(event contracts.DomainEvent) {
	if msg, ok := ConsoleLine(event); ok {
		h.Publish(event.JobID, msg)
	}
	if IsTerminalEvent(event) {
		h.CloseJob(event.JobID)
	}
}

// ConsoleLine translates a domain event into its console rendering. The
// second result is false for events that produce no line, such as an empty
// output chunk or an event the viewer does not show.
func ConsoleLine(event contracts.DomainEvent) (ConsoleMessage, bool) {
	switch event.Type {
	case contracts.EventJobStarted:
		return ConsoleMessage{Level: LevelInfo, TS: event.Timestamp, Text: "job started"}, true
	case contracts.EventJobPhaseChanged:
		return ConsoleMessage{Level: LevelPhase, TS: event.Timestamp, Text: string(event.Phase)}, true
	case contracts.EventJobAgentOutput:
		text := strings.TrimRight(string(event.Chunk), "\n")
		if text == "" {
			return ConsoleMessage{}, false
		}
		return ConsoleMessage{Level: LevelInfo, TS: event.Timestamp, Text: text}, true
	case contracts.EventJobWarning:
		return ConsoleMessage{Level: LevelWarn, TS: event.Timestamp, Text: event.Message}, true
	case contracts.EventJobCompleted:
		text := "job completed"
		if event.Result != nil && event.Result.Reason != "" {
			text = fmt.Sprintf("job completed: %s", event.Result.Reason)
		}
		return ConsoleMessage{Level: LevelInfo, TS: event.Timestamp, Text: text}, true
	case contracts.EventJobFailed:
		text := "job failed"
		if event.Err != nil {
			text = fmt.Sprintf("job failed: %s (%s)", event.Err.Message, event.Err.Kind)
		}
		return ConsoleMessage{Level: LevelError, TS: event.Timestamp, Text: text}, true
	}
	return ConsoleMessage{}, false
}

// IsTerminalEvent reports whether the event ends a job's stream.
func IsTerminalEvent(event contracts.DomainEvent) bool {
	return event.Type == contracts.EventJobCompleted || event.Type == contracts.EventJobFailed
}
