package bus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/egv/autoclaude/internal/contracts"
)

const natsSubjectPrefix = "autoclaude.events"

// NATS publishes JSONL-encoded domain events to autoclaude.events.<job_id>.
// Per-subject ordering on the server supplies the FIFO-per-job guarantee;
// the port contract is otherwise identical to the memory bus, so a broker
// deployment swaps in without touching producers or subscribers.
type NATS struct {
	nc     *nats.Conn
	onDrop func(string)

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

type NATSOptions struct {
	Name   string
	OnDrop func(subscriber string)
}

func NewNATS(url string, options NATSOptions) (*NATS, error) {
	name := options.Name
	if name == "" {
		name = "autoclaude-bus"
	}
	nc, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{nc: nc, onDrop: options.OnDrop}, nil
}

func (n *NATS) Publish(event contracts.DomainEvent) {
	line, err := contracts.MarshalEventJSONL(event)
	if err != nil {
		return
	}
	_ = n.nc.Publish(eventSubject(event.JobID), []byte(line))
}

func (n *NATS) Subscribe(name string, buffer int) (<-chan contracts.DomainEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan contracts.DomainEvent, buffer)

	var once sync.Once
	var sub *nats.Subscription
	disconnect := func() {
		once.Do(func() {
			if sub != nil {
				_ = sub.Unsubscribe()
			}
			close(ch)
		})
	}

	sub, err := n.nc.Subscribe(natsSubjectPrefix+".>", func(msg *nats.Msg) {
		event, err := contracts.ParseEventJSONLLine(msg.Data)
		if err != nil {
			return
		}
		select {
		case ch <- event:
		default:
			if n.onDrop != nil {
				n.onDrop(name)
			}
			disconnect()
		}
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	return ch, disconnect
}

func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return n.nc.Drain()
}

func eventSubject(jobID string) string {
	token := strings.TrimSpace(jobID)
	if token == "" {
		token = "none"
	}
	token = strings.NewReplacer(".", "-", " ", "-", "*", "-", ">", "-").Replace(token)
	return natsSubjectPrefix + "." + token
}

var _ contracts.Bus = (*NATS)(nil)
