package bus

import (
	"sync"

	"github.com/egv/autoclaude/internal/contracts"
)

const DefaultSubscriberBuffer = 256

// Memory is the single-process bus. One dispatcher goroutine drains a
// pending list in publish order, which makes delivery FIFO per job by
// construction. A subscriber whose buffer is full is disconnected rather
// than allowed to stall the others.
type Memory struct {
	mu          sync.Mutex
	pending     []contracts.DomainEvent
	subscribers map[int]*memorySubscriber
	nextID      int
	closed      bool

	wake   chan struct{}
	done   chan struct{}
	onDrop func(string)
}

type memorySubscriber struct {
	name string
	ch   chan contracts.DomainEvent
}

type MemoryOptions struct {
	OnDrop func(subscriber string)
}

func NewMemory(options MemoryOptions) *Memory {
	m := &Memory{
		subscribers: map[int]*memorySubscriber{},
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		onDrop:      options.OnDrop,
	}
	go m.dispatch()
	return m
}

func (m *Memory) Publish(event contracts.DomainEvent) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, event)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Memory) Subscribe(name string, buffer int) (<-chan contracts.DomainEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &memorySubscriber{name: name, ch: make(chan contracts.DomainEvent, buffer)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := m.nextID
	m.nextID++
	m.subscribers[id] = sub
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(existing.ch)
		}
	}
	return sub.ch, cancel
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)
	return nil
}

func (m *Memory) dispatch() {
	for {
		select {
		case <-m.done:
			m.drainAndCloseSubscribers()
			return
		case <-m.wake:
		}

		for {
			m.mu.Lock()
			if len(m.pending) == 0 {
				m.mu.Unlock()
				break
			}
			batch := m.pending
			m.pending = nil

			for _, event := range batch {
				for id, sub := range m.subscribers {
					select {
					case sub.ch <- event:
					default:
						// Slow consumer: disconnect instead of stalling
						// delivery to everyone else.
						delete(m.subscribers, id)
						close(sub.ch)
						if m.onDrop != nil {
							m.onDrop(sub.name)
						}
					}
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Memory) drainAndCloseSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subscribers {
		delete(m.subscribers, id)
		close(sub.ch)
	}
	m.pending = nil
}

var _ contracts.Bus = (*Memory)(nil)
