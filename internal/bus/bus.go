// Package bus provides the in-process domain event fan-out. Publish never
// blocks the publisher; delivery is FIFO per job and bounded per
// subscriber. Events are not persisted — the job queue is the durability
// layer, and a restart dropping undelivered events is by contract.
package bus

import (
	"fmt"
	"strings"

	"github.com/egv/autoclaude/internal/contracts"
)

const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
)

type Options struct {
	Driver  string
	NATSURL string
	// OnDrop is invoked with the subscriber name whenever a slow consumer
	// is disconnected.
	OnDrop func(subscriber string)
}

func Open(options Options) (contracts.Bus, error) {
	switch strings.TrimSpace(options.Driver) {
	case DriverMemory, "":
		return NewMemory(MemoryOptions{OnDrop: options.OnDrop}), nil
	case DriverNATS:
		if strings.TrimSpace(options.NATSURL) == "" {
			return nil, fmt.Errorf("nats bus driver requires a url")
		}
		return NewNATS(options.NATSURL, NATSOptions{OnDrop: options.OnDrop})
	default:
		return nil, fmt.Errorf("unknown bus driver %q", options.Driver)
	}
}
