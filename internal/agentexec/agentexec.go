// Package agentexec spawns the external AI agent and exposes its lifetime
// through the AgentHandle protocol. The adapter carries no timeout of its
// own; wall-clock and output budgets belong to the orchestrator.
package agentexec

import (
	"fmt"
	"strings"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

const (
	BackendExec = "exec"
	BackendACP  = "acp"
)

const DefaultGrace = 10 * time.Second

type Options struct {
	Backend string
	Binary  string
	Args    []string
	Env     []string
	Grace   time.Duration
}

// New selects the agent backend. The exec backend drives a plain subprocess
// over stdio; the acp backend speaks the Agent Client Protocol to an
// ACP-capable agent.
func New(options Options) (contracts.AgentAdapter, error) {
	if strings.TrimSpace(options.Binary) == "" {
		return nil, fmt.Errorf("agent binary is required")
	}
	grace := options.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	switch strings.TrimSpace(options.Backend) {
	case BackendExec, "":
		return &execAdapter{binary: options.Binary, args: options.Args, env: options.Env, grace: grace}, nil
	case BackendACP:
		return &acpAdapter{binary: options.Binary, args: options.Args, env: options.Env, grace: grace}, nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q", options.Backend)
	}
}
