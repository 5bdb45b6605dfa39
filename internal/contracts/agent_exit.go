package contracts

import (
	"context"
	"errors"
)

// NormalizeAgentExit maps a subprocess termination into the adapter's exit
// vocabulary. A cancellation requested through the handle always wins over
// whatever error the process returned while dying.
func NormalizeAgentExit(runErr error, cancelRequested bool) AgentExit {
	if cancelRequested {
		return AgentExitCancelled
	}
	if runErr == nil {
		return AgentExitCompleted
	}
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		return AgentExitCancelled
	}
	return AgentExitFailed
}
