package agentexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/prompt"
)

// execAdapter spawns the agent binary with the skill name as its argument
// and a JSON context document on stdin. Stdout and stderr are interleaved
// into opaque chunks; the adapter never interprets them.
type execAdapter struct {
	binary string
	args   []string
	env    []string
	grace  time.Duration
}

// contextDocument is what the subprocess reads from stdin.
type contextDocument struct {
	Skill        contracts.Skill        `json:"skill"`
	Instructions string                 `json:"instructions"`
	Context      contracts.AgentContext `json:"context"`
}

func (a *execAdapter) Spawn(_ context.Context, spec contracts.SpawnSpec) (contracts.AgentHandle, error) {
	if spec.WorktreePath == "" {
		return nil, fmt.Errorf("spawn agent: worktree path is required")
	}

	doc, err := json.Marshal(contextDocument{
		Skill:        spec.Skill,
		Instructions: prompt.Build(spec.Skill, spec.Context),
		Context:      spec.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("spawn agent: encode context: %w", err)
	}

	args := append(append([]string(nil), a.args...), string(spec.Skill))
	cmd := exec.Command(a.binary, args...)
	cmd.Dir = spec.WorktreePath
	cmd.Env = append(os.Environ(), a.env...)
	cmd.Stdin = bytes.NewReader(doc)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn agent %s: %w", a.binary, err)
	}

	h := newProcHandle(cmd, a.grace)
	go h.pump(pr)
	go h.reap(pw)
	return h, nil
}

// procHandle owns one running subprocess. Callers are expected to drain
// ReadChunk until io.EOF before (or while) calling Wait.
type procHandle struct {
	cmd   *exec.Cmd
	grace time.Duration

	chunks     chan []byte
	waitDone   chan struct{}
	waitErr    error
	cancelOnce sync.Once
	cancelled  atomic.Bool
	resultOnce sync.Once
	result     contracts.AgentResult
}

func newProcHandle(cmd *exec.Cmd, grace time.Duration) *procHandle {
	return &procHandle{
		cmd:      cmd,
		grace:    grace,
		chunks:   make(chan []byte, 16),
		waitDone: make(chan struct{}),
	}
}

func (h *procHandle) pump(r io.Reader) {
	defer close(h.chunks)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (h *procHandle) reap(pw *io.PipeWriter) {
	h.waitErr = h.cmd.Wait()
	_ = pw.Close()
	close(h.waitDone)
}

func (h *procHandle) ReadChunk() ([]byte, error) {
	chunk, ok := <-h.chunks
	if !ok {
		return nil, io.EOF
	}
	return chunk, nil
}

// Cancel signals the process cooperatively and escalates to SIGKILL after
// the grace period. It never blocks the caller.
func (h *procHandle) Cancel() {
	h.cancelOnce.Do(func() {
		h.cancelled.Store(true)
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Signal(os.Interrupt)
		}
		go func() {
			select {
			case <-h.waitDone:
			case <-time.After(h.grace):
				if h.cmd.Process != nil {
					_ = h.cmd.Process.Kill()
				}
			}
		}()
	})
}

func (h *procHandle) Wait() contracts.AgentResult {
	<-h.waitDone
	h.resultOnce.Do(func() {
		h.result = contracts.AgentResult{
			ExitStatus: contracts.NormalizeAgentExit(h.waitErr, h.cancelled.Load()),
		}
	})
	return h.result
}

var _ contracts.AgentHandle = (*procHandle)(nil)
