package agentexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	acp "github.com/ironpark/acp-go"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/prompt"
)

// acpAdapter drives an ACP-speaking agent over the subprocess's stdio:
// initialize, session/new in the worktree, session/prompt, with session
// update notifications streamed out as chunks. Cancel maps to
// session/cancel before the process is killed.
type acpAdapter struct {
	binary string
	args   []string
	env    []string
	grace  time.Duration
}

func (a *acpAdapter) Spawn(ctx context.Context, spec contracts.SpawnSpec) (contracts.AgentHandle, error) {
	if spec.WorktreePath == "" {
		return nil, fmt.Errorf("spawn acp agent: worktree path is required")
	}

	cmd := exec.Command(a.binary, a.args...)
	cmd.Dir = spec.WorktreePath
	cmd.Env = append(os.Environ(), a.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn acp agent: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn acp agent: %w", err)
	}
	stderrReader, stderrWriter := io.Pipe()
	cmd.Stderr = stderrWriter

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn acp agent %s: %w", a.binary, err)
	}

	h := &acpHandle{
		cmd:      cmd,
		grace:    a.grace,
		chunks:   make(chan []byte, 16),
		waitDone: make(chan struct{}),
	}
	h.conn = acp.NewClientSideConnection(&acpStreamClient{handle: h}, stdin, stdout)

	h.producers.Add(2)
	go func() {
		defer h.producers.Done()
		h.pumpStderr(stderrReader)
	}()
	go func() {
		defer h.producers.Done()
		h.drive(spec)
	}()
	go func() {
		h.producers.Wait()
		close(h.chunks)
		_ = stderrWriter.Close()
		_ = stdin.Close()
		h.waitErr = errors.Join(h.driveErr, cmd.Wait())
		close(h.waitDone)
	}()
	return h, nil
}

type acpHandle struct {
	cmd   *exec.Cmd
	conn  *acp.ClientSideConnection
	grace time.Duration

	chunks    chan []byte
	producers sync.WaitGroup

	sessionMu sync.Mutex
	sessionID acp.SessionId

	driveErr error
	waitDone chan struct{}
	waitErr  error

	cancelOnce sync.Once
	cancelled  atomic.Bool
	resultOnce sync.Once
	result     contracts.AgentResult
}

func (h *acpHandle) drive(spec contracts.SpawnSpec) {
	ctx := context.Background()

	connErr := make(chan error, 1)
	go func() {
		connErr <- h.conn.Start(ctx)
	}()

	h.driveErr = func() error {
		_, err := h.conn.Initialize(ctx, &acp.InitializeRequest{
			ProtocolVersion: acp.ProtocolVersion(acp.CurrentProtocolVersion),
			ClientCapabilities: &acp.ClientCapabilities{
				Fs: &acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
			},
		})
		if err != nil {
			return fmt.Errorf("acp initialize: %w", err)
		}

		session, err := h.conn.NewSession(ctx, &acp.NewSessionRequest{
			Cwd:        spec.WorktreePath,
			McpServers: []acp.McpServer{},
		})
		if err != nil {
			return fmt.Errorf("acp session/new: %w", err)
		}
		h.sessionMu.Lock()
		h.sessionID = session.SessionId
		h.sessionMu.Unlock()

		response, err := h.conn.Prompt(ctx, &acp.PromptRequest{
			SessionId: session.SessionId,
			Prompt: []acp.ContentBlock{
				acp.NewContentBlockText(buildACPPrompt(spec)),
			},
		})
		if err != nil {
			return fmt.Errorf("acp session/prompt: %w", err)
		}
		if response.StopReason == acp.StopReasonCancelled {
			return context.Canceled
		}
		return nil
	}()

	if err := <-connErr; err != nil && !errors.Is(err, io.EOF) && h.driveErr == nil {
		h.driveErr = err
	}
}

func buildACPPrompt(spec contracts.SpawnSpec) string {
	text := prompt.Build(spec.Skill, spec.Context)
	if doc, err := json.MarshalIndent(spec.Context, "", "  "); err == nil {
		text += "\n\nEvent context:\n```json\n" + string(doc) + "\n```\n"
	}
	return text
}

func (h *acpHandle) pumpStderr(r io.Reader) {
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

func (h *acpHandle) emit(text string) {
	if text == "" {
		return
	}
	h.chunks <- []byte(text)
}

func (h *acpHandle) ReadChunk() ([]byte, error) {
	chunk, ok := <-h.chunks
	if !ok {
		return nil, io.EOF
	}
	return chunk, nil
}

func (h *acpHandle) Cancel() {
	h.cancelOnce.Do(func() {
		h.cancelled.Store(true)

		h.sessionMu.Lock()
		sessionID := h.sessionID
		h.sessionMu.Unlock()
		if sessionID != "" {
			cancelCtx, cancel := context.WithTimeout(context.Background(), h.grace)
			defer cancel()
			_ = h.conn.Cancel(cancelCtx, &acp.CancelNotification{SessionId: sessionID})
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

func (h *acpHandle) Wait() contracts.AgentResult {
	<-h.waitDone
	h.resultOnce.Do(func() {
		h.result = contracts.AgentResult{
			ExitStatus: contracts.NormalizeAgentExit(h.waitErr, h.cancelled.Load()),
		}
	})
	return h.result
}

var _ contracts.AgentHandle = (*acpHandle)(nil)

// acpStreamClient forwards agent message and thought chunks into the
// handle. Permission requests are auto-approved with the first offered
// option; this process runs agents unattended.
type acpStreamClient struct {
	handle *acpHandle
}

func (c *acpStreamClient) SessionUpdate(_ context.Context, params *acp.SessionNotification) error {
	update := params.Update
	switch {
	case update.IsAgentmessagechunk():
		if text := update.GetAgentmessagechunk().Content.GetText(); text != nil {
			c.handle.emit(text.Text)
		}
	case update.IsAgentthoughtchunk():
		if text := update.GetAgentthoughtchunk().Content.GetText(); text != nil {
			c.handle.emit(text.Text)
		}
	}
	return nil
}

func (c *acpStreamClient) RequestPermission(_ context.Context, params *acp.RequestPermissionRequest) (*acp.RequestPermissionResponse, error) {
	if len(params.Options) == 0 {
		return &acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeCancelled()}, nil
	}
	return &acp.RequestPermissionResponse{
		Outcome: acp.NewRequestPermissionOutcomeSelected(params.Options[0].OptionId),
	}, nil
}

func (c *acpStreamClient) ReadTextFile(_ context.Context, params *acp.ReadTextFileRequest) (*acp.ReadTextFileResponse, error) {
	content, err := os.ReadFile(params.Path)
	if err != nil {
		return nil, err
	}
	return &acp.ReadTextFileResponse{Content: string(content)}, nil
}

func (c *acpStreamClient) WriteTextFile(_ context.Context, params *acp.WriteTextFileRequest) error {
	return os.WriteFile(params.Path, []byte(params.Content), 0o644)
}

func (c *acpStreamClient) CreateTerminal(context.Context, *acp.CreateTerminalRequest) (*acp.CreateTerminalResponse, error) {
	return nil, errors.New("terminal support disabled")
}

func (c *acpStreamClient) TerminalOutput(context.Context, *acp.TerminalOutputRequest) (*acp.TerminalOutputResponse, error) {
	return nil, errors.New("terminal support disabled")
}

func (c *acpStreamClient) ReleaseTerminal(context.Context, *acp.ReleaseTerminalRequest) error {
	return errors.New("terminal support disabled")
}

func (c *acpStreamClient) WaitForTerminalExit(context.Context, *acp.WaitForTerminalExitRequest) (*acp.WaitForTerminalExitResponse, error) {
	return nil, errors.New("terminal support disabled")
}

func (c *acpStreamClient) KillTerminalCommand(context.Context, *acp.KillTerminalCommandRequest) error {
	return errors.New("terminal support disabled")
}
