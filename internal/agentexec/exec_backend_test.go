package agentexec

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests drive /bin/sh")
	}
}

func spawnShell(t *testing.T, script string, grace time.Duration) contracts.AgentHandle {
	t.Helper()
	adapter, err := New(Options{
		Backend: BackendExec,
		Binary:  "/bin/sh",
		Args:    []string{"-c", script},
		Grace:   grace,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	handle, err := adapter.Spawn(context.Background(), contracts.SpawnSpec{
		WorktreePath: t.TempDir(),
		Skill:        contracts.SkillResolveIssue,
		Context:      contracts.AgentContext{Source: contracts.SourceGitHub, EventType: "issues.opened"},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return handle
}

func drain(t *testing.T, handle contracts.AgentHandle) []byte {
	t.Helper()
	var out bytes.Buffer
	for {
		chunk, err := handle.ReadChunk()
		if err == io.EOF {
			return out.Bytes()
		}
		if err != nil {
			t.Fatalf("read chunk: %v", err)
		}
		out.Write(chunk)
	}
}

func TestExecBackendStreamsInterleavedOutput(t *testing.T) {
	requireShell(t)
	handle := spawnShell(t, `echo out; echo err 1>&2`, time.Second)

	output := drain(t, handle)
	if !bytes.Contains(output, []byte("out")) || !bytes.Contains(output, []byte("err")) {
		t.Fatalf("expected stdout and stderr interleaved, got %q", output)
	}
	result := handle.Wait()
	if result.ExitStatus != contracts.AgentExitCompleted {
		t.Fatalf("expected completed, got %s", result.ExitStatus)
	}
}

func TestExecBackendPassesContextDocumentOnStdin(t *testing.T) {
	requireShell(t)
	handle := spawnShell(t, `cat`, time.Second)

	output := drain(t, handle)
	var doc contextDocument
	if err := json.Unmarshal(output, &doc); err != nil {
		t.Fatalf("stdin document is not JSON: %v\n%s", err, output)
	}
	if doc.Skill != contracts.SkillResolveIssue {
		t.Fatalf("unexpected skill %q", doc.Skill)
	}
	if doc.Instructions == "" {
		t.Fatal("expected rendered instructions")
	}
	if doc.Context.EventType != "issues.opened" {
		t.Fatalf("unexpected context %+v", doc.Context)
	}
	if handle.Wait().ExitStatus != contracts.AgentExitCompleted {
		t.Fatal("expected completed exit")
	}
}

func TestExecBackendReportsFailure(t *testing.T) {
	requireShell(t)
	handle := spawnShell(t, `exit 3`, time.Second)
	drain(t, handle)
	if got := handle.Wait().ExitStatus; got != contracts.AgentExitFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestExecBackendCancelEscalatesAfterGrace(t *testing.T) {
	requireShell(t)
	handle := spawnShell(t, `trap '' INT; sleep 30`, 100*time.Millisecond)

	done := make(chan contracts.AgentResult, 1)
	go func() {
		drain(t, handle)
		done <- handle.Wait()
	}()

	// Give the shell a moment to install its trap.
	time.Sleep(100 * time.Millisecond)
	handle.Cancel()

	select {
	case result := <-done:
		if result.ExitStatus != contracts.AgentExitCancelled {
			t.Fatalf("expected cancelled, got %s", result.ExitStatus)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("cancel did not terminate the agent")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	if _, err := New(Options{Backend: "carrier-pigeon", Binary: "agent"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := New(Options{Backend: BackendExec}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
