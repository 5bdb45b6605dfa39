package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/egv/autoclaude/internal/config"
	"github.com/egv/autoclaude/internal/contracts"
)

func setServerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("REPO_PATH", t.TempDir())
	t.Setenv("AGENT_BINARY", "/usr/local/bin/agent")
}

func TestRunMainInvokesRun(t *testing.T) {
	setServerEnv(t)

	var got *config.Config
	code := RunMain(nil, func(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
		got = cfg
		return nil
	}, &bytes.Buffer{})
	if code != exitOK {
		t.Fatalf("expected exit %d, got %d", exitOK, code)
	}
	if got == nil || got.Workers != 4 {
		t.Fatalf("run did not receive the loaded config: %+v", got)
	}
}

func TestRunMainBadFlag(t *testing.T) {
	var stderr bytes.Buffer
	code := RunMain([]string{"-definitely-not-a-flag"}, nil, &stderr)
	if code != exitConfig {
		t.Fatalf("expected exit %d, got %d", exitConfig, code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output on stderr")
	}
}

func TestRunMainConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing repo path",
			env:  map[string]string{"QUEUE_DRIVER": "memory", "AGENT_BINARY": "/bin/agent"},
			want: "REPO_PATH",
		},
		{
			name: "missing agent binary",
			env:  map[string]string{"QUEUE_DRIVER": "memory", "REPO_PATH": "/tmp/repo"},
			want: "AGENT_BINARY",
		},
		{
			name: "invalid driver",
			env:  map[string]string{"QUEUE_DRIVER": "postgres", "REPO_PATH": "/tmp/repo", "AGENT_BINARY": "/bin/agent"},
			want: "QUEUE_DRIVER",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			var stderr bytes.Buffer
			code := RunMain(nil, func(context.Context, *config.Config, *slog.Logger) error {
				t.Fatal("run must not be invoked on config error")
				return nil
			}, &stderr)
			if code != exitConfig {
				t.Fatalf("expected exit %d, got %d", exitConfig, code)
			}
			if !strings.Contains(stderr.String(), tc.want) {
				t.Fatalf("expected %q in stderr, got %q", tc.want, stderr.String())
			}
		})
	}
}

func TestRunMainRuntimeError(t *testing.T) {
	setServerEnv(t)

	code := RunMain(nil, func(context.Context, *config.Config, *slog.Logger) error {
		return errors.New("listener exploded")
	}, &bytes.Buffer{})
	if code != exitRuntime {
		t.Fatalf("expected exit %d, got %d", exitRuntime, code)
	}
}

func TestRunMainDevModeForcesMemoryDrivers(t *testing.T) {
	setServerEnv(t)
	t.Setenv("QUEUE_DRIVER", "sqlite")
	t.Setenv("QUEUE_PATH", "/tmp/should-not-be-used.db")

	var got *config.Config
	code := RunMain([]string{"-dev"}, func(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
		got = cfg
		return nil
	}, &bytes.Buffer{})
	if code != exitOK {
		t.Fatalf("expected exit %d, got %d", exitOK, code)
	}
	if got.QueueDriver != "memory" || got.BusDriver != "memory" {
		t.Fatalf("dev mode should force memory drivers, got queue=%s bus=%s", got.QueueDriver, got.BusDriver)
	}
}

func TestSkillTable(t *testing.T) {
	if skillTable(nil) != nil {
		t.Fatal("empty config must select the built-in table")
	}
	table := skillTable(map[string]map[string]string{
		"github": {"issues.labeled": "noop"},
	})
	if table[contracts.SourceGitHub]["issues.labeled"] != contracts.SkillNoop {
		t.Fatalf("unexpected table %+v", table)
	}
}

func TestSourceSecretsSkipsEmpty(t *testing.T) {
	secrets := sourceSecrets(&config.Config{GitHubSecret: "s3cret"})
	if secrets[contracts.SourceGitHub] != "s3cret" {
		t.Fatalf("unexpected secrets %+v", secrets)
	}
	if _, ok := secrets[contracts.SourceTrello]; ok {
		t.Fatal("empty trello secret must be omitted")
	}
}
