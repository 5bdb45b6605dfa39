// Package exec runs external commands for the git-backed components. The
// agent subprocess has its own lifecycle and does not go through this path.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes one command to completion and returns its stdout.
// Stderr is folded into the returned error so callers get the detail a git
// failure prints without managing two streams.
type CommandRunner struct {
	logger *slog.Logger
}

func NewCommandRunner(logger *slog.Logger) *CommandRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRunner{logger: logger}
}

func (r *CommandRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	if strings.TrimSpace(dir) != "" {
		cmd.Dir = dir
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	r.logger.Debug("command finished",
		"command", name,
		"args", strings.Join(args, " "),
		"dir", dir,
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"exit", exitCodeFromError(err))

	if err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return stdout.String(), fmt.Errorf("%s: %w", detail, err)
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}
	return 1
}
