// Package git wraps the git binary behind an injectable runner. Every
// operation the worktree manager and the snapshot extractor need lives here;
// nothing in this package mutates a working tree.
package git

import (
	"context"
	"fmt"
	"strings"
)

type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

type Adapter struct {
	runner Runner
}

func New(runner Runner) *Adapter {
	return &Adapter{runner: runner}
}

// StatusPorcelain returns the raw `git status --porcelain=v1 -z` output for
// the tree at dir. The -z format is unambiguous for paths with spaces or
// renames; the snapshot extractor owns the parsing.
func (a *Adapter) StatusPorcelain(ctx context.Context, dir string) (string, error) {
	return a.runGit(ctx, dir, "status", "--porcelain=v1", "-z")
}

func (a *Adapter) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := a.runGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (a *Adapter) HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := a.runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (a *Adapter) BranchExists(ctx context.Context, repo string, branch string) (bool, error) {
	out, err := a.runGit(ctx, repo, "branch", "--list", branch)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// WorktreeAdd checks out a new branch rooted at the repository's current
// default tip into path. The caller owns collision handling; git refuses
// both an existing path and an existing branch.
func (a *Adapter) WorktreeAdd(ctx context.Context, repo string, path string, branch string) error {
	_, err := a.runGit(ctx, repo, "worktree", "add", "-b", branch, path, "HEAD")
	return err
}

func (a *Adapter) WorktreeRemove(ctx context.Context, repo string, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := a.runGit(ctx, repo, args...)
	return err
}

type WorktreeEntry struct {
	Path   string
	Head   string
	Branch string
}

func (a *Adapter) WorktreeList(ctx context.Context, repo string) ([]WorktreeEntry, error) {
	out, err := a.runGit(ctx, repo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []WorktreeEntry {
	var entries []WorktreeEntry
	var current *WorktreeEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				entries = append(entries, *current)
			}
			current = &WorktreeEntry{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if current != nil {
		entries = append(entries, *current)
	}
	return entries
}

func (a *Adapter) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := a.runner.Run(ctx, dir, "git", args...)
	if err == nil {
		return out, nil
	}
	command := "git " + strings.Join(args, " ")
	return "", fmt.Errorf("%s: %w", command, err)
}
