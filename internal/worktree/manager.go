// Package worktree owns the on-disk worktree directories. Every isolated
// checkout the orchestrator works in is created and removed here and nowhere
// else; paths live under a root outside the operator's primary checkout.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/vcs/git"
)

type Manager struct {
	git       *git.Adapter
	snapshots contracts.Snapshotter
	repoRoot  string
	root      string
}

type Options struct {
	RepoRoot string
	Root     string
}

func NewManager(adapter *git.Adapter, snapshots contracts.Snapshotter, options Options) (*Manager, error) {
	repoRoot := strings.TrimSpace(options.RepoRoot)
	if repoRoot == "" {
		return nil, fmt.Errorf("worktree manager requires a repository root")
	}
	root := strings.TrimSpace(options.Root)
	if root == "" {
		root = filepath.Join(os.TempDir(), "autoclaude-worktrees")
	}
	return &Manager{git: adapter, snapshots: snapshots, repoRoot: repoRoot, root: root}, nil
}

// Create checks out branch into a fresh directory under the worktree root.
// It is atomic: on any failure the target path is removed, so the path
// either exists with the branch checked out or does not exist at all.
func (m *Manager) Create(ctx context.Context, branch string) (string, error) {
	if strings.TrimSpace(branch) == "" {
		return "", fmt.Errorf("branch name is required")
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", fmt.Errorf("create worktree root: %w", err)
	}

	path := filepath.Join(m.root, pathSegment(branch))
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("worktree %s: %w", path, contracts.ErrWorktreeExists)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat worktree path: %w", err)
	}

	exists, err := m.git.BranchExists(ctx, m.repoRoot, branch)
	if err != nil {
		return "", fmt.Errorf("check branch: %w", err)
	}
	if exists {
		return "", fmt.Errorf("branch %s: %w", branch, contracts.ErrBranchExists)
	}

	if err := m.git.WorktreeAdd(ctx, m.repoRoot, path, branch); err != nil {
		_ = os.RemoveAll(path)
		return "", fmt.Errorf("worktree add: %w", err)
	}
	return path, nil
}

// Remove deletes the worktree at path. Without force it refuses any tree
// whose snapshot is not clean; untracked files do not count.
func (m *Manager) Remove(ctx context.Context, path string, force bool) error {
	if !force {
		snap, err := m.snapshots.Take(ctx, path)
		if err != nil {
			return fmt.Errorf("inspect worktree before removal: %w", err)
		}
		if !snap.Clean() {
			return fmt.Errorf("worktree %s: %w", path, contracts.ErrUncleanWorktree)
		}
	}
	if err := m.git.WorktreeRemove(ctx, m.repoRoot, path, force); err != nil {
		return fmt.Errorf("worktree remove: %w", err)
	}
	return nil
}

func (m *Manager) List(ctx context.Context) ([]contracts.WorktreeInfo, error) {
	entries, err := m.git.WorktreeList(ctx, m.repoRoot)
	if err != nil {
		return nil, fmt.Errorf("worktree list: %w", err)
	}
	var out []contracts.WorktreeInfo
	for _, entry := range entries {
		if entry.Path == m.repoRoot {
			continue // the primary checkout is not ours to manage
		}
		out = append(out, contracts.WorktreeInfo{Path: entry.Path, Branch: entry.Branch})
	}
	return out, nil
}

// pathSegment flattens a branch name into one directory component:
// auto-claude/issues.opened-42-ab12cd34 -> issues.opened-42-ab12cd34.
func pathSegment(branch string) string {
	segment := branch
	if idx := strings.LastIndex(branch, "/"); idx >= 0 {
		segment = branch[idx+1:]
	}
	return segment
}

var _ contracts.WorktreeManager = (*Manager)(nil)
