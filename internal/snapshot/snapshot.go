// Package snapshot computes deterministic point-in-time descriptions of a
// working tree and the predicate that decides whether removing it can lose
// work. The extractor never mutates the tree it inspects.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/vcs/git"
)

type Extractor struct {
	git *git.Adapter
	now func() time.Time
}

type Options struct {
	Now func() time.Time
}

func New(adapter *git.Adapter, options Options) *Extractor {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Extractor{git: adapter, now: now}
}

// Take reads branch, head, and porcelain status for the tree at
// worktreePath. Output slices are sorted so two snapshots of an unchanged
// tree are byte-equal apart from the timestamp, which Digest excludes.
func (e *Extractor) Take(ctx context.Context, worktreePath string) (contracts.Snapshot, error) {
	branch, err := e.git.CurrentBranch(ctx, worktreePath)
	if err != nil {
		return contracts.Snapshot{}, fmt.Errorf("snapshot branch: %w", err)
	}
	head, err := e.git.HeadCommit(ctx, worktreePath)
	if err != nil {
		return contracts.Snapshot{}, fmt.Errorf("snapshot head: %w", err)
	}
	status, err := e.git.StatusPorcelain(ctx, worktreePath)
	if err != nil {
		return contracts.Snapshot{}, fmt.Errorf("snapshot status: %w", err)
	}

	snap := parsePorcelain(status)
	snap.Branch = branch
	snap.HeadCommit = head
	snap.TakenAt = e.now().UTC()
	return snap, nil
}

// parsePorcelain classifies `git status --porcelain=v1 -z` entries. Each
// entry is "XY path" NUL-terminated; renames and copies carry a second
// NUL-separated origin path that belongs to the same entry.
func parsePorcelain(out string) contracts.Snapshot {
	var snap contracts.Snapshot

	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 || entry[2] != ' ' {
			continue
		}
		x, y := entry[0], entry[1]
		path := entry[3:]
		if x == 'R' || x == 'C' || y == 'R' || y == 'C' {
			i++ // skip the rename/copy origin path
		}

		switch {
		case isConflict(x, y):
			snap.Conflicts = append(snap.Conflicts, path)
		case x == '?' && y == '?':
			snap.Untracked = append(snap.Untracked, path)
		default:
			if isStagedCode(x) {
				snap.Staged = append(snap.Staged, path)
			}
			if isUnstagedCode(y) {
				snap.Unstaged = append(snap.Unstaged, path)
			}
		}
	}

	sort.Strings(snap.Staged)
	sort.Strings(snap.Unstaged)
	sort.Strings(snap.Untracked)
	sort.Strings(snap.Conflicts)
	return snap
}

func isConflict(x, y byte) bool {
	switch string([]byte{x, y}) {
	case "DD", "AA", "UU", "AU", "UA", "DU", "UD":
		return true
	}
	return false
}

func isStagedCode(x byte) bool {
	switch x {
	case 'M', 'A', 'D', 'R', 'C':
		return true
	}
	return false
}

func isUnstagedCode(y byte) bool {
	switch y {
	case 'M', 'D', 'R', 'C':
		return true
	}
	return false
}

// SafeToRemove reports whether removing the tree described by snap cannot
// lose work. Conflicts and staged changes always block; unstaged changes
// block only in strict mode. Untracked files never block.
func SafeToRemove(snap contracts.Snapshot, mode contracts.CleanupMode) bool {
	if len(snap.Conflicts) > 0 || len(snap.Staged) > 0 {
		return false
	}
	if mode == contracts.CleanupModeStrict && len(snap.Unstaged) > 0 {
		return false
	}
	return true
}

// RemovalBlockers names what keeps a tree on disk, for the preserved-worktree
// summary the operator reads.
func RemovalBlockers(snap contracts.Snapshot, mode contracts.CleanupMode) []string {
	var blockers []string
	if n := len(snap.Conflicts); n > 0 {
		blockers = append(blockers, fmt.Sprintf("%d conflicted file(s)", n))
	}
	if n := len(snap.Staged); n > 0 {
		blockers = append(blockers, fmt.Sprintf("%d staged file(s)", n))
	}
	if n := len(snap.Unstaged); n > 0 && mode == contracts.CleanupModeStrict {
		blockers = append(blockers, fmt.Sprintf("%d unstaged file(s)", n))
	}
	return blockers
}

// Diff projects the files present in final and absent from initial, per
// bucket. It is a design-level summary, not a content diff.
func Diff(initial, final contracts.Snapshot) contracts.DiffSummary {
	return contracts.DiffSummary{
		NewStaged:    newPaths(initial.Staged, final.Staged),
		NewUnstaged:  newPaths(initial.Unstaged, final.Unstaged),
		NewUntracked: newPaths(initial.Untracked, final.Untracked),
	}
}

func newPaths(before, after []string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, p := range before {
		seen[p] = struct{}{}
	}
	var out []string
	for _, p := range after {
		if _, ok := seen[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
