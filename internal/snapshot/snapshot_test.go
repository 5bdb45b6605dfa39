package snapshot

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/vcs/git"
)

type scriptedRunner struct {
	status string
}

func (r *scriptedRunner) Run(_ context.Context, _ string, _ string, args ...string) (string, error) {
	switch args[0] {
	case "status":
		return r.status, nil
	case "rev-parse":
		if args[1] == "--abbrev-ref" {
			return "auto-claude/issues.opened-42-ab12cd34\n", nil
		}
		return "abc123def4567890abc123def4567890abc123de\n", nil
	}
	return "", nil
}

func TestTakeFillsBranchHeadAndTimestamp(t *testing.T) {
	taken := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	extractor := New(git.New(&scriptedRunner{status: " M main.go\x00"}), Options{
		Now: func() time.Time { return taken },
	})

	snap, err := extractor.Take(context.Background(), "/trees/wt-1")
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	if snap.Branch != "auto-claude/issues.opened-42-ab12cd34" {
		t.Fatalf("unexpected branch %q", snap.Branch)
	}
	if snap.HeadCommit != "abc123def4567890abc123def4567890abc123de" {
		t.Fatalf("unexpected head %q", snap.HeadCommit)
	}
	if !snap.TakenAt.Equal(taken) {
		t.Fatalf("unexpected taken_at %v", snap.TakenAt)
	}
	if len(snap.Unstaged) != 1 || snap.Unstaged[0] != "main.go" {
		t.Fatalf("unexpected unstaged set %v", snap.Unstaged)
	}
}

func TestParsePorcelainClassifiesEntries(t *testing.T) {
	// M. staged, .M unstaged, MM both, ?? untracked, UU conflict,
	// R. rename with origin path.
	out := "M  staged.go\x00 M unstaged.go\x00MM both.go\x00?? scratch.txt\x00UU clash.go\x00R  renamed.go\x00old.go\x00"

	snap := parsePorcelain(out)

	if want := []string{"both.go", "renamed.go", "staged.go"}; !reflect.DeepEqual(snap.Staged, want) {
		t.Fatalf("staged = %v, want %v", snap.Staged, want)
	}
	if want := []string{"both.go", "unstaged.go"}; !reflect.DeepEqual(snap.Unstaged, want) {
		t.Fatalf("unstaged = %v, want %v", snap.Unstaged, want)
	}
	if want := []string{"scratch.txt"}; !reflect.DeepEqual(snap.Untracked, want) {
		t.Fatalf("untracked = %v, want %v", snap.Untracked, want)
	}
	if want := []string{"clash.go"}; !reflect.DeepEqual(snap.Conflicts, want) {
		t.Fatalf("conflicts = %v, want %v", snap.Conflicts, want)
	}
}

func TestParsePorcelainEmptyTreeIsClean(t *testing.T) {
	snap := parsePorcelain("")
	if !snap.Clean() {
		t.Fatalf("expected clean snapshot, got %+v", snap)
	}
}

func TestUntrackedDoesNotDefeatCleanliness(t *testing.T) {
	snap := parsePorcelain("?? a.txt\x00?? b.txt\x00")
	if !snap.Clean() {
		t.Fatalf("untracked files must not defeat cleanliness: %+v", snap)
	}
}

func TestSnapshotDeterministicOnUnchangedTree(t *testing.T) {
	status := " M zebra.go\x00 M alpha.go\x00?? notes.md\x00"
	first := parsePorcelain(status)
	second := parsePorcelain(status)

	if first.Digest() != second.Digest() {
		t.Fatalf("same tree state must digest identically: %s vs %s", first.Digest(), second.Digest())
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ: %+v vs %+v", first, second)
	}
	if first.Unstaged[0] != "alpha.go" {
		t.Fatalf("expected sorted output, got %v", first.Unstaged)
	}
}

func TestSafeToRemove(t *testing.T) {
	cases := []struct {
		name    string
		snap    contracts.Snapshot
		mode    contracts.CleanupMode
		allowed bool
	}{
		{"clean tree lenient", contracts.Snapshot{}, contracts.CleanupModeLenient, true},
		{"clean tree strict", contracts.Snapshot{}, contracts.CleanupModeStrict, true},
		{"untracked never blocks", contracts.Snapshot{Untracked: []string{"a"}}, contracts.CleanupModeStrict, true},
		{"staged blocks lenient", contracts.Snapshot{Staged: []string{"a"}}, contracts.CleanupModeLenient, false},
		{"staged blocks strict", contracts.Snapshot{Staged: []string{"a"}}, contracts.CleanupModeStrict, false},
		{"unstaged allowed lenient", contracts.Snapshot{Unstaged: []string{"a"}}, contracts.CleanupModeLenient, true},
		{"unstaged blocks strict", contracts.Snapshot{Unstaged: []string{"a"}}, contracts.CleanupModeStrict, false},
		{"conflicts block lenient", contracts.Snapshot{Conflicts: []string{"a"}}, contracts.CleanupModeLenient, false},
		{"conflicts block strict", contracts.Snapshot{Conflicts: []string{"a"}}, contracts.CleanupModeStrict, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SafeToRemove(tc.snap, tc.mode); got != tc.allowed {
				t.Fatalf("SafeToRemove = %v, want %v", got, tc.allowed)
			}
		})
	}
}

func TestRemovalBlockersNamesReasons(t *testing.T) {
	snap := contracts.Snapshot{
		Staged:    []string{"a", "b"},
		Unstaged:  []string{"c"},
		Conflicts: []string{"d"},
	}
	strict := RemovalBlockers(snap, contracts.CleanupModeStrict)
	if len(strict) != 3 {
		t.Fatalf("expected 3 blockers in strict mode, got %v", strict)
	}
	lenient := RemovalBlockers(snap, contracts.CleanupModeLenient)
	if len(lenient) != 2 {
		t.Fatalf("expected unstaged to warn only in strict mode, got %v", lenient)
	}
}

func TestDiffReportsOnlyNewPaths(t *testing.T) {
	initial := contracts.Snapshot{
		Unstaged:  []string{"existing.go"},
		Untracked: []string{"old-notes.md"},
	}
	final := contracts.Snapshot{
		Staged:    []string{"fix.go"},
		Unstaged:  []string{"existing.go", "touched.go"},
		Untracked: []string{"old-notes.md", "new-file.go"},
	}

	diff := Diff(initial, final)
	if want := []string{"fix.go"}; !reflect.DeepEqual(diff.NewStaged, want) {
		t.Fatalf("new staged = %v, want %v", diff.NewStaged, want)
	}
	if want := []string{"touched.go"}; !reflect.DeepEqual(diff.NewUnstaged, want) {
		t.Fatalf("new unstaged = %v, want %v", diff.NewUnstaged, want)
	}
	if want := []string{"new-file.go"}; !reflect.DeepEqual(diff.NewUntracked, want) {
		t.Fatalf("new untracked = %v, want %v", diff.NewUntracked, want)
	}
}
