package contracts

import (
	"errors"
	"testing"
	"time"
)

func TestSnapshotCleanIgnoresUntracked(t *testing.T) {
	snap := Snapshot{
		Branch:    "auto-claude/issues.opened-42-a1b2c3d4",
		Untracked: []string{"notes.txt", "scratch/"},
	}
	if !snap.Clean() {
		t.Fatalf("expected untracked-only snapshot to be clean")
	}

	snap.Unstaged = []string{"main.go"}
	if snap.Clean() {
		t.Fatalf("expected unstaged change to defeat cleanliness")
	}
}

func TestSnapshotDigestIsOrderInsensitive(t *testing.T) {
	a := Snapshot{
		Branch:     "work",
		HeadCommit: "abc123",
		Staged:     []string{"b.go", "a.go"},
		TakenAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	b := Snapshot{
		Branch:     "work",
		HeadCommit: "abc123",
		Staged:     []string{"a.go", "b.go"},
		TakenAt:    time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	}

	if a.Digest() != b.Digest() {
		t.Fatalf("expected digests to match regardless of order and timestamp")
	}

	b.Conflicts = []string{"merge.go"}
	if a.Digest() == b.Digest() {
		t.Fatalf("expected conflict to change the digest")
	}
}

func TestSnapshotDigestSeparatesBuckets(t *testing.T) {
	staged := Snapshot{Branch: "w", HeadCommit: "h", Staged: []string{"x.go"}}
	unstaged := Snapshot{Branch: "w", HeadCommit: "h", Unstaged: []string{"x.go"}}
	if staged.Digest() == unstaged.Digest() {
		t.Fatalf("expected the same path in different buckets to produce different digests")
	}
}

func TestJobValidateRejectsMissingIdentity(t *testing.T) {
	cases := []struct {
		name string
		job  Job
	}{
		{name: "missing id", job: Job{Event: Event{Source: SourceGitHub, DeliveryID: "d-1"}, Skill: SkillNoop}},
		{name: "missing source", job: Job{ID: "j-1", Event: Event{DeliveryID: "d-1"}, Skill: SkillNoop}},
		{name: "missing delivery", job: Job{ID: "j-1", Event: Event{Source: SourceGitHub}, Skill: SkillNoop}},
		{name: "unknown skill", job: Job{ID: "j-1", Event: Event{Source: SourceGitHub, DeliveryID: "d-1"}, Skill: Skill("deploy")}},
	}

	for _, tc := range cases {
		if err := tc.job.Validate(); !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("%s: expected ErrInvalidJob, got %v", tc.name, err)
		}
	}

	valid := Job{ID: "j-1", Event: Event{Source: SourceGitHub, DeliveryID: "d-1"}, Skill: SkillResolveIssue}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid job, got %v", err)
	}
}

func TestJobCloneIsIndependent(t *testing.T) {
	issue := 42
	lease := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	original := &Job{
		ID:             "j-1",
		Event:          Event{Source: SourceGitHub, DeliveryID: "d-1", RawPayload: []byte(`{"action":"opened"}`)},
		IssueNumber:    &issue,
		Skill:          SkillResolveIssue,
		State:          JobStateProcessing,
		LeaseExpiresAt: &lease,
		Initial:        &Snapshot{Branch: "main", Staged: []string{"a.go"}},
		Error:          &JobError{Kind: ErrKindAgentTimeout, Message: "timed out", Retryable: true},
	}

	dup := original.Clone()
	dup.Event.RawPayload[0] = 'X'
	*dup.IssueNumber = 7
	dup.Initial.Staged[0] = "b.go"
	dup.Error.Retryable = false

	if original.Event.RawPayload[0] != '{' {
		t.Fatalf("clone shares raw payload storage")
	}
	if *original.IssueNumber != 42 {
		t.Fatalf("clone shares issue number storage")
	}
	if original.Initial.Staged[0] != "a.go" {
		t.Fatalf("clone shares snapshot storage")
	}
	if !original.Error.Retryable {
		t.Fatalf("clone shares error storage")
	}
}

func TestJobErrorErrorString(t *testing.T) {
	err := &JobError{Kind: ErrKindWorktreeCreate, Message: "branch collision"}
	if got := err.Error(); got != "worktree_create_failed: branch collision" {
		t.Fatalf("unexpected error string %q", got)
	}
}
