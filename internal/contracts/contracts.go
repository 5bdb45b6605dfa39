package contracts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

type Source string

const (
	SourceGitHub Source = "github"
	SourceTrello Source = "trello"
)

type Skill string

const (
	SkillResolveIssue   Skill = "resolve-issue"
	SkillRespondComment Skill = "respond-comment"
	SkillNoop           Skill = "noop"
)

type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateDone       JobState = "done"
	JobStateFailed     JobState = "failed"
)

type CleanupMode string

const (
	CleanupModeStrict  CleanupMode = "strict"
	CleanupModeLenient CleanupMode = "lenient"
)

type CardStatus string

const (
	CardStatusBacklog    CardStatus = "BACKLOG"
	CardStatusTodo       CardStatus = "TODO"
	CardStatusInProgress CardStatus = "IN_PROGRESS"
	CardStatusReview     CardStatus = "REVIEW"
	CardStatusDone       CardStatus = "DONE"
	CardStatusBlocked    CardStatus = "BLOCKED"
	CardStatusCancelled  CardStatus = "CANCELLED"
	CardStatusUnknown    CardStatus = "UNKNOWN"
)

func AllCardStatuses() []CardStatus {
	return []CardStatus{
		CardStatusBacklog,
		CardStatusTodo,
		CardStatusInProgress,
		CardStatusReview,
		CardStatusDone,
		CardStatusBlocked,
		CardStatusCancelled,
	}
}

// Event is one ingested webhook delivery, immutable once recorded. RawPayload
// holds the wire bytes verbatim so signatures stay verifiable on replay.
type Event struct {
	Source     Source    `json:"source"`
	EventType  string    `json:"event_type"`
	DeliveryID string    `json:"delivery_id"`
	ReceivedAt time.Time `json:"received_at"`
	RawPayload []byte    `json:"raw_payload"`
	Signature  string    `json:"signature,omitempty"`
}

type JobError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

type DiffSummary struct {
	NewStaged    []string `json:"new_staged,omitempty"`
	NewUnstaged  []string `json:"new_unstaged,omitempty"`
	NewUntracked []string `json:"new_untracked,omitempty"`
}

type JobResult struct {
	Reason            string        `json:"reason,omitempty"`
	BranchName        string        `json:"branch_name,omitempty"`
	WorktreePath      string        `json:"worktree_path,omitempty"`
	WorktreePreserved bool          `json:"worktree_preserved"`
	PreserveReason    string        `json:"preserve_reason,omitempty"`
	InitialDigest     string        `json:"initial_digest,omitempty"`
	FinalDigest       string        `json:"final_digest,omitempty"`
	OutputDigest      string        `json:"output_digest,omitempty"`
	OutputBytes       int64         `json:"output_bytes"`
	Diff              DiffSummary   `json:"diff"`
	Duration          time.Duration `json:"duration_ns"`
}

const JobSchemaVersion = 1

// Job is the queued unit of work. The queue owns the persisted record; a
// worker mutates it only while holding an unexpired lease.
type Job struct {
	ID             string       `json:"id"`
	SchemaVersion  int          `json:"schema_version"`
	Event          Event        `json:"event"`
	IssueNumber    *int         `json:"issue_number,omitempty"`
	Repository     string       `json:"repository,omitempty"`
	Skill          Skill        `json:"skill"`
	State          JobState     `json:"state"`
	Attempts       int          `json:"attempts"`
	WorkerID       string       `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time   `json:"lease_expires_at,omitempty"`
	WorktreePath   string       `json:"worktree_path,omitempty"`
	BranchName     string       `json:"branch_name,omitempty"`
	CleanupMode    CleanupMode  `json:"cleanup_mode,omitempty"`
	Initial        *Snapshot    `json:"initial_snapshot,omitempty"`
	Final          *Snapshot    `json:"final_snapshot,omitempty"`
	Result         *JobResult   `json:"result,omitempty"`
	Error          *JobError    `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

var ErrInvalidJob = errors.New("invalid job")

func (j *Job) Validate() error {
	if j == nil {
		return ErrInvalidJob
	}
	if strings.TrimSpace(j.ID) == "" {
		return errors.Join(ErrInvalidJob, errors.New("job id is required"))
	}
	if strings.TrimSpace(string(j.Event.Source)) == "" {
		return errors.Join(ErrInvalidJob, errors.New("event source is required"))
	}
	if strings.TrimSpace(j.Event.DeliveryID) == "" {
		return errors.Join(ErrInvalidJob, errors.New("delivery id is required"))
	}
	switch j.Skill {
	case SkillResolveIssue, SkillRespondComment, SkillNoop:
	default:
		return errors.Join(ErrInvalidJob, errors.New("unknown skill "+string(j.Skill)))
	}
	return nil
}

func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	dup := *j
	if j.IssueNumber != nil {
		n := *j.IssueNumber
		dup.IssueNumber = &n
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		dup.LeaseExpiresAt = &t
	}
	if j.Event.RawPayload != nil {
		dup.Event.RawPayload = append([]byte(nil), j.Event.RawPayload...)
	}
	if j.Initial != nil {
		s := j.Initial.Clone()
		dup.Initial = &s
	}
	if j.Final != nil {
		s := j.Final.Clone()
		dup.Final = &s
	}
	if j.Result != nil {
		r := *j.Result
		dup.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		dup.Error = &e
	}
	return &dup
}

// Snapshot is a deterministic point-in-time description of one working tree.
// Untracked files never count against cleanliness.
type Snapshot struct {
	Branch     string    `json:"branch"`
	HeadCommit string    `json:"head_commit"`
	Staged     []string  `json:"staged,omitempty"`
	Unstaged   []string  `json:"unstaged,omitempty"`
	Untracked  []string  `json:"untracked,omitempty"`
	Conflicts  []string  `json:"conflicts,omitempty"`
	TakenAt    time.Time `json:"taken_at"`
}

func (s Snapshot) Clean() bool {
	return len(s.Staged) == 0 && len(s.Unstaged) == 0 && len(s.Conflicts) == 0
}

func (s Snapshot) Clone() Snapshot {
	dup := s
	dup.Staged = append([]string(nil), s.Staged...)
	dup.Unstaged = append([]string(nil), s.Unstaged...)
	dup.Untracked = append([]string(nil), s.Untracked...)
	dup.Conflicts = append([]string(nil), s.Conflicts...)
	return dup
}

// Digest is stable across identical tree states: the timestamp is excluded
// and the path sets are sorted before hashing.
func (s Snapshot) Digest() string {
	var b strings.Builder
	b.WriteString(s.Branch)
	b.WriteByte('\n')
	b.WriteString(s.HeadCommit)
	b.WriteByte('\n')
	for _, bucket := range [][]string{s.Staged, s.Unstaged, s.Untracked, s.Conflicts} {
		paths := append([]string(nil), bucket...)
		sort.Strings(paths)
		for _, p := range paths {
			b.WriteString(p)
			b.WriteByte('\x00')
		}
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// JobQueue is the durable at-least-once store of jobs. Enqueue is atomic with
// respect to (source, delivery_id) uniqueness and returns ErrDuplicateDelivery
// on conflict. Terminal operations verify the caller still holds the lease.
type JobQueue interface {
	Enqueue(ctx context.Context, job *Job) error
	ExistsByDelivery(ctx context.Context, source Source, deliveryID string) (string, bool, error)
	Dequeue(ctx context.Context, workerID string, lease time.Duration) (*Job, error)
	Heartbeat(ctx context.Context, jobID, workerID string) error
	Complete(ctx context.Context, jobID, workerID string, result JobResult) error
	Fail(ctx context.Context, jobID, workerID string, jobErr JobError) error
	ReclaimExpired(ctx context.Context) ([]string, error)
	Get(ctx context.Context, jobID string) (*Job, error)
	List(ctx context.Context, state JobState, limit int) ([]*Job, error)
	Backlog(ctx context.Context) (int, error)
	Close() error
}

type AgentContext struct {
	Source      Source          `json:"source"`
	EventType   string          `json:"event_type"`
	Repository  string          `json:"repository,omitempty"`
	IssueNumber *int            `json:"issue_number,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type SpawnSpec struct {
	WorktreePath string
	Skill        Skill
	Context      AgentContext
}

type AgentExit string

const (
	AgentExitCompleted AgentExit = "completed"
	AgentExitFailed    AgentExit = "failed"
	AgentExitCancelled AgentExit = "cancelled"
)

type AgentResult struct {
	ExitStatus      AgentExit
	ProducedChanges bool
}

// AgentHandle is one running agent subprocess. ReadChunk blocks until the
// next opaque output chunk or io.EOF; Cancel signals cooperatively and
// escalates after the configured grace; Wait reaps the process.
type AgentHandle interface {
	ReadChunk() ([]byte, error)
	Cancel()
	Wait() AgentResult
}

// AgentAdapter spawns the external agent. It imposes no timeout of its own;
// deadlines belong to the orchestrator.
type AgentAdapter interface {
	Spawn(ctx context.Context, spec SpawnSpec) (AgentHandle, error)
}

type KanbanList struct {
	ID   string
	Name string
}

// KanbanPort is the external board adapter. MapListToStatus returns
// CardStatusUnknown for any list name it does not recognize; it never falls
// back to another status.
type KanbanPort interface {
	CreateCard(ctx context.Context, listID, title, description string) (string, error)
	AddComment(ctx context.Context, cardID, text string) error
	MoveCard(ctx context.Context, cardID, listID string) error
	ListLists(ctx context.Context, boardID string) ([]KanbanList, error)
	MapListToStatus(name string) CardStatus
}

type WorktreeInfo struct {
	Path   string
	Branch string
}

type WorktreeManager interface {
	Create(ctx context.Context, branch string) (string, error)
	Remove(ctx context.Context, path string, force bool) error
	List(ctx context.Context) ([]WorktreeInfo, error)
}

type Snapshotter interface {
	Take(ctx context.Context, worktreePath string) (Snapshot, error)
}

// Bus is the in-process domain event fan-out. Publish never blocks the
// publisher; delivery is FIFO per job and bounded per subscriber.
type Bus interface {
	Publish(event DomainEvent)
	Subscribe(name string, buffer int) (<-chan DomainEvent, func())
	Close() error
}
