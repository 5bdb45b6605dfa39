package contracts

import "errors"

type ErrorKind string

const (
	ErrKindUnauthorized        ErrorKind = "unauthorized"
	ErrKindMalformed           ErrorKind = "malformed"
	ErrKindUnsupported         ErrorKind = "unsupported"
	ErrKindQueueWriteFailed    ErrorKind = "queue_write_failed"
	ErrKindWorktreeCreate      ErrorKind = "worktree_create_failed"
	ErrKindSnapshotFailed      ErrorKind = "snapshot_failed"
	ErrKindAgentSpawnFailed    ErrorKind = "agent_spawn_failed"
	ErrKindAgentCrashed        ErrorKind = "agent_crashed"
	ErrKindAgentTimeout        ErrorKind = "agent_timeout"
	ErrKindAgentOutputOverflow ErrorKind = "agent_output_overflow"
	ErrKindValidationFailed    ErrorKind = "validation_failed"
	ErrKindProjectionFailed    ErrorKind = "projection_failed"
	ErrKindInternal            ErrorKind = "internal"
)

var (
	ErrDuplicateDelivery = errors.New("duplicate delivery")
	ErrJobNotFound       = errors.New("job not found")
	ErrNotLeaseHolder    = errors.New("worker does not hold the job lease")
	ErrJobNotProcessing  = errors.New("job is not in processing state")
	ErrWorktreeExists    = errors.New("worktree path already exists")
	ErrUncleanWorktree   = errors.New("worktree has uncommitted changes")
	ErrBranchExists      = errors.New("branch already exists")
)

// NewJobError classifies an orchestration failure. Retryability follows the
// propagation policy: agent_timeout retries once before turning fatal,
// worktree creation retries with a fresh branch suffix, validation never
// fails a job at all.
func NewJobError(kind ErrorKind, message string) JobError {
	return JobError{Kind: kind, Message: message, Retryable: kindRetryable(kind)}
}

func kindRetryable(kind ErrorKind) bool {
	switch kind {
	case ErrKindWorktreeCreate, ErrKindAgentTimeout, ErrKindSnapshotFailed:
		return true
	default:
		return false
	}
}

// MaxTimeoutRetries caps agent_timeout requeues: the first timeout is
// retryable, the second is fatal regardless of the attempt budget.
const MaxTimeoutRetries = 1
