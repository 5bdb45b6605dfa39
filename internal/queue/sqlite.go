package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/egv/autoclaude/internal/contracts"
)

const (
	defaultBusyTimeout = 5 * time.Second
	schemaVersionKey   = "schema_version"
)

// SQLite is the durable queue driver. The serialized Job JSON in the payload
// column is the authoritative record; the indexed columns mirror the fields
// the queue filters on. Accepted jobs survive process restarts.
type SQLite struct {
	db          *sql.DB
	maxAttempts int
	now         func() time.Time
}

type SQLiteOptions struct {
	MaxAttempts int
	Now         func() time.Time
}

// OpenSQLite opens (or creates) the queue database at path, applies the
// connection pragmas, runs migrations, and returns a ready queue.
func OpenSQLite(ctx context.Context, path string, options SQLiteOptions) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	maxAttempts := options.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}

	q := &SQLite{db: db, maxAttempts: maxAttempts, now: now}
	if err := q.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return q, nil
}

func (q *SQLite) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func (q *SQLite) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (q *SQLite) migrate(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS settings (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`); err != nil {
		return err
	}

	cur, err := q.schemaVersion(ctx)
	if err != nil {
		return err
	}

	if cur < 1 {
		if err := q.migrateToV1(ctx); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if err := q.setSchemaVersion(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

func (q *SQLite) schemaVersion(ctx context.Context) (int, error) {
	var val string
	err := q.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, schemaVersionKey).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(val, "%d", &v); err != nil {
		return 0, nil
	}
	return v, nil
}

func (q *SQLite) setSchemaVersion(ctx context.Context, v int) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersionKey, fmt.Sprintf("%d", v))
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (q *SQLite) migrateToV1(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
  id               TEXT PRIMARY KEY,
  source           TEXT NOT NULL,
  delivery_id      TEXT NOT NULL,
  state            TEXT NOT NULL CHECK (state IN ('queued','processing','done','failed')),
  attempts         INTEGER NOT NULL DEFAULT 0,
  worker_id        TEXT NULL,
  lease_expires_at TIMESTAMP NULL,
  lease_seconds    INTEGER NOT NULL DEFAULT 0,
  payload          TEXT NOT NULL,
  created_at       TIMESTAMP NOT NULL,
  updated_at       TIMESTAMP NOT NULL,
  UNIQUE (source, delivery_id)
);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_state_created ON jobs(state, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs(state, lease_expires_at);`,
	}
	for _, stmt := range stmts {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func (q *SQLite) Enqueue(ctx context.Context, job *contracts.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	stored := job.Clone()
	now := q.now().UTC()
	stored.State = contracts.JobStateQueued
	if stored.SchemaVersion == 0 {
		stored.SchemaVersion = contracts.JobSchemaVersion
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	const ins = `INSERT INTO jobs(id, source, delivery_id, state, attempts, payload, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = q.db.ExecContext(ctx, ins,
		stored.ID, string(stored.Event.Source), stored.Event.DeliveryID,
		string(stored.State), stored.Attempts, string(payload),
		stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.ErrDuplicateDelivery
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (q *SQLite) ExistsByDelivery(ctx context.Context, source contracts.Source, deliveryID string) (string, bool, error) {
	var id string
	err := q.db.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE source=? AND delivery_id=?`,
		string(source), deliveryID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup delivery: %w", err)
	}
	return id, true, nil
}

func (q *SQLite) Dequeue(ctx context.Context, workerID string, lease time.Duration) (*contracts.Job, error) {
	now := q.now().UTC()
	leaseUntil := now.Add(lease)

	var acquired *contracts.Job
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		var (
			id      string
			payload string
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, payload FROM jobs WHERE state='queued' ORDER BY created_at ASC, id ASC LIMIT 1`).
			Scan(&id, &payload)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select queued job: %w", err)
		}

		job, err := decodeJobPayload(payload)
		if err != nil {
			return err
		}
		job.State = contracts.JobStateProcessing
		job.WorkerID = workerID
		job.LeaseExpiresAt = &leaseUntil
		job.UpdatedAt = now

		updated, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}

		res, err := tx.ExecContext(ctx, `UPDATE jobs
SET state='processing', worker_id=?, lease_expires_at=?, lease_seconds=?, updated_at=?, payload=?
WHERE id=? AND state='queued'`,
			workerID, leaseUntil, int(lease.Seconds()), now, string(updated), id)
		if err != nil {
			return fmt.Errorf("acquire queued job: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected != 1 {
			return nil
		}
		acquired = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

func (q *SQLite) Heartbeat(ctx context.Context, jobID, workerID string) error {
	now := q.now().UTC()
	return q.withTx(ctx, func(tx *sql.Tx) error {
		job, leaseSeconds, err := q.lockLeasedTx(ctx, tx, jobID, workerID)
		if err != nil {
			return err
		}
		leaseUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
		job.LeaseExpiresAt = &leaseUntil
		job.UpdatedAt = now
		return q.updateLeasedTx(ctx, tx, job, workerID, leaseUntil)
	})
}

func (q *SQLite) Complete(ctx context.Context, jobID, workerID string, result contracts.JobResult) error {
	now := q.now().UTC()
	return q.withTx(ctx, func(tx *sql.Tx) error {
		job, _, err := q.lockLeasedTx(ctx, tx, jobID, workerID)
		if err != nil {
			return err
		}
		job.State = contracts.JobStateDone
		job.Result = &result
		job.Error = nil
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now
		return q.finalizeTx(ctx, tx, job, workerID)
	})
}

func (q *SQLite) Fail(ctx context.Context, jobID, workerID string, jobErr contracts.JobError) error {
	now := q.now().UTC()
	return q.withTx(ctx, func(tx *sql.Tx) error {
		job, _, err := q.lockLeasedTx(ctx, tx, jobID, workerID)
		if err != nil {
			return err
		}
		job.Error = &jobErr
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now

		if jobErr.Retryable && job.Attempts+1 < q.maxAttempts {
			job.State = contracts.JobStateQueued
			job.Attempts++
			job.WorkerID = ""
		} else {
			job.State = contracts.JobStateFailed
		}
		return q.finalizeTx(ctx, tx, job, workerID)
	})
}

// ReclaimExpired requeues processing jobs whose lease has lapsed. It is
// idempotent: a second call at the same instant finds nothing to move.
func (q *SQLite) ReclaimExpired(ctx context.Context) ([]string, error) {
	now := q.now().UTC()
	var reclaimed []string
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, payload FROM jobs
WHERE state='processing' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?
ORDER BY id ASC`, now)
		if err != nil {
			return fmt.Errorf("select expired jobs: %w", err)
		}
		type expired struct {
			id      string
			payload string
		}
		var candidates []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.id, &e.payload); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired job: %w", err)
			}
			candidates = append(candidates, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate expired jobs: %w", err)
		}

		for _, cand := range candidates {
			job, err := decodeJobPayload(cand.payload)
			if err != nil {
				return err
			}
			job.State = contracts.JobStateQueued
			job.Attempts++
			job.WorkerID = ""
			job.LeaseExpiresAt = nil
			job.UpdatedAt = now

			updated, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("marshal job: %w", err)
			}
			res, err := tx.ExecContext(ctx, `UPDATE jobs
SET state='queued', attempts=attempts+1, worker_id=NULL, lease_expires_at=NULL, updated_at=?, payload=?
WHERE id=? AND state='processing' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`,
				now, string(updated), cand.id, now)
			if err != nil {
				return fmt.Errorf("requeue expired job: %w", err)
			}
			if affected, _ := res.RowsAffected(); affected == 1 {
				reclaimed = append(reclaimed, cand.id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

func (q *SQLite) Get(ctx context.Context, jobID string) (*contracts.Job, error) {
	var payload string
	err := q.db.QueryRowContext(ctx, `SELECT payload FROM jobs WHERE id=?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", jobID, contracts.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeJobPayload(payload)
}

func (q *SQLite) List(ctx context.Context, state contracts.JobState, limit int) ([]*contracts.Job, error) {
	query := `SELECT payload FROM jobs`
	args := []any{}
	if state != "" {
		query += ` WHERE state=?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job, err := decodeJobPayload(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (q *SQLite) Backlog(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE state='queued'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count backlog: %w", err)
	}
	return count, nil
}

func (q *SQLite) lockLeasedTx(ctx context.Context, tx *sql.Tx, jobID, workerID string) (*contracts.Job, int, error) {
	var (
		payload      string
		state        string
		holder       sql.NullString
		leaseSeconds int
	)
	err := tx.QueryRowContext(ctx,
		`SELECT payload, state, worker_id, lease_seconds FROM jobs WHERE id=?`, jobID).
		Scan(&payload, &state, &holder, &leaseSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("job %s: %w", jobID, contracts.ErrJobNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load job: %w", err)
	}
	if state != string(contracts.JobStateProcessing) {
		return nil, 0, fmt.Errorf("job %s in state %s: %w", jobID, state, contracts.ErrJobNotProcessing)
	}
	if !holder.Valid || holder.String != workerID {
		return nil, 0, fmt.Errorf("job %s held by %s: %w", jobID, holder.String, contracts.ErrNotLeaseHolder)
	}
	job, err := decodeJobPayload(payload)
	if err != nil {
		return nil, 0, err
	}
	return job, leaseSeconds, nil
}

func (q *SQLite) updateLeasedTx(ctx context.Context, tx *sql.Tx, job *contracts.Job, workerID string, leaseUntil time.Time) error {
	updated, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE jobs
SET lease_expires_at=?, updated_at=?, payload=?
WHERE id=? AND state='processing' AND worker_id=?`,
		leaseUntil, job.UpdatedAt, string(updated), job.ID, workerID)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return fmt.Errorf("job %s: %w", job.ID, contracts.ErrNotLeaseHolder)
	}
	return nil
}

func (q *SQLite) finalizeTx(ctx context.Context, tx *sql.Tx, job *contracts.Job, workerID string) error {
	updated, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	var workerCol any
	if job.WorkerID != "" {
		workerCol = job.WorkerID
	}
	res, err := tx.ExecContext(ctx, `UPDATE jobs
SET state=?, attempts=?, worker_id=?, lease_expires_at=NULL, updated_at=?, payload=?
WHERE id=? AND state='processing' AND worker_id=?`,
		string(job.State), job.Attempts, workerCol, job.UpdatedAt, string(updated), job.ID, workerID)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return fmt.Errorf("job %s: %w", job.ID, contracts.ErrNotLeaseHolder)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
