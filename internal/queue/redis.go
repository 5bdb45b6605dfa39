package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/egv/autoclaude/internal/contracts"
)

const (
	redisJobKeyPrefix      = "autoclaude:job:"
	redisDeliveryKeyPrefix = "autoclaude:delivery:"
	redisQueuedKey         = "autoclaude:state:queued"
	redisProcessingKey     = "autoclaude:state:processing"
	redisDoneKey           = "autoclaude:state:done"
	redisFailedKey         = "autoclaude:state:failed"
)

// Redis is the broker-backed queue driver. Delivery dedup is atomic on the
// server (SETNX); the remaining multi-key transitions are serialized behind
// a process-local mutex, which is sound because the orchestrator is the
// queue's only writer.
type Redis struct {
	client      *redis.Client
	mu          sync.Mutex
	maxAttempts int
	now         func() time.Time
}

type RedisOptions struct {
	Addr        string
	DB          int
	Password    string
	MaxAttempts int
	Now         func() time.Time
}

func NewRedis(options RedisOptions) *Redis {
	maxAttempts := options.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	client := redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		DB:       options.DB,
		Password: options.Password,
	})
	return &Redis{client: client, maxAttempts: maxAttempts, now: now}
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func redisJobKey(jobID string) string { return redisJobKeyPrefix + jobID }

func redisDeliveryKey(source contracts.Source, deliveryID string) string {
	return redisDeliveryKeyPrefix + string(source) + ":" + deliveryID
}

func redisStateKey(state contracts.JobState) string {
	switch state {
	case contracts.JobStateQueued:
		return redisQueuedKey
	case contracts.JobStateProcessing:
		return redisProcessingKey
	case contracts.JobStateDone:
		return redisDoneKey
	default:
		return redisFailedKey
	}
}

func (r *Redis) Enqueue(ctx context.Context, job *contracts.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	stored := job.Clone()
	now := r.now().UTC()
	stored.State = contracts.JobStateQueued
	if stored.SchemaVersion == 0 {
		stored.SchemaVersion = contracts.JobSchemaVersion
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	deliveryKey := redisDeliveryKey(stored.Event.Source, stored.Event.DeliveryID)
	claimed, err := r.client.SetNX(ctx, deliveryKey, stored.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim delivery: %w", err)
	}
	if !claimed {
		return contracts.ErrDuplicateDelivery
	}

	payload, err := encodeJobPayload(stored)
	if err != nil {
		_ = r.client.Del(ctx, deliveryKey).Err()
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, redisJobKey(stored.ID), "payload", payload, "lease_seconds", 0)
	pipe.ZAdd(ctx, redisQueuedKey, redis.Z{Score: float64(stored.CreatedAt.UnixNano()), Member: stored.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		// Release the delivery claim so a replayed enqueue can succeed.
		_ = r.client.Del(ctx, deliveryKey).Err()
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

func (r *Redis) ExistsByDelivery(ctx context.Context, source contracts.Source, deliveryID string) (string, bool, error) {
	jobID, err := r.client.Get(ctx, redisDeliveryKey(source, deliveryID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup delivery: %w", err)
	}
	return jobID, true, nil
}

func (r *Redis) Dequeue(ctx context.Context, workerID string, lease time.Duration) (*contracts.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.client.ZRange(ctx, redisQueuedKey, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("peek queued: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	jobID := ids[0]

	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	leaseUntil := now.Add(lease)
	job.State = contracts.JobStateProcessing
	job.WorkerID = workerID
	job.LeaseExpiresAt = &leaseUntil
	job.UpdatedAt = now

	payload, err := encodeJobPayload(job)
	if err != nil {
		return nil, err
	}

	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, redisQueuedKey, jobID)
	pipe.ZAdd(ctx, redisProcessingKey, redis.Z{Score: float64(leaseUntil.UnixNano()), Member: jobID})
	pipe.HSet(ctx, redisJobKey(jobID), "payload", payload, "lease_seconds", int(lease.Seconds()))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	return job, nil
}

func (r *Redis) Heartbeat(ctx context.Context, jobID, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, leaseSeconds, err := r.loadLeased(ctx, jobID, workerID)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	leaseUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
	job.LeaseExpiresAt = &leaseUntil
	job.UpdatedAt = now

	payload, err := encodeJobPayload(job)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, redisProcessingKey, redis.Z{Score: float64(leaseUntil.UnixNano()), Member: jobID})
	pipe.HSet(ctx, redisJobKey(jobID), "payload", payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return nil
}

func (r *Redis) Complete(ctx context.Context, jobID, workerID string, result contracts.JobResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, _, err := r.loadLeased(ctx, jobID, workerID)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	job.State = contracts.JobStateDone
	job.Result = &result
	job.Error = nil
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now
	return r.moveLeased(ctx, job, redisDoneKey, float64(now.UnixNano()))
}

func (r *Redis) Fail(ctx context.Context, jobID, workerID string, jobErr contracts.JobError) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, _, err := r.loadLeased(ctx, jobID, workerID)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	job.Error = &jobErr
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now

	if jobErr.Retryable && job.Attempts+1 < r.maxAttempts {
		job.State = contracts.JobStateQueued
		job.Attempts++
		job.WorkerID = ""
		return r.moveLeased(ctx, job, redisQueuedKey, float64(job.CreatedAt.UnixNano()))
	}
	job.State = contracts.JobStateFailed
	return r.moveLeased(ctx, job, redisFailedKey, float64(now.UnixNano()))
}

func (r *Redis) ReclaimExpired(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	ids, err := r.client.ZRangeByScore(ctx, redisProcessingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expired: %w", err)
	}

	var reclaimed []string
	for _, jobID := range ids {
		job, err := r.loadJob(ctx, jobID)
		if err != nil {
			return reclaimed, err
		}
		job.State = contracts.JobStateQueued
		job.Attempts++
		job.WorkerID = ""
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now

		payload, err := encodeJobPayload(job)
		if err != nil {
			return reclaimed, err
		}
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, redisProcessingKey, jobID)
		pipe.ZAdd(ctx, redisQueuedKey, redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: jobID})
		pipe.HSet(ctx, redisJobKey(jobID), "payload", payload)
		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, fmt.Errorf("requeue expired job: %w", err)
		}
		reclaimed = append(reclaimed, jobID)
	}
	sort.Strings(reclaimed)
	return reclaimed, nil
}

func (r *Redis) Get(ctx context.Context, jobID string) (*contracts.Job, error) {
	return r.loadJob(ctx, jobID)
}

func (r *Redis) List(ctx context.Context, state contracts.JobState, limit int) ([]*contracts.Job, error) {
	states := []contracts.JobState{state}
	if state == "" {
		states = []contracts.JobState{
			contracts.JobStateQueued,
			contracts.JobStateProcessing,
			contracts.JobStateDone,
			contracts.JobStateFailed,
		}
	}

	var out []*contracts.Job
	for _, st := range states {
		ids, err := r.client.ZRange(ctx, redisStateKey(st), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s jobs: %w", st, err)
		}
		for _, jobID := range ids {
			job, err := r.loadJob(ctx, jobID)
			if err != nil {
				return nil, err
			}
			out = append(out, job)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Redis) Backlog(ctx context.Context) (int, error) {
	count, err := r.client.ZCard(ctx, redisQueuedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count backlog: %w", err)
	}
	return int(count), nil
}

func (r *Redis) loadJob(ctx context.Context, jobID string) (*contracts.Job, error) {
	payload, err := r.client.HGet(ctx, redisJobKey(jobID), "payload").Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", jobID, contracts.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return decodeJobPayload(payload)
}

func (r *Redis) loadLeased(ctx context.Context, jobID, workerID string) (*contracts.Job, int, error) {
	fields, err := r.client.HMGet(ctx, redisJobKey(jobID), "payload", "lease_seconds").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load job: %w", err)
	}
	payload, _ := fields[0].(string)
	if payload == "" {
		return nil, 0, fmt.Errorf("job %s: %w", jobID, contracts.ErrJobNotFound)
	}
	job, err := decodeJobPayload(payload)
	if err != nil {
		return nil, 0, err
	}
	if job.State != contracts.JobStateProcessing {
		return nil, 0, fmt.Errorf("job %s in state %s: %w", jobID, job.State, contracts.ErrJobNotProcessing)
	}
	if job.WorkerID != workerID {
		return nil, 0, fmt.Errorf("job %s held by %s: %w", jobID, job.WorkerID, contracts.ErrNotLeaseHolder)
	}

	leaseSeconds := 0
	if raw, ok := fields[1].(string); ok && raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			leaseSeconds = parsed
		}
	}
	return job, leaseSeconds, nil
}

func (r *Redis) moveLeased(ctx context.Context, job *contracts.Job, targetKey string, score float64) error {
	payload, err := encodeJobPayload(job)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, redisProcessingKey, job.ID)
	pipe.ZAdd(ctx, targetKey, redis.Z{Score: score, Member: job.ID})
	pipe.HSet(ctx, redisJobKey(job.ID), "payload", payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("move job: %w", err)
	}
	return nil
}
