// Package queue implements the durable job store behind the webhook
// processor and the worker pool. Three drivers share one contract: sqlite
// (default, survives restarts), memory (tests and dev mode), and redis.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

type Options struct {
	Driver        string
	Path          string
	RedisAddr     string
	RedisDB       int
	RedisPassword string
	MaxAttempts   int
	Now           func() time.Time
}

// Open constructs the queue driver named by options.Driver. An empty driver
// selects sqlite.
func Open(ctx context.Context, options Options) (contracts.JobQueue, error) {
	switch strings.TrimSpace(options.Driver) {
	case DriverMemory:
		return NewMemory(MemoryOptions{MaxAttempts: options.MaxAttempts, Now: options.Now}), nil
	case DriverRedis:
		if strings.TrimSpace(options.RedisAddr) == "" {
			return nil, errors.New("redis queue driver requires an address")
		}
		return NewRedis(RedisOptions{
			Addr:        options.RedisAddr,
			DB:          options.RedisDB,
			Password:    options.RedisPassword,
			MaxAttempts: options.MaxAttempts,
			Now:         options.Now,
		}), nil
	case DriverSQLite, "":
		if strings.TrimSpace(options.Path) == "" {
			return nil, errors.New("sqlite queue driver requires a path")
		}
		return OpenSQLite(ctx, options.Path, SQLiteOptions{MaxAttempts: options.MaxAttempts, Now: options.Now})
	default:
		return nil, fmt.Errorf("unknown queue driver %q", options.Driver)
	}
}

func encodeJobPayload(job *contracts.Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	return string(data), nil
}

func decodeJobPayload(payload string) (*contracts.Job, error) {
	var job contracts.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &job, nil
}
