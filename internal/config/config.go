// Package config assembles runtime configuration. Precedence is
// environment over config file over defaults; the optional YAML file only
// carries the skill table and the board list-name map.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/egv/autoclaude/internal/contracts"
)

type Config struct {
	ListenAddr      string
	MaxConns        int
	LogLevel        string
	Workers         int
	Lease           time.Duration
	StreamHeartbeat time.Duration

	AgentBackend   string
	AgentBinary    string
	AgentTimeout   time.Duration
	AgentMaxOutput int64
	AgentGrace     time.Duration

	AutoCleanupOnSuccess bool
	CleanupMode          contracts.CleanupMode

	QueueDriver string
	QueuePath   string
	RedisAddr   string

	BusDriver string
	NATSURL   string

	RepoPath      string
	WorktreesRoot string
	EventsLogPath string

	GitHubSecret string
	TrelloSecret string

	TrelloKey     string
	TrelloToken   string
	KanbanBoardID string
	KanbanLists   map[contracts.CardStatus]string

	// Skills maps source -> event type -> skill name. Empty means the
	// built-in table.
	Skills map[string]map[string]string
}

// configFile is the strict YAML shape: unknown keys are rejected.
type configFile struct {
	Skills map[string]map[string]string `yaml:"skills"`
	Lists  map[string]string            `yaml:"lists"`
}

func Load(lookup func(string) (string, bool), filePath string) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := &Config{
		ListenAddr:      ":8080",
		MaxConns:        256,
		LogLevel:        "info",
		Workers:         4,
		Lease:           300 * time.Second,
		StreamHeartbeat: 15 * time.Second,
		AgentBackend:    "exec",
		AgentTimeout:    900 * time.Second,
		AgentMaxOutput:  1 << 20,
		AgentGrace:      10 * time.Second,
		CleanupMode:     contracts.CleanupModeLenient,
		QueueDriver:     "sqlite",
		BusDriver:       "memory",
		KanbanLists:     map[contracts.CardStatus]string{},
	}

	if filePath != "" {
		if err := cfg.applyFile(filePath); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file configFile
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if len(file.Skills) > 0 {
		c.Skills = file.Skills
	}
	for status, name := range file.Lists {
		c.KanbanLists[contracts.CardStatus(strings.ToUpper(status))] = name
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("AGENT_BACKEND", &c.AgentBackend)
	str("AGENT_BINARY", &c.AgentBinary)
	str("QUEUE_DRIVER", &c.QueueDriver)
	str("QUEUE_PATH", &c.QueuePath)
	str("REDIS_ADDR", &c.RedisAddr)
	str("BUS_DRIVER", &c.BusDriver)
	str("NATS_URL", &c.NATSURL)
	str("REPO_PATH", &c.RepoPath)
	str("WORKTREES_ROOT", &c.WorktreesRoot)
	str("EVENTS_LOG_PATH", &c.EventsLogPath)
	str("WEBHOOK_GITHUB_SECRET", &c.GitHubSecret)
	str("WEBHOOK_TRELLO_SECRET", &c.TrelloSecret)
	str("TRELLO_KEY", &c.TrelloKey)
	str("TRELLO_TOKEN", &c.TrelloToken)
	str("KANBAN_BOARD_ID", &c.KanbanBoardID)

	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && err == nil {
			parsed, parseErr := strconv.Atoi(v)
			if parseErr != nil {
				err = fmt.Errorf("%s: not an integer: %q", key, v)
				return
			}
			*dst = parsed
		}
	}
	integer("MAX_CONNS", &c.MaxConns)
	integer("WORKERS", &c.Workers)

	seconds := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && err == nil {
			parsed, parseErr := strconv.Atoi(v)
			if parseErr != nil || parsed <= 0 {
				err = fmt.Errorf("%s: not a positive integer: %q", key, v)
				return
			}
			*dst = time.Duration(parsed) * time.Second
		}
	}
	seconds("LEASE_SECONDS", &c.Lease)
	seconds("STREAM_HEARTBEAT_SECONDS", &c.StreamHeartbeat)
	seconds("AGENT_TIMEOUT_SECONDS", &c.AgentTimeout)
	seconds("AGENT_GRACE_SECONDS", &c.AgentGrace)

	if v, ok := lookup("AGENT_OUTPUT_MAX_BYTES"); ok && err == nil {
		parsed, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil || parsed <= 0 {
			err = fmt.Errorf("AGENT_OUTPUT_MAX_BYTES: not a positive integer: %q", v)
		} else {
			c.AgentMaxOutput = parsed
		}
	}
	if v, ok := lookup("AUTO_CLEANUP_ON_SUCCESS"); ok && err == nil {
		parsed, parseErr := strconv.ParseBool(v)
		if parseErr != nil {
			err = fmt.Errorf("AUTO_CLEANUP_ON_SUCCESS: not a boolean: %q", v)
		} else {
			c.AutoCleanupOnSuccess = parsed
		}
	}
	if v, ok := lookup("CLEANUP_MODE"); ok && err == nil {
		c.CleanupMode = contracts.CleanupMode(v)
	}
	for _, status := range contracts.AllCardStatuses() {
		if v, ok := lookup("KANBAN_LIST_" + string(status)); ok {
			c.KanbanLists[status] = v
		}
	}
	return err
}

func (c *Config) validate() error {
	switch c.CleanupMode {
	case contracts.CleanupModeLenient, contracts.CleanupModeStrict:
	default:
		return fmt.Errorf("CLEANUP_MODE must be lenient or strict, got %q", c.CleanupMode)
	}
	switch c.QueueDriver {
	case "sqlite", "memory", "redis":
	default:
		return fmt.Errorf("QUEUE_DRIVER must be sqlite, memory, or redis, got %q", c.QueueDriver)
	}
	switch c.BusDriver {
	case "memory", "nats":
	default:
		return fmt.Errorf("BUS_DRIVER must be memory or nats, got %q", c.BusDriver)
	}
	switch c.AgentBackend {
	case "exec", "acp":
	default:
		return fmt.Errorf("AGENT_BACKEND must be exec or acp, got %q", c.AgentBackend)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.QueueDriver == "sqlite" && c.QueuePath == "" {
		path, err := defaultQueuePath()
		if err != nil {
			return err
		}
		c.QueuePath = path
	}
	if c.QueueDriver == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required with the redis queue driver")
	}
	if c.BusDriver == "nats" && c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required with the nats bus driver")
	}
	return nil
}

// KanbanEnabled reports whether the projection should run: it needs the
// board plus Trello credentials.
func (c *Config) KanbanEnabled() bool {
	return c.KanbanBoardID != "" && c.TrelloKey != "" && c.TrelloToken != ""
}

func defaultQueuePath() (string, error) {
	if dir, ok := os.LookupEnv("XDG_STATE_HOME"); ok && dir != "" {
		return filepath.Join(dir, "autoclaude", "queue.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir for queue db: %w", err)
	}
	return filepath.Join(home, ".local", "state", "autoclaude", "queue.db"), nil
}
