// Command autoclaude is the orchestrator server: it ingests webhooks,
// queues jobs durably, runs the agent in isolated worktrees, and serves
// live streams, the jobs API, and metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/egv/autoclaude/internal/agentexec"
	"github.com/egv/autoclaude/internal/bus"
	"github.com/egv/autoclaude/internal/config"
	"github.com/egv/autoclaude/internal/contracts"
	execpkg "github.com/egv/autoclaude/internal/exec"
	"github.com/egv/autoclaude/internal/httpapi"
	"github.com/egv/autoclaude/internal/kanban"
	"github.com/egv/autoclaude/internal/metrics"
	"github.com/egv/autoclaude/internal/orchestrator"
	"github.com/egv/autoclaude/internal/queue"
	"github.com/egv/autoclaude/internal/snapshot"
	"github.com/egv/autoclaude/internal/stream"
	"github.com/egv/autoclaude/internal/vcs/git"
	"github.com/egv/autoclaude/internal/webhook"
	"github.com/egv/autoclaude/internal/worktree"
)

const (
	exitOK      = 0
	exitConfig  = 2
	exitRuntime = 70
)

const backlogHighWater = 100

type runFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) error

// RunMain parses flags, loads configuration, and hands the validated config
// to run. Exit codes: 0 clean shutdown, 2 configuration error, 70 runtime
// failure.
func RunMain(args []string, run runFunc, stderr io.Writer) int {
	if stderr == nil {
		stderr = io.Discard
	}
	fs := flag.NewFlagSet("autoclaude", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to the optional YAML config file")
	dev := fs.Bool("dev", false, "Development mode: in-memory queue and bus")

	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, err := config.Load(os.LookupEnv, *configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	if *dev {
		cfg.QueueDriver = queue.DriverMemory
		cfg.BusDriver = bus.DriverMemory
	}
	if cfg.RepoPath == "" {
		fmt.Fprintln(stderr, "REPO_PATH is required")
		return exitConfig
	}
	if cfg.AgentBinary == "" {
		fmt.Fprintln(stderr, "AGENT_BINARY is required")
		return exitConfig
	}

	logger := newLogger(stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if run == nil {
		run = runServer
	}
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		return exitRuntime
	}
	return exitOK
}

func main() {
	os.Exit(RunMain(os.Args[1:], runServer, os.Stderr))
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New()

	q, err := queue.Open(ctx, queue.Options{
		Driver:    cfg.QueueDriver,
		Path:      cfg.QueuePath,
		RedisAddr: cfg.RedisAddr,
	})
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	b, err := bus.Open(bus.Options{
		Driver:  cfg.BusDriver,
		NATSURL: cfg.NATSURL,
		OnDrop: func(subscriber string) {
			m.EventsDropped.WithLabelValues("bus").Inc()
			logger.Warn("slow consumer disconnected", "subscriber", subscriber)
		},
	})
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer b.Close()

	var wg sync.WaitGroup

	if cfg.EventsLogPath != "" {
		flush, err := startAuditLog(ctx, &wg, b, cfg.EventsLogPath, logger)
		if err != nil {
			return err
		}
		defer flush()
	}

	gitAdapter := git.New(execpkg.NewCommandRunner(logger))
	snapshots := snapshot.New(gitAdapter, snapshot.Options{})
	worktrees, err := worktree.NewManager(gitAdapter, snapshots, worktree.Options{
		RepoRoot: cfg.RepoPath,
		Root:     cfg.WorktreesRoot,
	})
	if err != nil {
		return fmt.Errorf("worktree manager: %w", err)
	}

	adapter, err := agentexec.New(agentexec.Options{
		Backend: cfg.AgentBackend,
		Binary:  cfg.AgentBinary,
		Grace:   cfg.AgentGrace,
	})
	if err != nil {
		return fmt.Errorf("agent adapter: %w", err)
	}

	orch, err := orchestrator.New(worktrees, snapshots, adapter, b, orchestrator.Options{
		AgentTimeout:   cfg.AgentTimeout,
		OutputMaxBytes: cfg.AgentMaxOutput,
		AutoCleanup:    cfg.AutoCleanupOnSuccess,
		CleanupMode:    cfg.CleanupMode,
		Logger:         logger,
		OnAgentTimeout: m.AgentTimeouts.Inc,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	aboveHighWater := false
	pool, err := orchestrator.NewPool(q, orch, orchestrator.PoolOptions{
		Workers: cfg.Workers,
		Lease:   cfg.Lease,
		Logger:  logger,
		OnJobCompleted: func(result string) {
			m.JobsCompleted.WithLabelValues(result).Inc()
		},
		OnBacklog: func(size int) {
			m.QueueBacklog.Set(float64(size))
			if size > backlogHighWater && !aboveHighWater {
				logger.Warn("queue backlog above high-water mark", "backlog", size)
			}
			aboveHighWater = size > backlogHighWater
		},
	})
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	processor, err := webhook.NewProcessor(webhook.Options{
		Queue:      q,
		Bus:        b,
		Secrets:    sourceSecrets(cfg),
		Skills:     skillTable(cfg.Skills),
		Logger:     logger,
		OnEnqueued: func(skill contracts.Skill) { m.JobsEnqueued.WithLabelValues(string(skill)).Inc() },
	})
	if err != nil {
		return fmt.Errorf("webhook processor: %w", err)
	}

	hub := stream.NewHub(stream.Options{
		OnDrop:             func() { m.EventsDropped.WithLabelValues("stream").Inc() },
		OnSubscriberChange: func(delta int) { m.StreamSubscribers.Add(float64(delta)) },
	})
	defer hub.Close()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Bridge(ctx, b)
	}()

	if cfg.KanbanEnabled() {
		trello, err := kanban.NewTrello(kanban.TrelloOptions{
			Key:       cfg.TrelloKey,
			Token:     cfg.TrelloToken,
			ListNames: cfg.KanbanLists,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("trello port: %w", err)
		}
		projection, err := kanban.NewProjection(trello, kanban.ProjectionOptions{
			BoardID:  cfg.KanbanBoardID,
			Logger:   logger,
			OnRetry:  m.ProjectionRetries.Inc,
			OnGiveUp: m.ProjectionFailures.Inc,
		})
		if err != nil {
			return fmt.Errorf("kanban projection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := projection.Run(ctx, b); err != nil && ctx.Err() == nil {
				logger.Error("kanban projection stopped", "error", err)
			}
		}()
	} else {
		logger.Warn("kanban projection disabled: board id or trello credentials not configured")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	mux := httpapi.NewMux(httpapi.Deps{
		Webhook: webhook.Handler(processor, webhook.DefaultMaxBodyBytes, func(source, outcome string) {
			m.WebhookRequests.WithLabelValues(source, outcome).Inc()
		}),
		SSE:     stream.SSEHandler(hub, cfg.StreamHeartbeat),
		WS:      stream.WSHandler(hub, cfg.StreamHeartbeat),
		Queue:   q,
		Metrics: m.Handler(),
	})
	server := httpapi.NewServer(mux, httpapi.ServerOptions{
		Addr:     cfg.ListenAddr,
		MaxConns: cfg.MaxConns,
		Logger:   logger,
	})

	serveErr := server.Serve(ctx)
	wg.Wait()
	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	return nil
}

// startAuditLog appends every domain event to path as JSONL. The returned
// flush func drains the coalescing window and closes the file.
func startAuditLog(ctx context.Context, wg *sync.WaitGroup, b contracts.Bus, path string, logger *slog.Logger) (func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open events log: %w", err)
	}
	sink := contracts.NewStreamEventSink(file)
	events, cancel := b.Subscribe("audit-log", 0)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := sink.Emit(ctx, event); err != nil {
					logger.Warn("events log write failed", "error", err)
				}
			}
		}
	}()

	return func() {
		if err := sink.Flush(); err != nil {
			logger.Warn("events log flush failed", "error", err)
		}
		file.Close()
	}, nil
}

func sourceSecrets(cfg *config.Config) map[contracts.Source]string {
	secrets := map[contracts.Source]string{}
	if cfg.GitHubSecret != "" {
		secrets[contracts.SourceGitHub] = cfg.GitHubSecret
	}
	if cfg.TrelloSecret != "" {
		secrets[contracts.SourceTrello] = cfg.TrelloSecret
	}
	return secrets
}

// skillTable converts the config file shape into the processor's table. An
// empty table selects the built-in defaults.
func skillTable(skills map[string]map[string]string) webhook.SkillTable {
	if len(skills) == 0 {
		return nil
	}
	table := webhook.SkillTable{}
	for source, events := range skills {
		mapped := map[string]contracts.Skill{}
		for eventType, skill := range events {
			mapped[eventType] = contracts.Skill(skill)
		}
		table[contracts.Source(source)] = mapped
	}
	return table
}
