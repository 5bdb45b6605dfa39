// Package httpapi wires the HTTP surface: webhook ingress, the jobs read
// API, live streams, health, and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/netutil"

	"github.com/egv/autoclaude/internal/contracts"
)

const (
	DefaultMaxConns      = 256
	shutdownDrainTimeout = 10 * time.Second
)

type Deps struct {
	Webhook http.HandlerFunc
	SSE     http.HandlerFunc
	WS      http.HandlerFunc
	Queue   contracts.JobQueue
	Metrics http.Handler
}

func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	if deps.Webhook != nil {
		// The webhook handler answers 405 with Allow itself, so it owns the
		// path for every method.
		mux.HandleFunc("/webhooks/{source}", deps.Webhook)
	}
	if deps.SSE != nil {
		mux.HandleFunc("GET /stream/jobs/{id}", deps.SSE)
	}
	if deps.WS != nil {
		mux.HandleFunc("GET /stream/jobs/{id}/ws", deps.WS)
	}
	if deps.Queue != nil {
		mux.HandleFunc("GET /jobs/{id}", getJobHandler(deps.Queue))
		mux.HandleFunc("GET /jobs", listJobsHandler(deps.Queue))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	return mux
}

func getJobHandler(queue contracts.JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := queue.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			if errors.Is(err, contracts.ErrJobNotFound) {
				http.Error(w, "job not found", http.StatusNotFound)
				return
			}
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}

func listJobsHandler(queue contracts.JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := contracts.JobState(r.URL.Query().Get("state"))
		switch state {
		case "", contracts.JobStateQueued, contracts.JobStateProcessing, contracts.JobStateDone, contracts.JobStateFailed:
		default:
			http.Error(w, "unknown state", http.StatusBadRequest)
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		jobs, err := queue.List(r.Context(), state, limit)
		if err != nil {
			http.Error(w, "list failed", http.StatusInternalServerError)
			return
		}
		if jobs == nil {
			jobs = []*contracts.Job{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"jobs": jobs})
	}
}

type Server struct {
	addr     string
	maxConns int
	handler  http.Handler
	logger   *slog.Logger
}

type ServerOptions struct {
	Addr     string
	MaxConns int
	Logger   *slog.Logger
}

func NewServer(handler http.Handler, options ServerOptions) *Server {
	addr := options.Addr
	if addr == "" {
		addr = ":8080"
	}
	maxConns := options.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		maxConns: maxConns,
		handler:  handler,
		logger:   logger.With("component", "http"),
	}
}

// Serve listens until ctx is cancelled, then drains with a bounded timeout.
// The listener is capped at maxConns concurrent connections.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	listener = netutil.LimitListener(listener, s.maxConns)

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info("listening", "addr", listener.Addr().String(), "max_conns", s.maxConns)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
