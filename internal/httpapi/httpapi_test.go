package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/queue"
)

func seedJob(t *testing.T, q contracts.JobQueue, id string) *contracts.Job {
	t.Helper()
	job := &contracts.Job{
		ID: id,
		Event: contracts.Event{
			Source:     contracts.SourceGitHub,
			EventType:  "issues.opened",
			DeliveryID: "delivery-" + id,
		},
		Skill: contracts.SkillResolveIssue,
	}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func TestGetJob(t *testing.T) {
	q := queue.NewMemory(queue.MemoryOptions{})
	seedJob(t, q, "job-1")
	mux := NewMux(Deps{Queue: q})

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest("GET", "/jobs/job-1", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var job contracts.Job
	if err := json.Unmarshal(recorder.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ID != "job-1" || job.State != contracts.JobStateQueued {
		t.Fatalf("unexpected job %+v", job)
	}

	recorder = httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest("GET", "/jobs/missing", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestListJobsByState(t *testing.T) {
	q := queue.NewMemory(queue.MemoryOptions{})
	seedJob(t, q, "job-1")
	seedJob(t, q, "job-2")
	if _, err := q.Dequeue(context.Background(), "worker-1", time.Minute); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	mux := NewMux(Deps{Queue: q})

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest("GET", "/jobs?state=queued", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var resp struct {
		Jobs []contracts.Job `json:"jobs"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].State != contracts.JobStateQueued {
		t.Fatalf("unexpected listing %+v", resp.Jobs)
	}

	recorder = httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest("GET", "/jobs?state=sideways", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest("GET", "/jobs?limit=banana", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", recorder.Code)
	}
}

func TestHealthz(t *testing.T) {
	mux := NewMux(Deps{})
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest("GET", "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	server := NewServer(NewMux(Deps{}), ServerOptions{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	// Give the listener a moment, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
