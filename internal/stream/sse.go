package stream

import (
	"encoding/json"
	"net/http"
	"time"
)

const DefaultHeartbeat = 15 * time.Second

// SSEHandler serves GET /stream/jobs/{id} as text/event-stream. Each console
// message is one `data:` frame of JSON; heartbeats are SSE comments so
// intermediaries keep the connection alive. The stream ends when the job
// reaches a terminal state or the client goes away.
func SSEHandler(hub *Hub, heartbeat time.Duration) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.PathValue("id")
		if jobID == "" {
			http.Error(w, "missing job id", http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		messages, cancel := hub.Subscribe(jobID)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
					return
				}
				flusher.Flush()
			case msg, ok := <-messages:
				if !ok {
					return
				}
				payload, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
