package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const DefaultMaxBodyBytes = 1 << 20

// Handler serves /webhooks/{source}. count, when non-nil, feeds
// webhook_requests_total with (source, outcome) pairs.
func Handler(p *Processor, maxBodyBytes int64, count func(source, outcome string)) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if count == nil {
		count = func(string, string) {}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		source := r.PathValue("source")
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			count(source, "method_not_allowed")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				count(source, "too_large")
				return
			}
			http.Error(w, "failed to read body", http.StatusBadRequest)
			count(source, "read_error")
			return
		}

		outcome := p.Process(r.Context(), source, r.Header, body)
		label := string(outcome.Status)
		if outcome.Status == OutcomeRejected {
			label = string(outcome.RejectKind)
		}
		count(source, label)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(outcome.HTTPStatus())
		switch outcome.Status {
		case OutcomeAccepted, OutcomeDuplicate:
			json.NewEncoder(w).Encode(map[string]string{"job_id": outcome.JobID})
		default:
			json.NewEncoder(w).Encode(map[string]string{"error": outcome.RejectReason})
		}
	}
}
