package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// WSHandler serves GET /stream/jobs/{id}/ws. Console messages go out as JSON
// text messages; heartbeats are ping control frames. The connection closes
// normally when the job reaches a terminal state.
func WSHandler(hub *Hub, heartbeat time.Duration) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.PathValue("id")
		if jobID == "" {
			http.Error(w, "missing job id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		messages, cancel := hub.Subscribe(jobID)
		defer cancel()

		// Discard client frames but notice the close handshake.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(heartbeat / 2)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case msg, ok := <-messages:
				if !ok {
					closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
					_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}
}
