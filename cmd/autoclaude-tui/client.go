package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/egv/autoclaude/internal/stream"
)

type streamMsg interface{}

type consoleMsg struct{ message stream.ConsoleMessage }

type heartbeatMsg struct{}

type reconnectingMsg struct {
	attempt int
	wait    time.Duration
}

// streamEndedMsg reports the stream closing for good: either the job
// reached a terminal state or reconnection was abandoned.
type streamEndedMsg struct{ terminal bool }

const (
	missedHeartbeats = 3
	backoffBase      = 500 * time.Millisecond
	backoffCap       = 10 * time.Second
)

type client struct {
	url        string
	heartbeat  time.Duration
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

func newClient(url string, heartbeat time.Duration) *client {
	if heartbeat <= 0 {
		heartbeat = stream.DefaultHeartbeat
	}
	return &client{
		url:        url,
		heartbeat:  heartbeat,
		httpClient: &http.Client{},
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// run streams console messages into out until the job ends or ctx is
// cancelled. A connection that goes silent for missedHeartbeats heartbeat
// intervals is dropped and re-established with exponential backoff.
func (c *client) run(ctx context.Context, out chan<- streamMsg) {
	defer close(out)

	delay := backoffBase
	for attempt := 1; ; attempt++ {
		terminal, sawFrames, err := c.follow(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if terminal {
			select {
			case out <- streamEndedMsg{terminal: true}:
			case <-ctx.Done():
			}
			return
		}
		if err == nil && sawFrames {
			// Clean end without a terminal line: the server went away
			// mid-job. Start over from the replayed ring.
			delay = backoffBase
		}

		select {
		case out <- reconnectingMsg{attempt: attempt, wait: delay}:
		case <-ctx.Done():
			return
		}
		if err := c.sleep(ctx, delay); err != nil {
			return
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// follow reads one SSE connection to completion. It reports whether a
// terminal console line was observed and whether any frame arrived at all.
func (c *client) follow(ctx context.Context, out chan<- streamMsg) (terminal bool, sawFrames bool, err error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, false, fmt.Errorf("stream returned %s", resp.Status)
	}

	lines := make(chan string, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-connCtx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	silence := time.NewTimer(time.Duration(missedHeartbeats) * c.heartbeat)
	defer silence.Stop()

	for {
		select {
		case <-connCtx.Done():
			return false, sawFrames, connCtx.Err()
		case <-silence.C:
			return false, sawFrames, fmt.Errorf("no heartbeat for %s", time.Duration(missedHeartbeats)*c.heartbeat)
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return false, sawFrames, err
				default:
					return false, sawFrames, nil
				}
			}
			if !silence.Stop() {
				<-silence.C
			}
			silence.Reset(time.Duration(missedHeartbeats) * c.heartbeat)

			switch {
			case strings.HasPrefix(line, "data:"):
				var message stream.ConsoleMessage
				if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &message); err != nil {
					continue
				}
				sawFrames = true
				select {
				case out <- consoleMsg{message: message}:
				case <-connCtx.Done():
					return false, sawFrames, connCtx.Err()
				}
				if isTerminalLine(message) {
					terminal = true
				}
			case strings.HasPrefix(line, ":"):
				sawFrames = true
				select {
				case out <- heartbeatMsg{}:
				case <-connCtx.Done():
					return false, sawFrames, connCtx.Err()
				}
			}
			if terminal {
				return true, sawFrames, nil
			}
		}
	}
}

// isTerminalLine recognizes the hub's final line for a job.
func isTerminalLine(message stream.ConsoleMessage) bool {
	switch message.Level {
	case stream.LevelError:
		return strings.HasPrefix(message.Text, "job failed")
	case stream.LevelInfo:
		return strings.HasPrefix(message.Text, "job completed")
	}
	return false
}
