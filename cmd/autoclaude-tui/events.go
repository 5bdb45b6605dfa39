package main

import (
	"io"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/stream"
)

// maxDecodeFailures ends a replay that is clearly not an event log.
const maxDecodeFailures = 3

// decodeEvents replays a domain-event JSONL stream, such as the server's
// audit log, into the viewer's message channel. Lines that fail to decode
// become warning lines; after maxDecodeFailures in a row the replay stops.
func decodeEvents(reader io.Reader, out chan<- streamMsg) {
	defer close(out)

	decoder := contracts.NewEventDecoder(reader)
	failures := 0
	terminal := false
	for {
		event, err := decoder.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			failures++
			out <- consoleMsg{message: stream.ConsoleMessage{
				Level: stream.LevelWarn,
				Text:  "decode error: " + err.Error(),
			}}
			if failures >= maxDecodeFailures {
				break
			}
			continue
		}
		failures = 0
		if msg, ok := stream.ConsoleLine(event); ok {
			out <- consoleMsg{message: msg}
		}
		if stream.IsTerminalEvent(event) {
			terminal = true
		}
	}
	out <- streamEndedMsg{terminal: terminal}
}
