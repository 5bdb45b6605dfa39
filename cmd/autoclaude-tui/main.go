// Command autoclaude-tui follows one job's live console stream from an
// autoclaude server and renders it in the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/egv/autoclaude/internal/stream"
)

func main() {
	os.Exit(RunMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func RunMain(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("autoclaude-tui", flag.ContinueOnError)
	fs.SetOutput(errOut)

	server := fs.String("server", "http://localhost:8080", "Server base URL")
	jobID := fs.String("job", "", "Job ID to follow")
	events := fs.String("events", "", "Replay a domain-event JSONL file instead of connecting (- for stdin)")
	heartbeat := fs.Duration("heartbeat", stream.DefaultHeartbeat, "Expected server heartbeat interval")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *jobID == "" && *events == "" {
		fmt.Fprintln(errOut, "missing -job or -events")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messages := make(chan streamMsg, 64)
	label := *jobID

	if *events != "" {
		reader := in
		if *events != "-" {
			file, err := os.Open(*events)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return 1
			}
			defer file.Close()
			reader = file
		}
		if label == "" {
			label = *events
		}
		go decodeEvents(reader, messages)
	} else {
		streamURL := strings.TrimRight(*server, "/") + "/stream/jobs/" + url.PathEscape(*jobID)
		go newClient(streamURL, *heartbeat).run(ctx, messages)
	}

	if shouldUseFullscreen(out) {
		return runFullscreen(label, messages, out, errOut)
	}
	return renderPlain(label, messages, out)
}

func shouldUseFullscreen(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok || file == nil {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func runFullscreen(jobID string, messages <-chan streamMsg, out io.Writer, errOut io.Writer) int {
	width, height := 80, 24
	if file, ok := out.(*os.File); ok {
		if w, h, err := term.GetSize(int(file.Fd())); err == nil {
			width, height = w, h
		}
	}

	program := tea.NewProgram(
		newModel(jobID, messages, width, height),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	final, err := program.Run()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if m, ok := final.(model); ok && m.summary != "" {
		fmt.Fprint(out, m.summary)
	}
	return 0
}

// renderPlain is the non-terminal fallback: one line per console message.
func renderPlain(jobID string, messages <-chan streamMsg, out io.Writer) int {
	fmt.Fprintf(out, "following job %s\n", jobID)
	for msg := range messages {
		switch typed := msg.(type) {
		case consoleMsg:
			fmt.Fprintf(out, "%s [%s] %s\n",
				typed.message.TS.Format(time.RFC3339), typed.message.Level, typed.message.Text)
		case reconnectingMsg:
			fmt.Fprintf(out, "reconnecting (attempt %d, in %s)\n", typed.attempt, typed.wait)
		case streamEndedMsg:
			if typed.terminal {
				fmt.Fprintln(out, "stream ended")
				return 0
			}
		}
	}
	return 0
}
