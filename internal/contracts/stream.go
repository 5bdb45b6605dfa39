package contracts

import (
	"bufio"
	"io"
)

// EventStream appends domain events to a writer as JSONL. The server uses it
// for the audit log; the terminal viewer decodes the same format.
type EventStream struct {
	w io.Writer
}

func NewEventStream(writer io.Writer) *EventStream {
	return &EventStream{w: writer}
}

func (s *EventStream) Write(event DomainEvent) error {
	if s == nil || s.w == nil {
		return nil
	}
	line, err := MarshalEventJSONL(event)
	if err != nil {
		return err
	}
	_, err = io.WriteString(s.w, line)
	return err
}

type EventDecoder struct {
	scanner *bufio.Scanner
}

func NewEventDecoder(reader io.Reader) *EventDecoder {
	if reader == nil {
		return &EventDecoder{}
	}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &EventDecoder{scanner: scanner}
}

func (d *EventDecoder) Next() (DomainEvent, error) {
	if d == nil || d.scanner == nil {
		return DomainEvent{}, io.EOF
	}
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return DomainEvent{}, err
		}
		return DomainEvent{}, io.EOF
	}
	return ParseEventJSONLLine(d.scanner.Bytes())
}
