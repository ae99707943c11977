package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single parsed server-sent event
type Event struct {
	Name string
	Data string
}

// Reader parses a text/event-stream body event by event
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps a stream body for event-at-a-time reading
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next event in the stream. Multi-line data fields
// are joined with newlines per the SSE spec. Returns io.EOF when the
// stream ends.
func (r *Reader) Next() (*Event, error) {
	var event Event
	var data []string

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Blank line terminates an event
		if line == "" {
			if event.Name == "" && len(data) == 0 {
				continue
			}
			event.Data = strings.Join(data, "\n")
			return &event, nil
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment line, ignore
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// Stream ended mid-event
	if event.Name != "" || len(data) > 0 {
		event.Data = strings.Join(data, "\n")
		return &event, nil
	}
	return nil, io.EOF
}
