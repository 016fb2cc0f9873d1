// Package wire implements the low-level framing used by the Protocol
// Translator's three output formats: Server-Sent Events (Anthropic,
// OpenAI) and newline-delimited JSON (vendor NDJSON). Framing is kept
// separate from the translator's state machine so a format swap never
// touches the byte-level protocol code.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSEEvent is a single Server-Sent Event.
type SSEEvent struct {
	Event string
	Data  string
	ID    string
}

// SSEReader parses the SSE wire format from an io.Reader (used when this
// gateway itself must read an upstream's SSE stream).
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader builds an SSEReader. The scanner buffer starts at 64KB and
// grows to 10MB to accommodate large tool-call payloads.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	return &SSEReader{scanner: scanner}
}

// Next reads the next complete event, returning io.EOF when the stream
// ends cleanly. Comment lines (prefixed ":") are skipped.
func (s *SSEReader) Next() (*SSEEvent, error) {
	var evt SSEEvent
	hasData := false

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if hasData || evt.Event != "" || evt.ID != "" {
				return &evt, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := parseSSELine(line)
		switch field {
		case "event":
			evt.Event = value
		case "data":
			if hasData {
				evt.Data += "\n" + value
			} else {
				evt.Data = value
				hasData = true
			}
		case "id":
			evt.ID = value
		}
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("wire: reading sse stream: %w", err)
	}
	if hasData || evt.Event != "" || evt.ID != "" {
		return &evt, nil
	}
	return nil, io.EOF
}

func parseSSELine(line string) (field, value string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	if strings.HasPrefix(value, " ") {
		value = value[1:]
	}
	return field, value
}

// SSEWriter writes Server-Sent Events to an http.ResponseWriter, flushing
// after every event for real-time delivery.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter builds an SSEWriter over w.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// WriteEvent writes and flushes a single SSE event.
func (s *SSEWriter) WriteEvent(evt *SSEEvent) error {
	if evt.Event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", evt.Event); err != nil {
			return fmt.Errorf("wire: writing sse event type: %w", err)
		}
	}
	if evt.ID != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", evt.ID); err != nil {
			return fmt.Errorf("wire: writing sse event id: %w", err)
		}
	}
	for _, dl := range strings.Split(evt.Data, "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", dl); err != nil {
			return fmt.Errorf("wire: writing sse data line: %w", err)
		}
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return fmt.Errorf("wire: writing sse terminator: %w", err)
	}
	s.Flush()
	return nil
}

// Flush flushes the underlying ResponseWriter if it supports http.Flusher.
func (s *SSEWriter) Flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
