// ABOUTME: Incremental SSE-style line decoder for the agent stream protocol
// ABOUTME: Buffers partial lines across chunks and skips comments and bad JSON

package protocol

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

const dataPrefix = "data:"

// Decoder turns raw stream chunks into decoded Events. Lines are
// newline-delimited; a partial trailing line is buffered until the next
// chunk arrives. Decoder is not safe for concurrent use; each stream gets
// its own instance.
type Decoder struct {
	buf    bytes.Buffer
	logger *slog.Logger
}

// NewDecoder creates a decoder. Pass nil logger for default.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger.With("component", "decoder")}
}

// Decode consumes one chunk and returns the events completed by it, in
// arrival order. Comment lines (leading ':') are dropped. A line whose JSON
// payload fails to decode is logged and skipped; the stream continues.
func (d *Decoder) Decode(chunk []byte) []*Event {
	d.buf.Write(chunk)

	var events []*Event
	for {
		data := d.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		d.buf.Next(idx + 1)

		if ev := d.decodeLine(line); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// Flush decodes any buffered final line that arrived without a trailing
// newline. Call once after the transport reports EOF.
func (d *Decoder) Flush() []*Event {
	if d.buf.Len() == 0 {
		return nil
	}
	line := d.buf.String()
	d.buf.Reset()

	if ev := d.decodeLine(line); ev != nil {
		return []*Event{ev}
	}
	return nil
}

func (d *Decoder) decodeLine(line string) *Event {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, ":") {
		// Comment / keep-alive line
		return nil
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return nil
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return nil
	}

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		d.logger.Warn("dropping malformed event line",
			"error", err,
			"line_length", len(line))
		return nil
	}
	return &ev
}
