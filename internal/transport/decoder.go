package transport

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

const maxEventSize = 1 << 20

// Event is one decoded frame
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event payload into v
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Decoder reads SSE frames from a stream
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next complete event, or io.EOF when the stream ends.
// A trailing frame without its blank line terminator is discarded.
func (d *Decoder) Next() (Event, error) {
	var (
		name string
		data []string
	)
	for d.scanner.Scan() {
		line := strings.TrimSuffix(d.scanner.Text(), "\r")

		if line == "" {
			if name == "" && len(data) == 0 {
				continue
			}
			if name == "" {
				name = "message"
			}
			return Event{Name: name, Data: json.RawMessage(strings.Join(data, "\n"))}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
