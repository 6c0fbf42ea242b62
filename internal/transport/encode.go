package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Frame encodes one event in the wire format "event: <name>\ndata: <json>\n\n"
func Frame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(event) + len(data) + 16)
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// Encode writes one event frame to w
func Encode(w io.Writer, event string, payload any) error {
	frame, err := Frame(event, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
