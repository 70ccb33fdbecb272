package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultEventType is the discriminator the daemon places on unsolicited
// pushes. Daemons with their own wrapper vocabulary can override it per
// connection.
const DefaultEventType = "event"

// ErrEmptyLine reports a blank input line, which carries no document.
var ErrEmptyLine = errors.New("empty line")

// Kind classifies an inbound frame for routing.
type Kind int

const (
	// KindUnknown marks a frame carrying neither routing field; a framing
	// violation the listener logs and skips.
	KindUnknown Kind = iota
	// KindResponse marks a frame echoing a request's correlation id.
	KindResponse
	// KindEvent marks an unsolicited push carrying the event discriminator.
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Frame is one decoded inbound document. ID and Type are the routing fields;
// Data and Error hold the nested payloads when present; Raw preserves the
// complete document for callers that classify success themselves.
type Frame struct {
	ID    string
	Type  string
	Data  json.RawMessage
	Error json.RawMessage
	Raw   json.RawMessage
}

type envelope struct {
	ID    json.RawMessage `json:"id"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

// Decode parses one line into a Frame. The line must be a single JSON
// document; a trailing newline is tolerated. A non-string correlation id is
// treated as absent, leaving classification to the remaining fields.
func Decode(line []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Frame{}, ErrEmptyLine
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	frame := Frame{
		Type:  env.Type,
		Data:  env.Data,
		Error: env.Error,
		Raw:   append(json.RawMessage(nil), trimmed...),
	}
	if len(env.ID) > 0 {
		var id string
		if err := json.Unmarshal(env.ID, &id); err == nil {
			frame.ID = id
		}
	}
	return frame, nil
}

// Classify applies the routing rule: a correlation id wins, then the push
// discriminator, otherwise the frame shape is unrecognized.
func (f Frame) Classify(eventType string) Kind {
	switch {
	case f.ID != "":
		return KindResponse
	case f.Type != "" && f.Type == eventType:
		return KindEvent
	default:
		return KindUnknown
	}
}

// Event is a decoded push notification as delivered to subscribers.
type Event struct {
	// Type is the frame's discriminator.
	Type string
	// Data is the nested payload, untouched.
	Data json.RawMessage
}

// EncodeRequest marshals a caller-supplied JSON object body, stamps the
// correlation id into its "id" field, and returns one newline-terminated
// line ready for the socket. Bodies that are not JSON objects are rejected;
// an "id" already present in the body is overwritten.
func EncodeRequest(id string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}

	idRaw, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal correlation id: %w", err)
	}
	fields["id"] = idRaw

	line, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return append(line, '\n'), nil
}
