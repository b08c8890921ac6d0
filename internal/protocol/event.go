package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// ErrDecode is returned for inbound data channel messages that are not a
// single well-formed JSON object.
var ErrDecode = errors.New("protocol: malformed event")

// ServerEventIDPrefix is the prefix the realtime endpoint uses for the ids of
// events it originates. Client-generated ids never carry it.
const ServerEventIDPrefix = "event_"

const (
	fieldType    = "type"
	fieldEventID = "event_id"
)

// Event is one message exchanged over the data channel.
//
// Type and ID are lifted out of the wire object; every other top-level field is
// kept in Payload untouched, so an event survives decode/encode field-for-field.
// Events are treated as immutable once sent or appended to a log.
type Event struct {
	ID      string
	Type    string
	Payload map[string]any
}

// NewEvent builds an outbound event. The id is left empty; it is assigned at
// send time.
func NewEvent(typ string, payload map[string]any) Event {
	return Event{Type: typ, Payload: payload}
}

// NewEventID returns a fresh globally unique client event id.
func NewEventID() string {
	return uuid.NewString()
}

// WithID returns a copy of e carrying id.
func (e Event) WithID(id string) Event {
	e.ID = id
	return e
}

// IsClientOriginated reports whether the event was generated locally. The
// direction is not stored; it is inferred from the id naming convention.
func (e Event) IsClientOriginated() bool {
	return e.ID != "" && !strings.HasPrefix(e.ID, ServerEventIDPrefix)
}

// Field returns a top-level payload field.
func (e Event) Field(key string) (any, bool) {
	if e.Payload == nil {
		return nil, false
	}
	v, ok := e.Payload[key]
	return v, ok
}

// Clone returns a deep copy of the event. Nested maps and slices produced by
// JSON decoding are copied; other values are shared.
func (e Event) Clone() Event {
	out := Event{ID: e.ID, Type: e.Type}
	if e.Payload != nil {
		out.Payload = cloneValue(e.Payload).(map[string]any)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		obj[k] = v
	}
	obj[fieldType] = e.Type
	if e.ID != "" {
		obj[fieldEventID] = e.ID
	} else {
		delete(obj, fieldEventID)
	}
	return json.Marshal(obj)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	ev, err := Decode(data)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// Decode parses one inbound data channel message.
func Decode(data []byte) (Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, fmt.Errorf("%w: not a json object", ErrDecode)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Event{}, fmt.Errorf("%w: unexpected trailing data", ErrDecode)
	}

	var ev Event
	if raw, ok := obj[fieldType]; ok {
		s, ok := raw.(string)
		if !ok {
			return Event{}, fmt.Errorf("%w: type must be a string", ErrDecode)
		}
		ev.Type = s
		delete(obj, fieldType)
	}
	if raw, ok := obj[fieldEventID]; ok {
		s, ok := raw.(string)
		if !ok {
			return Event{}, fmt.Errorf("%w: event_id must be a string", ErrDecode)
		}
		ev.ID = s
		delete(obj, fieldEventID)
	}
	if len(obj) > 0 {
		ev.Payload = obj
	}
	return ev, nil
}

// Encode serializes an event to its wire text.
func Encode(e Event) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
