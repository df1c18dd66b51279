package runtime

import (
	"fmt"
	"unicode/utf8"

	"github.com/projects-backend/crisalidbus/internal/runtime/jsoncodec"
)

// MessageType enumerates the entity kinds published on the research graph
// exchange. The set is closed; anything else fails schema validation.
type MessageType string

const (
	TypePerson            MessageType = "person"
	TypeResearchStructure MessageType = "research_structure"
	TypeDocument          MessageType = "document"
	TypeHarvestingResult  MessageType = "harvesting_result_event"
)

// MessageTypes returns every known message type in a stable order.
func MessageTypes() []MessageType {
	return []MessageType{TypePerson, TypeResearchStructure, TypeDocument, TypeHarvestingResult}
}

func (t MessageType) Valid() bool {
	switch t {
	case TypePerson, TypeResearchStructure, TypeDocument, TypeHarvestingResult:
		return true
	}
	return false
}

// EventKind enumerates the lifecycle events carried on the exchange.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventDeleted   EventKind = "deleted"
	EventUnchanged EventKind = "unchanged"
)

// EventKinds returns every known event kind in a stable order.
func EventKinds() []EventKind {
	return []EventKind{EventCreated, EventUpdated, EventDeleted, EventUnchanged}
}

func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventUpdated, EventDeleted, EventUnchanged:
		return true
	}
	return false
}

// Ignored reports whether deliveries of this kind are dropped before
// handler lookup. "unchanged" events carry no work for the directory.
func (k EventKind) Ignored() bool {
	return k == EventUnchanged
}

// InboundEvent is one validated message envelope. It is built per delivery
// and never persisted.
type InboundEvent struct {
	Type   MessageType
	Event  EventKind
	Fields map[string]any
}

// DecodeError reports a payload that is not valid UTF-8 text.
type DecodeError struct {
	msg string
}

func (e *DecodeError) Error() string { return "decode payload: " + e.msg }

// ParseError reports a payload that is not well-formed JSON.
type ParseError struct {
	err error
}

func (e *ParseError) Error() string { return "parse payload: " + e.err.Error() }
func (e *ParseError) Unwrap() error { return e.err }

// SchemaError reports a well-formed payload that violates the envelope
// schema. Constraint names the violated rule.
type SchemaError struct {
	Constraint string
}

func (e *SchemaError) Error() string { return "invalid envelope: " + e.Constraint }

// ValidateEnvelope decodes and validates one raw broker payload. It is pure:
// no side effects, and every failure is returned, never raised.
func ValidateEnvelope(raw []byte) (*InboundEvent, error) {
	if !utf8.Valid(raw) {
		return nil, &DecodeError{msg: "payload is not valid UTF-8"}
	}

	var decoded any
	if err := jsoncodec.Unmarshal(raw, &decoded); err != nil {
		return nil, &ParseError{err: err}
	}

	payload, ok := decoded.(map[string]any)
	if !ok {
		return nil, &SchemaError{Constraint: "payload must be an object"}
	}

	for _, key := range []string{"type", "event", "fields"} {
		if _, ok := payload[key]; !ok {
			return nil, &SchemaError{Constraint: fmt.Sprintf("missing required key %q", key)}
		}
	}

	rawType, _ := payload["type"].(string)
	if !MessageType(rawType).Valid() {
		return nil, &SchemaError{Constraint: fmt.Sprintf("unknown type %v", payload["type"])}
	}

	rawEvent, _ := payload["event"].(string)
	if !EventKind(rawEvent).Valid() {
		return nil, &SchemaError{Constraint: fmt.Sprintf("unknown event %v", payload["event"])}
	}

	fields, ok := payload["fields"].(map[string]any)
	if !ok {
		return nil, &SchemaError{Constraint: "fields must be an object"}
	}

	return &InboundEvent{
		Type:   MessageType(rawType),
		Event:  EventKind(rawEvent),
		Fields: fields,
	}, nil
}
