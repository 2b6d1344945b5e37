// Package serialization encodes domain events into the wire format used on the
// message bus. Every event travels in the same envelope: a protobuf Struct
// holding the event metadata and a JSON-shaped payload. Consumers in other
// languages can decode it with any protobuf runtime.
package serialization

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/term-closure/internal/domain/events"
)

const (
	fieldType      = "type"
	fieldKey       = "key"
	fieldTimestamp = "timestamp"
	fieldHeaders   = "headers"
	fieldPayload   = "payload"
)

// ErrMissingType is returned when a decoded envelope carries no event type.
var ErrMissingType = errors.New("envelope has no event type")

// EncodeEvent serializes evt into a protobuf envelope.
func EncodeEvent(evt events.DomainEvent) ([]byte, error) {
	if evt.Type == "" {
		return nil, ErrMissingType
	}

	payload, err := toValue(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to convert payload for event %s: %w", evt.Type, err)
	}

	headers := make(map[string]any, len(evt.Headers))
	for k, v := range evt.Headers {
		headers[k] = v
	}
	hv, err := structpb.NewStruct(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to convert headers: %w", err)
	}

	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldType:      structpb.NewStringValue(string(evt.Type)),
		fieldKey:       structpb.NewStringValue(evt.Key),
		fieldTimestamp: structpb.NewStringValue(evt.Timestamp.UTC().Format(time.RFC3339Nano)),
		fieldHeaders:   structpb.NewStructValue(hv),
		fieldPayload:   payload,
	}}

	data, err := proto.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope for event %s: %w", evt.Type, err)
	}
	return data, nil
}

// DecodeEvent parses an envelope produced by EncodeEvent. The returned event's
// Payload is the generic JSON form (map[string]any for struct payloads); use
// DecodePayload to bind it to a concrete type.
func DecodeEvent(data []byte) (events.DomainEvent, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(data, &env); err != nil {
		return events.DomainEvent{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	fields := env.GetFields()
	typ := fields[fieldType].GetStringValue()
	if typ == "" {
		return events.DomainEvent{}, ErrMissingType
	}

	evt := events.DomainEvent{
		Type: events.EventType(typ),
		Key:  fields[fieldKey].GetStringValue(),
	}

	if ts := fields[fieldTimestamp].GetStringValue(); ts != "" {
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return events.DomainEvent{}, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		evt.Timestamp = at
	}

	if h := fields[fieldHeaders].GetStructValue(); h != nil && len(h.GetFields()) > 0 {
		evt.Headers = make(map[string]string, len(h.GetFields()))
		for k, v := range h.GetFields() {
			evt.Headers[k] = v.GetStringValue()
		}
	}

	if p, ok := fields[fieldPayload]; ok {
		evt.Payload = p.AsInterface()
	}
	return evt, nil
}

// DecodePayload binds the generic payload of a decoded event into dst.
func DecodePayload(evt events.DomainEvent, dst any) error {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to re-encode payload for event %s: %w", evt.Type, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to bind payload for event %s: %w", evt.Type, err)
	}
	return nil
}

// toValue round-trips v through JSON so struct tags, uuid and time values get
// their usual textual form before landing in a structpb.Value.
func toValue(v any) (*structpb.Value, error) {
	if v == nil {
		return structpb.NewNullValue(), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}
