package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType tags the direction of a frame message.
type MessageType string

const (
	TypeRequest  MessageType = "ElvFrameRequest"
	TypeResponse MessageType = "ElvFrameResponse"
)

// Operation names a lifecycle signal sent by the frame instead of a data request.
type Operation string

const (
	OpComplete Operation = "Complete"
	OpCancel   Operation = "Cancel"
	OpReload   Operation = "Reload"
)

// Known reports whether op is one of the lifecycle operations.
func (op Operation) Known() bool {
	switch op {
	case OpComplete, OpCancel, OpReload:
		return true
	}
	return false
}

// Message is a frame envelope. On the wire the payload fields sit next to
// type, requestId and operation in one flat object.
//
// RequestID holds the ID as the frame sent it: a string, a json.Number, or
// nil when absent. Replies echo it back in the same JSON type.
type Message struct {
	Type      MessageType
	RequestID any
	Operation Operation
	Payload   map[string]any
}

const (
	fieldType      = "type"
	fieldRequestID = "requestId"
	fieldOperation = "operation"
)

// MarshalJSON flattens the payload into the envelope.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+3)
	for k, v := range m.Payload {
		out[k] = v
	}
	out[fieldType] = m.Type
	out[fieldRequestID] = m.RequestID
	if m.Operation != "" {
		out[fieldOperation] = m.Operation
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits envelope fields from the payload. A numeric request
// ID is kept as a json.Number with its original text.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("bridge: message is not an object")
	}

	var envelope struct {
		RequestID json.RawMessage `json:"requestId"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return err
	}
	id, err := decodeRequestID(envelope.RequestID)
	if err != nil {
		return err
	}

	t, _ := raw[fieldType].(string)
	op, _ := raw[fieldOperation].(string)

	delete(raw, fieldType)
	delete(raw, fieldRequestID)
	delete(raw, fieldOperation)

	*m = Message{
		Type:      MessageType(t),
		RequestID: id,
		Operation: Operation(op),
		Payload:   raw,
	}
	return nil
}

func decodeRequestID(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case string, json.Number:
		return v, nil
	}
	return nil, fmt.Errorf("bridge: requestId has unsupported type %T", v)
}

// requestIDString renders id for logs.
func requestIDString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return fmt.Sprint(id)
}
