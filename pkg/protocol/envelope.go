package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrInvalidToken      = errors.New("invalid recipient token")
)

// Kind classifies an inbound envelope by its type tag.
type Kind int

const (
	// KindChatSend is the default: every tag that is not reserved below is
	// treated as a chat message.
	KindChatSend Kind = iota
	KindOpenChat
	KindLoadSidebar
	KindInitiated
	KindSearch
	KindCompose
	KindTyping
)

var kindNames = map[Kind]string{
	KindChatSend:    "chat_send",
	KindOpenChat:    "open_chat",
	KindLoadSidebar: "load_sidebar",
	KindInitiated:   "initiated",
	KindSearch:      "search",
	KindCompose:     "compose",
	KindTyping:      "typing",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Classify maps a type tag to its Kind. Unknown tags map to KindChatSend.
func Classify(tag string) Kind {
	switch tag {
	case TagOpenChat:
		return KindOpenChat
	case TagLoadSidebar:
		return KindLoadSidebar
	case TagInitiated:
		return KindInitiated
	case TagSearch:
		return KindSearch
	case TagCompose:
		return KindCompose
	case TagTyping:
		return KindTyping
	default:
		return KindChatSend
	}
}

// Envelope is one decoded inbound message: a type tag plus the raw fields of
// the JSON object, kept for pass-through to services.
type Envelope struct {
	Type   string
	fields map[string]json.RawMessage
}

// Decode parses an inbound message. It only checks that the text is a JSON
// object with a non-empty string "type"; per-type validation is left to the
// handlers.
func Decode(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedEnvelope)
	}
	rawType, ok := fields["type"]
	if !ok {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, fmt.Errorf("%w: type must be a string", ErrMalformedEnvelope)
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformedEnvelope)
	}
	return &Envelope{Type: typ, fields: fields}, nil
}

// Kind returns the classification of the envelope's type tag.
func (e *Envelope) Kind() Kind {
	return Classify(e.Type)
}

// Has reports whether the field is present.
func (e *Envelope) Has(key string) bool {
	_, ok := e.fields[key]
	return ok
}

// String returns a string field. ok is false if the field is absent or not a
// string.
func (e *Envelope) String(key string) (string, bool) {
	raw, ok := e.fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Int returns an integer field. JSON numbers and numeric strings are both
// accepted since browsers send either.
func (e *Envelope) Int(key string) (int, bool) {
	raw, ok := e.fields[key]
	if !ok {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}

// RequireString returns a non-empty string field or ErrInvalidPayload.
func (e *Envelope) RequireString(key string) (string, error) {
	s, ok := e.String(key)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q is required for %q", ErrInvalidPayload, key, e.Type)
	}
	return s, nil
}

// With returns a copy of the envelope with key set to v. The receiver is not
// modified.
func (e *Envelope) With(key string, v any) (*Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", key, err)
	}
	fields := make(map[string]json.RawMessage, len(e.fields)+1)
	for k, f := range e.fields {
		fields[k] = f
	}
	fields[key] = raw
	return &Envelope{Type: e.Type, fields: fields}, nil
}

// Bind decodes the envelope's fields into v, typically one of the request
// structs. Unknown fields are ignored.
func (e *Envelope) Bind(v any) error {
	data, err := json.Marshal(e.fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
