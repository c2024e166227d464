package events

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Custom side-channel payload tags. The set is closed: anything else is
// rejected explicitly rather than silently dropped.
const (
	CustomTagToken  = "token"
	CustomTagStatus = "status"
)

// ErrUnknownEventTag is returned when a custom event declares a tag outside
// the closed set.
var ErrUnknownEventTag = errors.New("unknown custom event tag")

// CustomPayload is the typed payload of one custom side-channel event.
type CustomPayload struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// NewTokenPayload wraps a token fragment coming from an externally-streamed
// generation.
func NewTokenPayload(text string) CustomPayload {
	b, _ := json.Marshal(text)
	return CustomPayload{Type: CustomTagToken, Content: b}
}

func NewStatusPayload(s Status) CustomPayload {
	b, _ := json.Marshal(s)
	return CustomPayload{Type: CustomTagStatus, Content: b}
}

// Envelope dispatches the payload by its declared tag into the matching wire
// envelope.
func (p CustomPayload) Envelope() (Envelope, error) {
	switch p.Type {
	case CustomTagToken:
		var text string
		if err := json.Unmarshal(p.Content, &text); err != nil {
			return Envelope{}, errors.Wrap(err, "decode token payload")
		}
		return NewTokenEnvelope(text), nil
	case CustomTagStatus:
		var s Status
		if err := json.Unmarshal(p.Content, &s); err != nil {
			return Envelope{}, errors.Wrap(err, "decode status payload")
		}
		return NewStatusEnvelope(s), nil
	}
	return Envelope{}, errors.Wrapf(ErrUnknownEventTag, "tag %q", p.Type)
}
