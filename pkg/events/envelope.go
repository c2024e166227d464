package events

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// EnvelopeKind discriminates the wire frames sent to the client.
type EnvelopeKind string

const (
	KindMessage EnvelopeKind = "message"
	KindToken   EnvelopeKind = "token"
	KindStatus  EnvelopeKind = "status"
	KindError   EnvelopeKind = "error"
	// KindDone is the stream sentinel. It is always the final frame, even on
	// the error path; clients rely on it for completion detection.
	KindDone EnvelopeKind = "[DONE]"
)

// GenericErrorMessage is the only error text that ever reaches the wire.
// Internal exception detail stays in the logs.
const GenericErrorMessage = "Internal server error"

// Envelope is one wire unit. The payload is a Turn for message frames, a
// string fragment for token frames, a Status for status frames, a generic
// string for error frames and empty for the done sentinel.
type Envelope struct {
	Kind    EnvelopeKind
	Payload any
}

func NewMessageEnvelope(payload any) Envelope { return Envelope{Kind: KindMessage, Payload: payload} }
func NewTokenEnvelope(text string) Envelope   { return Envelope{Kind: KindToken, Payload: text} }
func NewStatusEnvelope(s Status) Envelope     { return Envelope{Kind: KindStatus, Payload: s} }
func NewErrorEnvelope() Envelope              { return Envelope{Kind: KindError, Payload: GenericErrorMessage} }
func NewDoneEnvelope() Envelope               { return Envelope{Kind: KindDone, Payload: ""} }

type envelopeJSON struct {
	Type    EnvelopeKind `json:"type"`
	Content any          `json:"content"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = ""
	}
	return json.Marshal(envelopeJSON{Type: e.Kind, Content: payload})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type    EnvelopeKind    `json:"type"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.Kind = raw.Type
	switch raw.Type {
	case KindToken, KindError, KindDone:
		var s string
		if err := json.Unmarshal(raw.Content, &s); err != nil {
			return err
		}
		e.Payload = s
	case KindStatus:
		var s Status
		if err := json.Unmarshal(raw.Content, &s); err != nil {
			return err
		}
		e.Payload = s
	default:
		var v any
		if err := json.Unmarshal(raw.Content, &v); err != nil {
			return err
		}
		e.Payload = v
	}
	return nil
}

// WriteSSE frames the envelope as a single server-sent event.
func (e Envelope) WriteSSE(w io.Writer) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return errors.Wrap(err, "write sse frame")
}

func (e Envelope) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("kind", string(e.Kind))
}
