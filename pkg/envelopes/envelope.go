package envelopes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedEnvelope is returned by FromWire when the wire bytes are not a
// JSON object or are missing a required field.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the canonical message shape carried on every queue.
//
// The envelope is immutable in transit: consumers re-serialize the payload
// unchanged when forwarding between services. In-process control flags never
// go into the payload; they travel in the dispatch scratch instead.
type Envelope struct {
	Type          string         `json:"type"`
	Version       int            `json:"version"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload"`
	IsRateLimited bool           `json:"is_rate_limited,omitempty"`
}

// Option mutates a freshly created envelope before it is returned by New.
type Option func(*Envelope)

// WithCorrelationID sets an explicit correlation id instead of minting one.
// Every event derived from the same user action must carry the parent's id.
func WithCorrelationID(id string) Option {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithVersion overrides the default version of 1.
func WithVersion(v int) Option {
	return func(e *Envelope) { e.Version = v }
}

// WithRateLimited marks the envelope as originating from a rate-limited user.
func WithRateLimited(limited bool) Option {
	return func(e *Envelope) { e.IsRateLimited = limited }
}

// New creates an envelope with a fresh correlation id and a UTC timestamp.
func New(eventType string, payload map[string]any, opts ...Option) *Envelope {
	e := &Envelope{
		Type:          eventType,
		Version:       1,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromWire parses the JSON wire format. A missing version defaults to 1 and a
// missing is_rate_limited defaults to false; an empty type or correlation id
// fails with ErrMalformedEnvelope.
func FromWire(body []byte) (*Envelope, error) {
	var raw struct {
		Type          string         `json:"type"`
		Version       *int           `json:"version"`
		CorrelationID string         `json:"correlation_id"`
		Timestamp     time.Time      `json:"timestamp"`
		Payload       map[string]any `json:"payload"`
		IsRateLimited bool           `json:"is_rate_limited"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformedEnvelope)
	}
	if raw.CorrelationID == "" {
		return nil, fmt.Errorf("%w: empty correlation_id", ErrMalformedEnvelope)
	}

	version := 1
	if raw.Version != nil {
		version = *raw.Version
	}
	if version < 1 {
		return nil, fmt.Errorf("%w: version %d", ErrMalformedEnvelope, version)
	}

	payload := raw.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	return &Envelope{
		Type:          raw.Type,
		Version:       version,
		CorrelationID: raw.CorrelationID,
		Timestamp:     raw.Timestamp,
		Payload:       payload,
		IsRateLimited: raw.IsRateLimited,
	}, nil
}

// ToWire returns the canonical JSON encoding.
func (e *Envelope) ToWire() ([]byte, error) {
	return json.Marshal(e)
}

// Derive creates a new envelope that continues this envelope's causal chain.
func (e *Envelope) Derive(eventType string, payload map[string]any, opts ...Option) *Envelope {
	derived := New(eventType, payload, WithCorrelationID(e.CorrelationID))
	for _, opt := range opts {
		opt(derived)
	}
	return derived
}
