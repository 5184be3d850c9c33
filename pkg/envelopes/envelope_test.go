package envelopes

import (
	"errors"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	e := New("events.telegram.raw", map[string]any{"text": "hi"})

	if e.Type != "events.telegram.raw" {
		t.Errorf("Type = %v, want events.telegram.raw", e.Type)
	}
	if e.Version != 1 {
		t.Errorf("Version = %v, want 1", e.Version)
	}
	if e.CorrelationID == "" {
		t.Error("CorrelationID is empty, want a fresh uuid")
	}
	if e.IsRateLimited {
		t.Error("IsRateLimited = true, want false")
	}
	if e.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", e.Timestamp.Location())
	}
}

func TestNew_Options(t *testing.T) {
	e := New("commands.gateway.reply", nil,
		WithCorrelationID("corr-1"),
		WithVersion(2),
		WithRateLimited(true),
	)

	if e.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %v, want corr-1", e.CorrelationID)
	}
	if e.Version != 2 {
		t.Errorf("Version = %v, want 2", e.Version)
	}
	if !e.IsRateLimited {
		t.Error("IsRateLimited = false, want true")
	}
}

func TestFromWire_RoundTrip(t *testing.T) {
	original := New("events.dl.video.ready", map[string]any{
		"presigned_url": "https://minio.local/bucket/abc",
		"message_id":    float64(42),
		"chat_id":       float64(-100),
	})

	body, err := original.ToWire()
	if err != nil {
		t.Fatalf("ToWire() error = %v", err)
	}

	parsed, err := FromWire(body)
	if err != nil {
		t.Fatalf("FromWire() error = %v", err)
	}

	if parsed.Type != original.Type {
		t.Errorf("Type = %v, want %v", parsed.Type, original.Type)
	}
	if parsed.Version != original.Version {
		t.Errorf("Version = %v, want %v", parsed.Version, original.Version)
	}
	if parsed.CorrelationID != original.CorrelationID {
		t.Errorf("CorrelationID = %v, want %v", parsed.CorrelationID, original.CorrelationID)
	}
	if !parsed.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", parsed.Timestamp, original.Timestamp)
	}
	if parsed.Payload["presigned_url"] != original.Payload["presigned_url"] {
		t.Errorf("Payload presigned_url = %v, want %v",
			parsed.Payload["presigned_url"], original.Payload["presigned_url"])
	}
}

func TestFromWire_Defaults(t *testing.T) {
	body := []byte(`{"type":"events.telegram.raw","correlation_id":"corr-7","timestamp":"2024-05-01T10:00:00Z","payload":{}}`)

	e, err := FromWire(body)
	if err != nil {
		t.Fatalf("FromWire() error = %v", err)
	}
	if e.Version != 1 {
		t.Errorf("Version = %v, want default 1", e.Version)
	}
	if e.IsRateLimited {
		t.Error("IsRateLimited = true, want default false")
	}
}

func TestFromWire_NilPayload(t *testing.T) {
	body := []byte(`{"type":"events.telegram.raw","correlation_id":"corr-8"}`)

	e, err := FromWire(body)
	if err != nil {
		t.Fatalf("FromWire() error = %v", err)
	}
	if e.Payload == nil {
		t.Error("Payload is nil, want empty map")
	}
}

func TestFromWire_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `this is not json`},
		{name: "top level array", body: `[1,2,3]`},
		{name: "empty type", body: `{"type":"","correlation_id":"corr-1"}`},
		{name: "missing type", body: `{"correlation_id":"corr-1"}`},
		{name: "empty correlation id", body: `{"type":"events.telegram.raw","correlation_id":""}`},
		{name: "zero version", body: `{"type":"events.telegram.raw","correlation_id":"corr-1","version":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromWire([]byte(tt.body))
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Errorf("FromWire() error = %v, want ErrMalformedEnvelope", err)
			}
		})
	}
}

func TestDerive_KeepsCorrelationID(t *testing.T) {
	parent := New("events.telegram.raw", map[string]any{"text": ".vdl https://example.com/v"})
	child := parent.Derive("commands.media.video_download", parent.Payload)

	if child.CorrelationID != parent.CorrelationID {
		t.Errorf("child CorrelationID = %v, want parent %v", child.CorrelationID, parent.CorrelationID)
	}
	if child.Type != "commands.media.video_download" {
		t.Errorf("child Type = %v", child.Type)
	}
}
