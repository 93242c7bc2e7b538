package kafka

import (
	"encoding/json"
	"testing"
)

func TestDeterministicEventIDStable(t *testing.T) {
	a := DeterministicEventID("order-1", "order.placed")
	b := DeterministicEventID("order-1", "order.placed")
	if a != b {
		t.Fatalf("expected stable id, got %q and %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32-char id, got %d chars", len(a))
	}
}

func TestDeterministicEventIDDistinguishesBoundaries(t *testing.T) {
	a := DeterministicEventID("ab", "c")
	b := DeterministicEventID("a", "bc")
	if a == b {
		t.Fatal("ids must differ when part boundaries differ")
	}
}

func TestNewEnvelopeWithID(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"order_id": "o-1"})
	env := NewEnvelopeWithID("evt-1", EventOrderPlaced, payload)

	if env.EventID != "evt-1" {
		t.Fatalf("event id = %q", env.EventID)
	}
	if env.EventType != EventOrderPlaced {
		t.Fatalf("event type = %q", env.EventType)
	}
	if env.OccurredAt.IsZero() {
		t.Fatal("occurred_at not set")
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if string(decoded.Payload) != string(payload) {
		t.Fatalf("payload round trip mismatch: %s", decoded.Payload)
	}
}
