package kafka

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TopicOrderEvents       = "exchange.order.events"
	TopicTransactionEvents = "exchange.transaction.events"
)

const (
	EventOrderPlaced          = "order.placed"
	EventOrderCancelled       = "order.cancelled"
	EventTransactionRecorded  = "transaction.recorded"
	EventTransactionConfirmed = "transaction.confirmed"
)

// Envelope is the wire format for every event the service emits.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType string, payload json.RawMessage) Envelope {
	return NewEnvelopeWithID(uuid.NewString(), eventType, payload)
}

func NewEnvelopeWithID(eventID, eventType string, payload json.RawMessage) Envelope {
	return Envelope{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// DeterministicEventID derives a stable event id from logical identity,
// so retried publishes for the same state transition reuse the same id.
func DeterministicEventID(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
