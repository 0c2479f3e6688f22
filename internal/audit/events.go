// Package audit records payment lifecycle events to a pluggable journal.
// Recording is asynchronous and lossy under pressure: a full queue drops
// the event rather than stalling a payment request.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an audit event.
type EventType string

const (
	EventVerificationRequested EventType = "verification_requested"
	EventVerificationSuccess   EventType = "verification_success"
	EventVerificationFailed    EventType = "verification_failed"
	EventSettlementRequested   EventType = "settlement_requested"
	EventSettlementSuccess     EventType = "settlement_success"
	EventSettlementFailed      EventType = "settlement_failed"
	EventDuplicateDetected     EventType = "duplicate_detected"
	EventPaymentExpired        EventType = "payment_expired"
	EventRateLimitExceeded     EventType = "rate_limit_exceeded"
	EventServerStarted         EventType = "server_started"
	EventServerStopped         EventType = "server_stopped"
	EventConfigChanged         EventType = "config_changed"
)

// Event is one audit journal record.
type Event struct {
	ID                   string            `json:"id" bson:"id"`
	Type                 EventType         `json:"event_type" bson:"event_type"`
	Timestamp            time.Time         `json:"timestamp" bson:"timestamp"`
	TransactionSignature string            `json:"transaction_signature,omitempty" bson:"transaction_signature,omitempty"`
	Payer                string            `json:"payer,omitempty" bson:"payer,omitempty"`
	Network              string            `json:"network,omitempty" bson:"network,omitempty"`
	Amount               string            `json:"amount,omitempty" bson:"amount,omitempty"`
	Recipient            string            `json:"recipient,omitempty" bson:"recipient,omitempty"`
	Error                string            `json:"error,omitempty" bson:"error,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}
