package webhooks

import "time"

// EventType names a webhook event.
type EventType string

const (
	EventVerificationSuccess EventType = "verification.success"
	EventVerificationFailure EventType = "verification.failure"
	EventSettlementSuccess   EventType = "settlement.success"
	EventSettlementFailure   EventType = "settlement.failure"
)

// EventData carries the payment facts for one event. Fields not relevant to
// an event are omitted from the JSON body.
type EventData struct {
	Payer                string `json:"payer,omitempty"`
	Network              string `json:"network,omitempty"`
	Amount               string `json:"amount,omitempty"`
	Recipient            string `json:"recipient,omitempty"`
	TransactionSignature string `json:"transactionSignature,omitempty"`
	ErrorReason          string `json:"errorReason,omitempty"`
}

// Payload is the wire body POSTed to the webhook endpoint. The receiver
// authenticates it against the X-Webhook-Signature header, an HMAC-SHA-256
// of the raw body keyed with the shared secret.
type Payload struct {
	Event     EventType `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// Dispatcher delivers payment lifecycle events to a configured endpoint.
// Notify never blocks the caller; delivery is best-effort and asynchronous.
type Dispatcher interface {
	Notify(event EventType, data EventData)
	Close()
}

// NopDispatcher ignores all events. Used when no webhook is configured.
type NopDispatcher struct{}

func (NopDispatcher) Notify(EventType, EventData) {}
func (NopDispatcher) Close()                      {}
