package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// Journal persists audit events. Implementations must tolerate concurrent
// Record calls; the dispatcher serializes them today but that is not part
// of the contract.
type Journal interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

// LogJournal writes audit events to the structured log. The default
// backend; always available, durable only as far as log shipping is.
type LogJournal struct {
	logger zerolog.Logger
}

// NewLogJournal builds a journal over the given logger.
func NewLogJournal(log zerolog.Logger) *LogJournal {
	return &LogJournal{logger: log}
}

func (j *LogJournal) Record(_ context.Context, event Event) error {
	entry := j.logger.Info().
		Str("audit_id", event.ID).
		Str("event_type", string(event.Type)).
		Time("event_time", event.Timestamp)

	if event.TransactionSignature != "" {
		entry = entry.Str("transaction_signature", event.TransactionSignature)
	}
	if event.Payer != "" {
		entry = entry.Str("payer", event.Payer)
	}
	if event.Network != "" {
		entry = entry.Str("network", event.Network)
	}
	if event.Amount != "" {
		entry = entry.Str("amount", event.Amount)
	}
	if event.Recipient != "" {
		entry = entry.Str("recipient", event.Recipient)
	}
	if event.Error != "" {
		entry = entry.Str("error", event.Error)
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("audit.event")
	return nil
}

func (j *LogJournal) Close() error { return nil }
