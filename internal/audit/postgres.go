package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/x402svm/facilitator/internal/metrics"
)

// AuditTableName is the journal table. Shared with the auditdb admin tool.
const AuditTableName = "x402_audit_events"

// AuditTableSchema creates the journal table and its query indexes.
const AuditTableSchema = `
CREATE TABLE IF NOT EXISTS ` + AuditTableName + ` (
	id                    UUID PRIMARY KEY,
	event_type            TEXT NOT NULL,
	timestamp             TIMESTAMPTZ NOT NULL,
	transaction_signature TEXT,
	payer                 TEXT,
	network               TEXT,
	amount                TEXT,
	recipient             TEXT,
	error                 TEXT,
	metadata              JSONB
);
CREATE INDEX IF NOT EXISTS idx_` + AuditTableName + `_event_type ON ` + AuditTableName + ` (event_type);
CREATE INDEX IF NOT EXISTS idx_` + AuditTableName + `_timestamp ON ` + AuditTableName + ` (timestamp);
CREATE INDEX IF NOT EXISTS idx_` + AuditTableName + `_payer ON ` + AuditTableName + ` (payer) WHERE payer IS NOT NULL;
`

// PostgresJournal persists audit events to PostgreSQL. The pool is owned by
// the caller; Close here is a no-op so the shared pool outlives the journal.
type PostgresJournal struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewPostgresJournal ensures the journal table exists and returns the
// journal. The metrics collector is optional.
func NewPostgresJournal(ctx context.Context, db *sql.DB, m *metrics.Metrics) (*PostgresJournal, error) {
	if _, err := db.ExecContext(ctx, AuditTableSchema); err != nil {
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	return &PostgresJournal{db: db, metrics: m}, nil
}

func (j *PostgresJournal) Record(ctx context.Context, event Event) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO ` + AuditTableName + ` (id, event_type, timestamp, transaction_signature, payer, network, amount, recipient, error, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	defer metrics.MeasureDBQuery(j.metrics, "insert_event", "postgres")()
	_, err := j.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.Timestamp,
		nullString(event.TransactionSignature),
		nullString(event.Payer),
		nullString(event.Network),
		nullString(event.Amount),
		nullString(event.Recipient),
		nullString(event.Error),
		nullBytes(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Close() error { return nil }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
