package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uniplexprotocol/gate/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteLedger persists consumption receipts for durable billing-aggregate
// queries across process restarts; the pure-Go modernc.org/sqlite driver
// keeps the gate's only optional storage dependency free of cgo.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger wraps an open *sql.DB (e.g. sql.Open("sqlite", path)) and
// ensures the receipts table exists.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS receipts (
		receipt_id TEXT PRIMARY KEY,
		gate_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		credential_id TEXT NOT NULL,
		permission_key TEXT NOT NULL,
		catalog_version INTEGER NOT NULL,
		request_nonce TEXT,
		units INTEGER NOT NULL,
		cost_cents INTEGER NOT NULL,
		platform_fee_cents INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		effective_constraints JSON,
		proof_key_id TEXT,
		proof_signature TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_receipts_subject_gate ON receipts(subject_id, gate_id, timestamp);
	`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

// Append inserts one receipt. The receipt_id primary key rejects a
// duplicate insert, giving the ledger idempotent-append semantics for free.
func (l *SQLiteLedger) Append(ctx context.Context, r *contracts.ConsumptionReceipt) error {
	constraintsJSON, err := json.Marshal(r.EffectiveConstraints)
	if err != nil {
		return fmt.Errorf("marshal effective constraints: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO receipts (
			receipt_id, gate_id, subject_id, credential_id, permission_key, catalog_version,
			request_nonce, units, cost_cents, platform_fee_cents, timestamp,
			effective_constraints, proof_key_id, proof_signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReceiptID, r.GateID, r.SubjectID, r.CredentialID, r.PermissionKey, r.CatalogVersion,
		r.RequestNonce, r.Consumption.Units, r.Consumption.CostCents, r.Consumption.PlatformFeeCents,
		r.Consumption.Timestamp.UTC().Format(time.RFC3339Nano),
		string(constraintsJSON), r.Proof.KeyID, r.Proof.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ForPeriod returns every receipt for a subject/gate within [start, end),
// ordered oldest-first, ready to hand to Aggregate.
func (l *SQLiteLedger) ForPeriod(ctx context.Context, subjectID, gateID string, start, end time.Time) ([]*contracts.ConsumptionReceipt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT receipt_id, gate_id, subject_id, credential_id, permission_key, catalog_version,
			request_nonce, units, cost_cents, platform_fee_cents, timestamp,
			effective_constraints, proof_key_id, proof_signature
		FROM receipts
		WHERE subject_id = ? AND gate_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`,
		subjectID, gateID, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.ConsumptionReceipt
	for rows.Next() {
		r, err := scanReceiptRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReceiptRow(rows *sql.Rows) (*contracts.ConsumptionReceipt, error) {
	var (
		receiptID, gateID, subjectID, credentialID, permissionKey string
		catalogVersion                                            int
		requestNonce                                              sql.NullString
		units, costCents, platformFeeCents                        int64
		timestamp                                                 string
		constraintsJSON                                           sql.NullString
		proofKeyID, proofSignature                                sql.NullString
	)
	if err := rows.Scan(&receiptID, &gateID, &subjectID, &credentialID, &permissionKey, &catalogVersion,
		&requestNonce, &units, &costCents, &platformFeeCents, &timestamp,
		&constraintsJSON, &proofKeyID, &proofSignature); err != nil {
		return nil, err
	}

	ts, _ := time.Parse(time.RFC3339Nano, timestamp)

	var constraints contracts.ConstraintMap
	if constraintsJSON.Valid && constraintsJSON.String != "" {
		_ = json.Unmarshal([]byte(constraintsJSON.String), &constraints)
	}

	return &contracts.ConsumptionReceipt{
		Type:           "consumption",
		ReceiptID:      receiptID,
		GateID:         gateID,
		SubjectID:      subjectID,
		CredentialID:   credentialID,
		PermissionKey:  permissionKey,
		CatalogVersion: catalogVersion,
		RequestNonce:   requestNonce.String,
		EffectiveConstraints: constraints,
		Consumption: contracts.Consumption{
			Units:            units,
			CostCents:        costCents,
			PlatformFeeCents: platformFeeCents,
			Timestamp:        ts,
		},
		Proof: contracts.Proof{KeyID: proofKeyID.String, Signature: proofSignature.String},
	}, nil
}
