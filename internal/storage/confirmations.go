// Package storage - confirmation ledger persistence.
// One row per (transfer, router); recording again upserts the row, and a
// rollback appends reason/timestamp instead of deleting history.
package storage

import (
	"database/sql"
	"errors"
	"time"
)

// Confirmation persistence errors.
var (
	ErrConfirmationNotFound = errors.New("confirmation not found")
)

// ConfirmationStatus is the status of one router's confirmation record.
type ConfirmationStatus string

const (
	ConfirmationStatusConfirmed  ConfirmationStatus = "confirmed"
	ConfirmationStatusFailed     ConfirmationStatus = "failed"
	ConfirmationStatusRolledBack ConfirmationStatus = "rolled_back"
)

// ConfirmationRecord is one router's view of a transfer outcome.
type ConfirmationRecord struct {
	ConfirmationID string             `json:"confirmation_id"`
	TransferID     string             `json:"transfer_id"`
	RouterID       string             `json:"router_id"`
	Status         ConfirmationStatus `json:"status"`

	Signature    string `json:"signature,omitempty"`     // hex DER signature over the record digest
	SignerPubKey string `json:"signer_pubkey,omitempty"` // hex compressed pubkey

	Metadata string `json:"metadata,omitempty"` // JSON snapshot of the transfer

	RecordedAt time.Time `json:"recorded_at"`

	RollbackReason string    `json:"rollback_reason,omitempty"`
	RolledBackAt   time.Time `json:"rolled_back_at,omitempty"`
}

const confirmationColumns = `
	confirmation_id, transfer_id, router_id, status, signature, signer_pubkey,
	metadata, recorded_at, rollback_reason, rolled_back_at`

// SaveConfirmation inserts or replaces the record for (transfer, router).
func (s *Storage) SaveConfirmation(rec *ConfirmationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	query := `
		INSERT INTO confirmations (` + confirmationColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id, router_id) DO UPDATE SET
			status = excluded.status,
			signature = excluded.signature,
			signer_pubkey = excluded.signer_pubkey,
			metadata = excluded.metadata,
			recorded_at = excluded.recorded_at,
			rollback_reason = excluded.rollback_reason,
			rolled_back_at = excluded.rolled_back_at
	`

	_, err := s.db.Exec(query,
		rec.ConfirmationID,
		rec.TransferID,
		rec.RouterID,
		string(rec.Status),
		rec.Signature,
		rec.SignerPubKey,
		rec.Metadata,
		rec.RecordedAt.Unix(),
		rec.RollbackReason,
		timeToUnixOrZero(rec.RolledBackAt),
	)
	return err
}

// GetConfirmation returns the record for (transfer, router).
func (s *Storage) GetConfirmation(transferID, routerID string) (*ConfirmationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT `+confirmationColumns+` FROM confirmations WHERE transfer_id = ? AND router_id = ?`,
		transferID, routerID,
	)
	return scanConfirmation(row)
}

// GetConfirmationByID returns a record by its confirmation id.
func (s *Storage) GetConfirmationByID(confirmationID string) (*ConfirmationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT `+confirmationColumns+` FROM confirmations WHERE confirmation_id = ?`,
		confirmationID,
	)
	return scanConfirmation(row)
}

// GetConfirmationsForTransfer returns every router's record for a transfer.
func (s *Storage) GetConfirmationsForTransfer(transferID string) ([]*ConfirmationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT `+confirmationColumns+` FROM confirmations WHERE transfer_id = ? ORDER BY router_id ASC`,
		transferID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ConfirmationRecord
	for rows.Next() {
		rec, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanConfirmation(row scanner) (*ConfirmationRecord, error) {
	var rec ConfirmationRecord
	var signature, signerPubKey, metadata, rollbackReason sql.NullString
	var recordedAt, rolledBackAt int64

	err := row.Scan(
		&rec.ConfirmationID,
		&rec.TransferID,
		&rec.RouterID,
		&rec.Status,
		&signature,
		&signerPubKey,
		&metadata,
		&recordedAt,
		&rollbackReason,
		&rolledBackAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConfirmationNotFound
		}
		return nil, err
	}

	rec.Signature = signature.String
	rec.SignerPubKey = signerPubKey.String
	rec.Metadata = metadata.String
	rec.RollbackReason = rollbackReason.String
	rec.RecordedAt = time.Unix(recordedAt, 0)
	if rolledBackAt > 0 {
		rec.RolledBackAt = time.Unix(rolledBackAt, 0)
	}

	return &rec, nil
}
