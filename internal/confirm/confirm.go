// Package confirm implements the dual confirmation ledger. Each of the two
// routers party to a transfer records its own view of the outcome; the
// ledger reconciles the pair into a single consistency view.
package confirm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crossroute/swapd/internal/identity"
	"github.com/crossroute/swapd/internal/storage"
	"github.com/crossroute/swapd/pkg/logging"
)

// Ledger errors.
var (
	ErrNotFound        = errors.New("confirmation record not found")
	ErrAlreadyTerminal = errors.New("confirmation record is already rolled back")
)

// ViewStatus is the reconciled status of a transfer across both routers.
type ViewStatus string

const (
	ViewPending          ViewStatus = "pending"
	ViewPartialConfirmed ViewStatus = "partial_confirmed"
	ViewDualConfirmed    ViewStatus = "dual_confirmed"
	ViewFailed           ViewStatus = "failed"
)

// DualConfirmationView is derived from the stored records for a transfer,
// never stored itself.
type DualConfirmationView struct {
	TransferID string                        `json:"transfer_id"`
	Status     ViewStatus                    `json:"status"`
	Records    []*storage.ConfirmationRecord `json:"records"`
}

// Ledger records per-router confirmation outcomes and reconciles them.
// Writes are idempotent per (transfer, router) key so concurrent
// confirmations from both legs never corrupt the view.
type Ledger struct {
	store    *storage.Storage
	identity *identity.Identity
	logger   *logging.Logger
}

// NewLedger creates a confirmation ledger. The identity signs every record
// this node writes; pass nil to record unsigned.
func NewLedger(store *storage.Storage, id *identity.Identity, logger *logging.Logger) *Ledger {
	return &Ledger{
		store:    store,
		identity: id,
		logger:   logger.Component("confirm"),
	}
}

// Record upserts the confirmation record for (transferID, routerID).
// Re-recording the same key replaces the status, which is how a later
// rollback entry lands. Returns the stored record.
func (l *Ledger) Record(transferID, routerID string, status storage.ConfirmationStatus, metadata string) (*storage.ConfirmationRecord, error) {
	if transferID == "" || routerID == "" {
		return nil, fmt.Errorf("transfer id and router id are required")
	}

	rec := &storage.ConfirmationRecord{
		ConfirmationID: uuid.New().String(),
		TransferID:     transferID,
		RouterID:       routerID,
		Status:         status,
		Metadata:       metadata,
	}

	// Keep the original confirmation id stable across re-records so
	// rollback by id keeps working.
	if existing, err := l.store.GetConfirmation(transferID, routerID); err == nil {
		rec.ConfirmationID = existing.ConfirmationID
		rec.RollbackReason = existing.RollbackReason
		rec.RolledBackAt = existing.RolledBackAt
	}

	if l.identity != nil {
		rec.Signature = hex.EncodeToString(l.identity.Sign(recordDigest(rec)))
		rec.SignerPubKey = l.identity.PubKeyHex()
	}

	if err := l.store.SaveConfirmation(rec); err != nil {
		return nil, fmt.Errorf("failed to save confirmation: %w", err)
	}

	l.logger.Debug("Confirmation recorded",
		"transfer_id", transferID,
		"router_id", routerID,
		"status", status)

	return rec, nil
}

// Reconcile computes the DualConfirmationView for a transfer. Pure over
// stored records.
func (l *Ledger) Reconcile(transferID string) (*DualConfirmationView, error) {
	records, err := l.store.GetConfirmationsForTransfer(transferID)
	if err != nil {
		return nil, err
	}

	view := &DualConfirmationView{
		TransferID: transferID,
		Records:    records,
	}

	confirmed := 0
	for _, rec := range records {
		switch rec.Status {
		case storage.ConfirmationStatusConfirmed:
			confirmed++
		case storage.ConfirmationStatusFailed, storage.ConfirmationStatusRolledBack:
			view.Status = ViewFailed
			return view, nil
		}
	}

	switch confirmed {
	case 0:
		view.Status = ViewPending
	case 1:
		view.Status = ViewPartialConfirmed
	default:
		view.Status = ViewDualConfirmed
	}
	return view, nil
}

// Rollback marks a record rolled_back by confirmation id. The record keeps
// its history; rollback appends reason and timestamp.
func (l *Ledger) Rollback(confirmationID, reason string) error {
	rec, err := l.store.GetConfirmationByID(confirmationID)
	if err != nil {
		if errors.Is(err, storage.ErrConfirmationNotFound) {
			return ErrNotFound
		}
		return err
	}
	if rec.Status == storage.ConfirmationStatusRolledBack {
		return ErrAlreadyTerminal
	}

	rec.Status = storage.ConfirmationStatusRolledBack
	rec.RollbackReason = reason
	rec.RolledBackAt = time.Now()

	if l.identity != nil {
		rec.Signature = hex.EncodeToString(l.identity.Sign(recordDigest(rec)))
		rec.SignerPubKey = l.identity.PubKeyHex()
	}

	if err := l.store.SaveConfirmation(rec); err != nil {
		return fmt.Errorf("failed to save rollback: %w", err)
	}

	l.logger.Info("Confirmation rolled back",
		"confirmation_id", confirmationID,
		"transfer_id", rec.TransferID,
		"reason", reason)

	return nil
}

// VerifyRecord checks a record's signature against its embedded signer key.
// Unsigned records verify trivially.
func VerifyRecord(rec *storage.ConfirmationRecord) error {
	if rec.Signature == "" {
		return nil
	}
	sig, err := hex.DecodeString(rec.Signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	return identity.Verify(rec.SignerPubKey, recordDigest(rec), sig)
}

// recordDigest is the byte string a router signs: the identifying key plus
// the status and metadata snapshot. Rollback fields are excluded since the
// rollback transition re-signs.
func recordDigest(rec *storage.ConfirmationRecord) []byte {
	h := sha256.New()
	h.Write([]byte(rec.TransferID))
	h.Write([]byte{0})
	h.Write([]byte(rec.RouterID))
	h.Write([]byte{0})
	h.Write([]byte(rec.Status))
	h.Write([]byte{0})
	h.Write([]byte(rec.Metadata))
	return h.Sum(nil)
}
