// Package rpc - dual confirmation ledger handlers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crossroute/swapd/internal/confirm"
)

// TransferIDParams identify a transfer by id. For swaps driven by this
// daemon the transfer id is the swap id.
type TransferIDParams struct {
	TransferID string `json:"transfer_id"`
}

// confirmationView returns the reconciled dual confirmation view for a
// transfer, derived from the individual router records.
func (s *Server) confirmationView(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TransferIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.TransferID == "" {
		return nil, fmt.Errorf("transfer_id is required")
	}

	return s.confirms.Reconcile(p.TransferID)
}

// confirmationList returns the raw confirmation records for a transfer.
func (s *Server) confirmationList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TransferIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.TransferID == "" {
		return nil, fmt.Errorf("transfer_id is required")
	}

	return s.store.GetConfirmationsForTransfer(p.TransferID)
}

// ConfirmationRollbackParams are the parameters for the
// confirmation_rollback method.
type ConfirmationRollbackParams struct {
	ConfirmationID string `json:"confirmation_id"`
	Reason         string `json:"reason"`
}

// confirmationRollback marks a confirmation record as rolled back. The
// record is annotated with the reason and timestamp, never deleted.
func (s *Server) confirmationRollback(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ConfirmationRollbackParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.ConfirmationID == "" {
		return nil, fmt.Errorf("confirmation_id is required")
	}
	if p.Reason == "" {
		return nil, fmt.Errorf("reason is required")
	}

	if err := s.confirms.Rollback(p.ConfirmationID, p.Reason); err != nil {
		return nil, err
	}

	return s.store.GetConfirmationByID(p.ConfirmationID)
}

// ConfirmationVerifyParams identify a confirmation record by id.
type ConfirmationVerifyParams struct {
	ConfirmationID string `json:"confirmation_id"`
}

// ConfirmationVerifyResult is the result of the confirmation_verify method.
type ConfirmationVerifyResult struct {
	ConfirmationID string `json:"confirmation_id"`
	Valid          bool   `json:"valid"`
	Error          string `json:"error,omitempty"`
}

// confirmationVerify checks a record's signature against its embedded
// signer key.
func (s *Server) confirmationVerify(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ConfirmationVerifyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.ConfirmationID == "" {
		return nil, fmt.Errorf("confirmation_id is required")
	}

	rec, err := s.store.GetConfirmationByID(p.ConfirmationID)
	if err != nil {
		return nil, err
	}

	result := &ConfirmationVerifyResult{ConfirmationID: p.ConfirmationID, Valid: true}
	if err := confirm.VerifyRecord(rec); err != nil {
		result.Valid = false
		result.Error = err.Error()
	}
	return result, nil
}
