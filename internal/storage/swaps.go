// Package storage - swap state persistence.
// CRUD operations for persisting swap records and their event logs,
// enabling recovery after a coordinator restart.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Swap persistence errors.
var (
	ErrSwapNotFound = errors.New("swap not found")
	ErrSwapExists   = errors.New("swap already exists")
)

// SwapState is the persisted swap state. The state machine itself lives in
// the swap package; storage only knows which states are terminal.
type SwapState string

const (
	SwapStatePending     SwapState = "pending"
	SwapStateLocking     SwapState = "locking"
	SwapStateLocked      SwapState = "locked"
	SwapStateCompleting  SwapState = "completing"
	SwapStateCompleted   SwapState = "completed"
	SwapStateExpired     SwapState = "expired"
	SwapStateRollingBack SwapState = "rolling_back"
	SwapStateRolledBack  SwapState = "rolled_back"
	SwapStateFailed      SwapState = "failed"
	SwapStateCancelled   SwapState = "cancelled"
)

// TerminalSwapStates are the states a swap never leaves.
var TerminalSwapStates = []SwapState{
	SwapStateCompleted, SwapStateRolledBack, SwapStateFailed, SwapStateCancelled,
}

// IsTerminalState reports whether state is terminal.
func IsTerminalState(state SwapState) bool {
	for _, t := range TerminalSwapStates {
		if state == t {
			return true
		}
	}
	return false
}

// SwapLeg is one side of a persisted swap.
type SwapLeg struct {
	Chain         string `json:"chain"`
	AssetID       string `json:"asset_id"`
	Amount        uint64 `json:"amount"`
	Recipient     string `json:"recipient"`
	RequiredConfs uint32 `json:"required_confs"`

	LockRef   string `json:"lock_ref,omitempty"`
	LockConfs uint32 `json:"lock_confs"`
	ClaimRef  string `json:"claim_ref,omitempty"`
	RefundRef string `json:"refund_ref,omitempty"`
}

// SwapRecord is a persisted swap. It contains everything needed to resume
// scheduling after restart.
type SwapRecord struct {
	SwapID      string `json:"swap_id"`
	InitiatorID string `json:"initiator_id"`
	ResponderID string `json:"responder_id"`

	State SwapState `json:"state"`

	SecretHash   string `json:"secret_hash"`             // hex
	SecretSealed string `json:"secret_sealed,omitempty"` // hex of sealed secret

	InitiatorLeg SwapLeg `json:"initiator_leg"`
	ResponderLeg SwapLeg `json:"responder_leg"`

	AutoRollback   bool   `json:"auto_rollback"`
	RollbackReason string `json:"rollback_reason,omitempty"`
	RolledBackLegs string `json:"rolled_back_legs,omitempty"` // comma-separated chain ids

	FailureReason      string `json:"failure_reason,omitempty"`
	ManualIntervention bool   `json:"manual_intervention"`

	CompletionRef string `json:"completion_ref,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	Deadline    time.Time `json:"deadline"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

const swapColumns = `
	swap_id, initiator_id, responder_id, state, secret_hash, secret_sealed,
	init_chain, init_asset, init_amount, init_recipient, init_required_confs,
	init_lock_ref, init_lock_confs, init_claim_ref, init_refund_ref,
	resp_chain, resp_asset, resp_amount, resp_recipient, resp_required_confs,
	resp_lock_ref, resp_lock_confs, resp_claim_ref, resp_refund_ref,
	auto_rollback, rollback_reason, rolled_back_legs,
	failure_reason, manual_intervention, completion_ref,
	created_at, deadline, updated_at, completed_at`

// SaveSwap saves or updates a swap record using an upsert.
func (s *Storage) SaveSwap(swap *SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now

	query := `
		INSERT INTO swaps (` + swapColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(swap_id) DO UPDATE SET
			state = excluded.state,
			secret_sealed = excluded.secret_sealed,
			init_lock_ref = excluded.init_lock_ref,
			init_lock_confs = excluded.init_lock_confs,
			init_claim_ref = excluded.init_claim_ref,
			init_refund_ref = excluded.init_refund_ref,
			resp_lock_ref = excluded.resp_lock_ref,
			resp_lock_confs = excluded.resp_lock_confs,
			resp_claim_ref = excluded.resp_claim_ref,
			resp_refund_ref = excluded.resp_refund_ref,
			rollback_reason = excluded.rollback_reason,
			rolled_back_legs = excluded.rolled_back_legs,
			failure_reason = excluded.failure_reason,
			manual_intervention = excluded.manual_intervention,
			completion_ref = excluded.completion_ref,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`

	_, err := s.db.Exec(query,
		swap.SwapID,
		swap.InitiatorID,
		swap.ResponderID,
		string(swap.State),
		swap.SecretHash,
		swap.SecretSealed,
		swap.InitiatorLeg.Chain,
		swap.InitiatorLeg.AssetID,
		swap.InitiatorLeg.Amount,
		swap.InitiatorLeg.Recipient,
		swap.InitiatorLeg.RequiredConfs,
		swap.InitiatorLeg.LockRef,
		swap.InitiatorLeg.LockConfs,
		swap.InitiatorLeg.ClaimRef,
		swap.InitiatorLeg.RefundRef,
		swap.ResponderLeg.Chain,
		swap.ResponderLeg.AssetID,
		swap.ResponderLeg.Amount,
		swap.ResponderLeg.Recipient,
		swap.ResponderLeg.RequiredConfs,
		swap.ResponderLeg.LockRef,
		swap.ResponderLeg.LockConfs,
		swap.ResponderLeg.ClaimRef,
		swap.ResponderLeg.RefundRef,
		boolToInt(swap.AutoRollback),
		swap.RollbackReason,
		swap.RolledBackLegs,
		swap.FailureReason,
		boolToInt(swap.ManualIntervention),
		swap.CompletionRef,
		swap.CreatedAt.Unix(),
		swap.Deadline.Unix(),
		swap.UpdatedAt.Unix(),
		timeToUnixOrZero(swap.CompletedAt),
	)
	return err
}

// GetSwap retrieves a swap by id.
func (s *Storage) GetSwap(swapID string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE swap_id = ?`, swapID)
	swap, err := scanSwap(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSwapNotFound
		}
		return nil, err
	}
	return swap, nil
}

// GetOpenSwaps returns all swaps not in a terminal state, oldest first.
// These are the swaps recovered on startup and scanned by the scheduler.
func (s *Storage) GetOpenSwaps() ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + swapColumns + `
		FROM swaps
		WHERE state NOT IN ('completed', 'rolled_back', 'failed', 'cancelled')
		ORDER BY created_at ASC`

	return s.querySwaps(query)
}

// GetSwapsPastDeadline returns swaps in locking or locked whose deadline
// has passed, relative to the supplied clock reading.
func (s *Storage) GetSwapsPastDeadline(now time.Time) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + swapColumns + `
		FROM swaps
		WHERE state IN ('locking', 'locked')
		AND deadline <= ?
		ORDER BY deadline ASC`

	return s.querySwaps(query, now.Unix())
}

// ListSwaps returns swaps ordered by last update, optionally including
// terminal ones.
func (s *Storage) ListSwaps(limit int, includeTerminal bool) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + swapColumns + ` FROM swaps`
	if !includeTerminal {
		query += ` WHERE state NOT IN ('completed', 'rolled_back', 'failed', 'cancelled')`
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	return s.querySwaps(query)
}

// SwapCount returns counts of open and terminal swaps.
func (s *Storage) SwapCount() (open, terminal int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM swaps WHERE state NOT IN ('completed', 'rolled_back', 'failed', 'cancelled')",
	).Scan(&open)
	if err != nil {
		return
	}

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM swaps WHERE state IN ('completed', 'rolled_back', 'failed', 'cancelled')",
	).Scan(&terminal)
	return
}

// AppendSwapEvent appends one event to a swap's log.
func (s *Storage) AppendSwapEvent(swapID, eventType, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO swap_events (swap_id, event_type, detail, created_at) VALUES (?, ?, ?, ?)",
		swapID, eventType, detail, time.Now().Unix(),
	)
	return err
}

// SwapEvent is one entry in a swap's event log.
type SwapEvent struct {
	ID        int64     `json:"id"`
	SwapID    string    `json:"swap_id"`
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GetSwapEvents returns a swap's event log in append order.
func (s *Storage) GetSwapEvents(swapID string) ([]*SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, swap_id, event_type, detail, created_at FROM swap_events WHERE swap_id = ? ORDER BY id ASC",
		swapID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*SwapEvent
	for rows.Next() {
		var ev SwapEvent
		var detail sql.NullString
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.SwapID, &ev.EventType, &detail, &createdAt); err != nil {
			return nil, err
		}
		if detail.Valid {
			ev.Detail = detail.String
		}
		ev.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &ev)
	}

	return events, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for the shared scan path.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Storage) querySwaps(query string, args ...interface{}) ([]*SwapRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*SwapRecord
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}

	return swaps, rows.Err()
}

func scanSwap(row scanner) (*SwapRecord, error) {
	var swap SwapRecord
	var autoRollback, manualIntervention int
	var secretSealed, initLockRef, initClaimRef, initRefundRef sql.NullString
	var respLockRef, respClaimRef, respRefundRef sql.NullString
	var rollbackReason, rolledBackLegs, failureReason, completionRef sql.NullString
	var createdAt, deadline, updatedAt, completedAt int64

	err := row.Scan(
		&swap.SwapID,
		&swap.InitiatorID,
		&swap.ResponderID,
		&swap.State,
		&swap.SecretHash,
		&secretSealed,
		&swap.InitiatorLeg.Chain,
		&swap.InitiatorLeg.AssetID,
		&swap.InitiatorLeg.Amount,
		&swap.InitiatorLeg.Recipient,
		&swap.InitiatorLeg.RequiredConfs,
		&initLockRef,
		&swap.InitiatorLeg.LockConfs,
		&initClaimRef,
		&initRefundRef,
		&swap.ResponderLeg.Chain,
		&swap.ResponderLeg.AssetID,
		&swap.ResponderLeg.Amount,
		&swap.ResponderLeg.Recipient,
		&swap.ResponderLeg.RequiredConfs,
		&respLockRef,
		&swap.ResponderLeg.LockConfs,
		&respClaimRef,
		&respRefundRef,
		&autoRollback,
		&rollbackReason,
		&rolledBackLegs,
		&failureReason,
		&manualIntervention,
		&completionRef,
		&createdAt,
		&deadline,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	swap.AutoRollback = autoRollback == 1
	swap.ManualIntervention = manualIntervention == 1
	swap.SecretSealed = secretSealed.String
	swap.InitiatorLeg.LockRef = initLockRef.String
	swap.InitiatorLeg.ClaimRef = initClaimRef.String
	swap.InitiatorLeg.RefundRef = initRefundRef.String
	swap.ResponderLeg.LockRef = respLockRef.String
	swap.ResponderLeg.ClaimRef = respClaimRef.String
	swap.ResponderLeg.RefundRef = respRefundRef.String
	swap.RollbackReason = rollbackReason.String
	swap.RolledBackLegs = rolledBackLegs.String
	swap.FailureReason = failureReason.String
	swap.CompletionRef = completionRef.String

	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.Deadline = time.Unix(deadline, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt > 0 {
		swap.CompletedAt = time.Unix(completedAt, 0)
	}

	return &swap, nil
}
