// Package swap - status reads, cancellation, and restart recovery.
package swap

import (
	"context"
	"time"

	"github.com/crossroute/swapd/internal/storage"
)

// LegStatus is one side of a swap in a status document.
type LegStatus struct {
	Chain         string `json:"chain"`
	AssetID       string `json:"asset_id"`
	Amount        uint64 `json:"amount"`
	Recipient     string `json:"recipient"`
	RequiredConfs uint32 `json:"required_confs"`
	LockRef       string `json:"lock_ref,omitempty"`
	LockConfs     uint32 `json:"lock_confs"`
	ClaimRef      string `json:"claim_ref,omitempty"`
	RefundRef     string `json:"refund_ref,omitempty"`
}

// Status is the read-only snapshot returned by GetAtomicSwapStatus.
type Status struct {
	SwapID      string            `json:"swap_id"`
	InitiatorID string            `json:"initiator_id"`
	ResponderID string            `json:"responder_id"`
	State       storage.SwapState `json:"state"`

	PercentComplete  int   `json:"percent_complete"`
	SecondsRemaining int64 `json:"seconds_remaining"`

	InitiatorLeg LegStatus `json:"initiator_leg"`
	ResponderLeg LegStatus `json:"responder_leg"`

	RollbackEligible   bool   `json:"rollback_eligible"`
	RollbackReason     string `json:"rollback_reason,omitempty"`
	RolledBackLegs     string `json:"rolled_back_legs,omitempty"`
	FailureReason      string `json:"failure_reason,omitempty"`
	ManualIntervention bool   `json:"manual_intervention"`
	CompletionRef      string `json:"completion_ref,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	Deadline    time.Time `json:"deadline"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	Events []*storage.SwapEvent `json:"events"`
}

// GetAtomicSwapStatus returns the full status document for a swap,
// including its event log. Fails with ErrSwapNotFound for unknown ids.
func (c *Coordinator) GetAtomicSwapStatus(swapID string) (*Status, error) {
	rec, err := c.registry.Get(swapID)
	if err != nil {
		return nil, err
	}

	events, err := c.store.GetSwapEvents(swapID)
	if err != nil {
		return nil, err
	}

	remaining := int64(0)
	if !storage.IsTerminalState(rec.State) {
		if d := time.Until(rec.Deadline); d > 0 {
			remaining = int64(d.Seconds())
		}
	}

	return &Status{
		SwapID:             rec.SwapID,
		InitiatorID:        rec.InitiatorID,
		ResponderID:        rec.ResponderID,
		State:              rec.State,
		PercentComplete:    PercentComplete(rec.State),
		SecondsRemaining:   remaining,
		InitiatorLeg:       legStatus(rec.InitiatorLeg),
		ResponderLeg:       legStatus(rec.ResponderLeg),
		RollbackEligible:   rollbackEligible(rec.State),
		RollbackReason:     rec.RollbackReason,
		RolledBackLegs:     rec.RolledBackLegs,
		FailureReason:      rec.FailureReason,
		ManualIntervention: rec.ManualIntervention,
		CompletionRef:      rec.CompletionRef,
		CreatedAt:          rec.CreatedAt,
		Deadline:           rec.Deadline,
		CompletedAt:        rec.CompletedAt,
		Events:             events,
	}, nil
}

func legStatus(leg storage.SwapLeg) LegStatus {
	return LegStatus{
		Chain:         leg.Chain,
		AssetID:       leg.AssetID,
		Amount:        leg.Amount,
		Recipient:     leg.Recipient,
		RequiredConfs: leg.RequiredConfs,
		LockRef:       leg.LockRef,
		LockConfs:     leg.LockConfs,
		ClaimRef:      leg.ClaimRef,
		RefundRef:     leg.RefundRef,
	}
}

func rollbackEligible(state storage.SwapState) bool {
	switch state {
	case storage.SwapStateLocking, storage.SwapStateLocked, storage.SwapStateExpired:
		return true
	}
	return false
}

// CancelSwap aborts a swap that has not locked anything yet. Allowed only
// from pending or locking with no leg locked; once a leg holds funds,
// cancellation must go through the rollback path instead of a hard abort.
func (c *Coordinator) CancelSwap(ctx context.Context, swapID string) error {
	err := c.registry.Update(swapID, func(r *storage.SwapRecord) error {
		if storage.IsTerminalState(r.State) {
			return ErrAlreadyFinalized
		}
		if r.State != storage.SwapStatePending && r.State != storage.SwapStateLocking {
			return ErrCancelRequiresRollback
		}
		if r.InitiatorLeg.LockRef != "" || r.ResponderLeg.LockRef != "" {
			return ErrCancelRequiresRollback
		}
		r.State = storage.SwapStateCancelled
		r.CompletedAt = time.Now()
		return nil
	})
	if err != nil {
		return err
	}

	c.emitEvent(swapID, "cancelled", "")
	c.log.Info("Swap cancelled", "swap_id", swapID)
	return nil
}

// LoadPendingSwaps reloads every non-terminal swap from storage after a
// restart and resumes confirmation monitoring for swaps still locking.
// Swaps caught mid-dispatch or mid-claim are flagged for an operator since
// resubmitting state-mutating calls risks double-submission.
func (c *Coordinator) LoadPendingSwaps() (int, error) {
	recs, err := c.store.GetOpenSwaps()
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, rec := range recs {
		c.registry.Load(rec)
		resumed++

		switch rec.State {
		case storage.SwapStatePending:
			// Locks were never dispatched; nothing can be stranded.
			c.failSwap(rec.SwapID, "process restarted before lock dispatch", false)
		case storage.SwapStateLocking:
			c.wg.Add(1)
			go func(swapID string) {
				defer c.wg.Done()
				c.monitorLocks(swapID)
			}(rec.SwapID)
		case storage.SwapStateCompleting:
			// Claims may or may not have landed; never resubmit blindly.
			c.registry.Update(rec.SwapID, func(r *storage.SwapRecord) error {
				r.ManualIntervention = true
				return nil
			})
			c.log.Warn("Swap was completing at shutdown; flagged for operator review",
				"swap_id", rec.SwapID)
		}
	}

	c.log.Info("Recovered open swaps", "count", resumed)
	return resumed, nil
}
