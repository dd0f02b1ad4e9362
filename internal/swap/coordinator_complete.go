// Package swap - CompleteAtomicSwap: reveal the secret and claim both legs.
package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/crossroute/swapd/internal/storage"
)

// CompleteAtomicSwap reveals the swap secret to both legs' claim calls.
// Only valid from locked. Idempotent: completing an already-completed swap
// returns the stored result without re-executing.
func (c *Coordinator) CompleteAtomicSwap(ctx context.Context, swapID, completionRef string) (*storage.SwapRecord, error) {
	rec, err := c.registry.Get(swapID)
	if err != nil {
		return nil, err
	}

	switch rec.State {
	case storage.SwapStateCompleted:
		return rec, nil
	case storage.SwapStateLocked:
		// proceed
	case storage.SwapStateExpired, storage.SwapStateRollingBack, storage.SwapStateRolledBack:
		return nil, ErrSwapExpired
	case storage.SwapStateFailed, storage.SwapStateCancelled:
		return nil, ErrAlreadyFinalized
	default:
		return nil, ErrNotReadyToComplete
	}

	// Check-and-set from locked resolves the race against the scheduler's
	// rollback trigger: only one of completing or rolling_back wins.
	observed, ok, err := c.registry.CompareAndSwapState(swapID, storage.SwapStateCompleting, storage.SwapStateLocked)
	if err != nil {
		return nil, err
	}
	if !ok {
		if observed == storage.SwapStateCompleted {
			return c.registry.Get(swapID)
		}
		return nil, ErrNotReadyToComplete
	}
	c.emitEvent(swapID, "state_changed", "locked -> completing")

	secret, err := openSecret(c.sealKey, rec.SecretSealed)
	if err != nil {
		c.failSwap(swapID, fmt.Sprintf("cannot recover swap secret: %v", err), true)
		return nil, fmt.Errorf("%w: %v", ErrClaimFailed, err)
	}

	type claimResult struct {
		initiator bool
		ref       string
		err       error
	}
	results := make(chan claimResult, 2)
	claim := func(isInitiator bool, leg storage.SwapLeg) {
		adapter, err := c.adapters.Get(leg.Chain)
		if err != nil {
			results <- claimResult{initiator: isInitiator, err: err}
			return
		}
		ref, err := adapter.Claim(ctx, leg.LockRef, secret)
		results <- claimResult{initiator: isInitiator, ref: ref, err: err}
	}
	go claim(true, rec.InitiatorLeg)
	go claim(false, rec.ResponderLeg)

	var initRes, respRes claimResult
	for i := 0; i < 2; i++ {
		res := <-results
		if res.initiator {
			initRes = res
		} else {
			respRes = res
		}
	}

	if initRes.err != nil || respRes.err != nil {
		// A rejected claim after lock is unrecoverable without an
		// operator: the secret is now public and funds may be stranded
		// on one leg.
		detail := fmt.Sprintf("initiator: %v; responder: %v", initRes.err, respRes.err)
		c.emitEvent(swapID, "claim_failed", detail)

		uerr := c.registry.Update(swapID, func(r *storage.SwapRecord) error {
			r.InitiatorLeg.ClaimRef = initRes.ref
			r.ResponderLeg.ClaimRef = respRes.ref
			return nil
		})
		if uerr != nil {
			c.log.Error("Failed to record claim references", "swap_id", swapID, "error", uerr)
		}
		c.failSwap(swapID, fmt.Sprintf("%v: %s", ErrClaimFailed, detail), true)

		c.recordOutcome(rec, storage.ConfirmationStatusFailed)
		return nil, fmt.Errorf("%w: %s", ErrClaimFailed, detail)
	}

	if err := c.registry.Update(swapID, func(r *storage.SwapRecord) error {
		if r.State != storage.SwapStateCompleting {
			return ErrInvalidTransition
		}
		r.State = storage.SwapStateCompleted
		r.InitiatorLeg.ClaimRef = initRes.ref
		r.ResponderLeg.ClaimRef = respRes.ref
		r.CompletionRef = completionRef
		r.CompletedAt = time.Now()
		return nil
	}); err != nil {
		return nil, err
	}
	c.emitEvent(swapID, "state_changed", "completing -> completed")

	c.recordOutcome(rec, storage.ConfirmationStatusConfirmed)

	c.log.Info("Swap completed",
		"swap_id", swapID,
		"initiator_claim", initRes.ref,
		"responder_claim", respRes.ref)

	return c.registry.Get(swapID)
}

// recordOutcome mirrors a swap outcome into the confirmation ledger for
// both routers and reconciles the dual view. Ledger writes are idempotent
// per (transfer, router) key.
func (c *Coordinator) recordOutcome(rec *storage.SwapRecord, status storage.ConfirmationStatus) {
	metadata := fmt.Sprintf(`{"initiator":%q,"responder":%q,"initiator_asset":%q,"responder_asset":%q}`,
		rec.InitiatorID, rec.ResponderID, rec.InitiatorLeg.AssetID, rec.ResponderLeg.AssetID)

	for _, routerID := range []string{rec.InitiatorID, rec.ResponderID} {
		if _, err := c.confirms.Record(rec.SwapID, routerID, status, metadata); err != nil {
			c.log.Error("Failed to record confirmation",
				"swap_id", rec.SwapID, "router_id", routerID, "error", err)
		}
	}
	if view, err := c.confirms.Reconcile(rec.SwapID); err == nil {
		c.emitEvent(rec.SwapID, "confirmation_reconciled", string(view.Status))
	}
}
