// Package swap - the rollback path: refund locked legs after expiry.
package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crossroute/swapd/internal/ledger"
	"github.com/crossroute/swapd/internal/storage"
)

// RollbackSwap unwinds a swap: it moves the swap through expired and
// rolling_back, issues refunds for whichever legs were locked, and lands in
// rolled_back. Invoked by the timeout scheduler for auto-rollback swaps and
// by operators for the rest. Re-invoking after completion is rejected with
// ErrAlreadyFinalized.
func (c *Coordinator) RollbackSwap(ctx context.Context, swapID, reason string) error {
	rec, err := c.registry.Get(swapID)
	if err != nil {
		return err
	}

	switch rec.State {
	case storage.SwapStateCompleted, storage.SwapStateRolledBack,
		storage.SwapStateFailed, storage.SwapStateCancelled:
		return ErrAlreadyFinalized
	case storage.SwapStateLocking, storage.SwapStateLocked:
		// Refunds cannot spend before the timelock expires.
		if time.Now().Before(rec.Deadline) {
			return fmt.Errorf("%w: deadline not reached", ErrNotReadyToRollback)
		}
		observed, ok, cerr := c.registry.CompareAndSwapState(swapID,
			storage.SwapStateExpired, storage.SwapStateLocking, storage.SwapStateLocked)
		if cerr != nil {
			return cerr
		}
		if !ok {
			// Lost the race against completion.
			if observed == storage.SwapStateCompleting || observed == storage.SwapStateCompleted {
				return ErrAlreadyFinalized
			}
			return ErrNotReadyToRollback
		}
		c.emitEvent(swapID, "state_changed", fmt.Sprintf("%s -> expired", observed))
	case storage.SwapStateExpired:
		// proceed
	default:
		return ErrNotReadyToRollback
	}

	if _, ok, err := c.registry.CompareAndSwapState(swapID, storage.SwapStateRollingBack, storage.SwapStateExpired); err != nil {
		return err
	} else if !ok {
		return ErrNotReadyToRollback
	}
	c.emitEvent(swapID, "state_changed", "expired -> rolling_back")

	rec, err = c.registry.Get(swapID)
	if err != nil {
		return err
	}

	c.log.Info("Rolling back swap", "swap_id", swapID, "reason", reason)

	type refundResult struct {
		initiator bool
		chain     string
		ref       string
		attempted bool
		err       error
	}
	results := make(chan refundResult, 2)
	refund := func(isInitiator bool, leg storage.SwapLeg) {
		if leg.LockRef == "" || leg.ClaimRef != "" {
			// Never locked, or already claimed; nothing to unwind.
			results <- refundResult{initiator: isInitiator, chain: leg.Chain}
			return
		}
		ref, err := c.refundWithBackoff(ctx, leg)
		results <- refundResult{initiator: isInitiator, chain: leg.Chain, ref: ref, attempted: true, err: err}
	}
	go refund(true, rec.InitiatorLeg)
	go refund(false, rec.ResponderLeg)

	var initRes, respRes refundResult
	for i := 0; i < 2; i++ {
		res := <-results
		if res.initiator {
			initRes = res
		} else {
			respRes = res
		}
	}

	var refunded []string
	for _, res := range []refundResult{initRes, respRes} {
		if res.attempted && res.err == nil {
			refunded = append(refunded, res.chain)
			c.emitEvent(swapID, "leg_refunded", fmt.Sprintf("%s: %s", res.chain, res.ref))
		} else if res.err != nil {
			c.emitEvent(swapID, "refund_failed", fmt.Sprintf("%s: %v", res.chain, res.err))
		}
	}

	if initRes.err != nil || respRes.err != nil {
		// One or both refunds exhausted their retries. Terminal failed
		// with the manual-intervention flag, never an unbounded retry.
		detail := fmt.Sprintf("%v: refunded legs [%s]", ErrRollbackPartialFailure, strings.Join(refunded, ","))
		uerr := c.registry.Update(swapID, func(r *storage.SwapRecord) error {
			r.State = storage.SwapStateFailed
			r.FailureReason = detail
			r.ManualIntervention = true
			r.RollbackReason = reason
			r.RolledBackLegs = strings.Join(refunded, ",")
			r.InitiatorLeg.RefundRef = initRes.ref
			r.ResponderLeg.RefundRef = respRes.ref
			r.CompletedAt = time.Now()
			return nil
		})
		if uerr != nil {
			return uerr
		}
		c.emitEvent(swapID, "failed", detail)
		c.recordOutcome(rec, storage.ConfirmationStatusFailed)
		return fmt.Errorf("%w: swap %s", ErrRollbackPartialFailure, swapID)
	}

	if err := c.registry.Update(swapID, func(r *storage.SwapRecord) error {
		if r.State != storage.SwapStateRollingBack {
			return ErrInvalidTransition
		}
		r.State = storage.SwapStateRolledBack
		r.RollbackReason = reason
		r.RolledBackLegs = strings.Join(refunded, ",")
		r.InitiatorLeg.RefundRef = initRes.ref
		r.ResponderLeg.RefundRef = respRes.ref
		r.CompletedAt = time.Now()
		return nil
	}); err != nil {
		return err
	}
	c.emitEvent(swapID, "state_changed", "rolling_back -> rolled_back")

	c.recordOutcome(rec, storage.ConfirmationStatusRolledBack)

	c.log.Info("Swap rolled back", "swap_id", swapID, "refunded_legs", strings.Join(refunded, ","))
	return nil
}

// refundWithBackoff retries a leg's refund with bounded exponential backoff.
// Unrecoverable errors and already-settled locks stop the retries early.
func (c *Coordinator) refundWithBackoff(ctx context.Context, leg storage.SwapLeg) (string, error) {
	adapter, err := c.adapters.Get(leg.Chain)
	if err != nil {
		return "", err
	}

	backoff := c.refundBackoff
	var lastErr error
	for attempt := 0; attempt < c.refundRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-c.ctx.Done():
				return "", c.ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		ref, err := adapter.Refund(ctx, leg.LockRef)
		if err == nil {
			return ref, nil
		}
		if errors.Is(err, ledger.ErrAlreadySettled) {
			// A previous attempt landed; idempotent success.
			return "", nil
		}
		if ledger.IsUnrecoverable(err) {
			return "", err
		}
		lastErr = err
		c.log.Warn("Refund attempt failed",
			"chain", leg.Chain, "lock_ref", leg.LockRef,
			"attempt", attempt+1, "error", err)
	}
	return "", lastErr
}
