// Package swap - ExecuteAtomicSwap and the lock phase.
package swap

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crossroute/swapd/internal/commitment"
	"github.com/crossroute/swapd/internal/ledger"
	"github.com/crossroute/swapd/internal/storage"
)

// ExecuteAtomicSwap validates the request, creates the swap record, and
// asynchronously dispatches both legs' lock calls. It returns as soon as the
// swap is in locking; the rest of the flow is driven by background
// monitoring and the timeout scheduler.
func (c *Coordinator) ExecuteAtomicSwap(ctx context.Context, req *Request) (*Receipt, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Both chains must have adapters before anything is written.
	if _, err := c.adapters.Get(req.InitiatorAsset.Chain); err != nil {
		return nil, fmt.Errorf("initiator leg: %w", err)
	}
	if _, err := c.adapters.Get(req.ResponderAsset.Chain); err != nil {
		return nil, fmt.Errorf("responder leg: %w", err)
	}

	// Authority gates the swap. A rejection here has no side effects: no
	// record, no ledger call, no confirmation entry.
	for _, check := range []struct {
		assetID  string
		routerID string
	}{
		{req.InitiatorAsset.AssetID, req.InitiatorID},
		{req.ResponderAsset.AssetID, req.ResponderID},
	} {
		if _, err := c.authorities.GetAuthority(check.assetID); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, check.assetID)
		}
		if d := c.authorities.ValidateAuthority(check.assetID, check.routerID); !d.Authorized {
			return nil, fmt.Errorf("%w: asset %s: %s", ErrUnauthorizedRouter, check.assetID, d.Reason)
		}
	}

	com, err := commitment.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret commitment: %w", err)
	}
	sealed, err := sealSecret(c.sealKey, com.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal secret: %w", err)
	}

	now := time.Now()
	rec := &storage.SwapRecord{
		SwapID:       uuid.New().String(),
		InitiatorID:  req.InitiatorID,
		ResponderID:  req.ResponderID,
		State:        storage.SwapStatePending,
		SecretHash:   com.HashHex(),
		SecretSealed: sealed,
		InitiatorLeg: storage.SwapLeg{
			Chain:         req.InitiatorAsset.Chain,
			AssetID:       req.InitiatorAsset.AssetID,
			Amount:        req.InitiatorAsset.Amount,
			Recipient:     req.InitiatorAsset.Recipient,
			RequiredConfs: requiredConfs(req, req.InitiatorAsset.Chain),
		},
		ResponderLeg: storage.SwapLeg{
			Chain:         req.ResponderAsset.Chain,
			AssetID:       req.ResponderAsset.AssetID,
			Amount:        req.ResponderAsset.Amount,
			Recipient:     req.ResponderAsset.Recipient,
			RequiredConfs: requiredConfs(req, req.ResponderAsset.Chain),
		},
		AutoRollback: req.AutoRollback,
		CreatedAt:    now,
		Deadline:     now.Add(req.Timeout),
	}

	if err := c.registry.Add(rec); err != nil {
		return nil, err
	}
	c.emitEvent(rec.SwapID, "created", fmt.Sprintf("%s/%s <-> %s/%s",
		rec.InitiatorLeg.Chain, rec.InitiatorLeg.AssetID,
		rec.ResponderLeg.Chain, rec.ResponderLeg.AssetID))

	if observed, ok, err := c.registry.CompareAndSwapState(rec.SwapID, storage.SwapStateLocking, storage.SwapStatePending); err != nil {
		return nil, fmt.Errorf("failed to enter locking: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("failed to enter locking: swap is already %s", observed)
	}
	c.emitEvent(rec.SwapID, "state_changed", "pending -> locking")

	c.log.Info("Swap accepted",
		"swap_id", rec.SwapID,
		"initiator", req.InitiatorID,
		"responder", req.ResponderID,
		"deadline", rec.Deadline)

	c.wg.Add(1)
	go c.runLockPhase(rec.SwapID)

	return &Receipt{SwapID: rec.SwapID, Status: storage.SwapStateLocking}, nil
}

func validateRequest(req *Request) error {
	switch {
	case req.InitiatorID == "" || req.ResponderID == "":
		return fmt.Errorf("%w: initiator and responder ids are required", ErrInvalidRequest)
	case req.InitiatorAsset.Amount == 0 || req.ResponderAsset.Amount == 0:
		return fmt.Errorf("%w: amounts must be positive", ErrInvalidRequest)
	case req.InitiatorAsset.Recipient == "" || req.ResponderAsset.Recipient == "":
		return fmt.Errorf("%w: recipients are required", ErrInvalidRequest)
	case req.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	return nil
}

func requiredConfs(req *Request, chain string) uint32 {
	if n, ok := req.RequiredConfirmations[chain]; ok && n > 0 {
		return n
	}
	return 1
}

type lockResult struct {
	initiator bool
	ref       *ledger.LockRef
	err       error
}

// runLockPhase fans out both legs' lock calls concurrently, joins on both,
// then monitors lock confirmations until the swap is locked or the deadline
// falls to the scheduler.
func (c *Coordinator) runLockPhase(swapID string) {
	defer c.wg.Done()

	rec, err := c.registry.Get(swapID)
	if err != nil {
		c.log.Error("Lock phase lost its swap", "swap_id", swapID, "error", err)
		return
	}
	secretHash, err := hex.DecodeString(rec.SecretHash)
	if err != nil {
		c.failSwap(swapID, fmt.Sprintf("malformed secret hash: %v", err), false)
		return
	}

	results := make(chan lockResult, 2)
	dispatch := func(isInitiator bool, leg storage.SwapLeg) {
		adapter, err := c.adapters.Get(leg.Chain)
		if err != nil {
			results <- lockResult{initiator: isInitiator, err: err}
			return
		}
		ref, err := adapter.Lock(c.ctx, ledger.LockParams{
			SecretHash: secretHash,
			Recipient:  leg.Recipient,
			AssetID:    leg.AssetID,
			Amount:     leg.Amount,
			Timelock:   rec.Deadline,
		})
		results <- lockResult{initiator: isInitiator, ref: ref, err: err}
	}
	go dispatch(true, rec.InitiatorLeg)
	go dispatch(false, rec.ResponderLeg)

	var initRes, respRes lockResult
	for i := 0; i < 2; i++ {
		res := <-results
		if res.initiator {
			initRes = res
		} else {
			respRes = res
		}
	}

	switch {
	case initRes.err != nil && respRes.err != nil:
		// Nothing locked; nothing to unwind.
		c.emitEvent(swapID, "lock_failed", fmt.Sprintf("initiator: %v; responder: %v", initRes.err, respRes.err))
		c.failSwap(swapID, fmt.Sprintf("%v on both legs", ErrLockFailed), false)
		return

	case initRes.err != nil || respRes.err != nil:
		failed, succeeded := initRes, respRes
		failedLeg, lockedLeg := rec.InitiatorLeg, rec.ResponderLeg
		if respRes.err != nil {
			failed, succeeded = respRes, initRes
			failedLeg, lockedLeg = rec.ResponderLeg, rec.InitiatorLeg
		}

		// Record the succeeded leg's lock so the refund path can find it.
		updateErr := c.registry.Update(swapID, func(r *storage.SwapRecord) error {
			setLegLockRef(r, lockedLeg.Chain, succeeded.ref.Ref)
			return nil
		})
		if updateErr != nil {
			c.log.Error("Failed to record lock reference", "swap_id", swapID, "error", updateErr)
		}
		c.emitEvent(swapID, "lock_failed", fmt.Sprintf("%s: %v", failedLeg.Chain, failed.err))
		c.emitEvent(swapID, "lock_dispatched", fmt.Sprintf("%s: %s", lockedLeg.Chain, succeeded.ref.Ref))

		if ledger.IsUnrecoverable(failed.err) {
			// The locked leg holds funds; flag for manual recovery.
			c.failSwap(swapID, fmt.Sprintf("unrecoverable lock failure on %s: %v", failedLeg.Chain, failed.err), true)
			return
		}
		// The locked leg's refund is only spendable after the timelock, so
		// the swap waits out its deadline and the scheduler unwinds it.
		c.log.Warn("One leg failed to lock; awaiting deadline for rollback",
			"swap_id", swapID, "failed_chain", failedLeg.Chain, "error", failed.err)
		return
	}

	if err := c.registry.Update(swapID, func(r *storage.SwapRecord) error {
		r.InitiatorLeg.LockRef = initRes.ref.Ref
		r.ResponderLeg.LockRef = respRes.ref.Ref
		return nil
	}); err != nil {
		c.log.Error("Failed to record lock references", "swap_id", swapID, "error", err)
		return
	}
	c.emitEvent(swapID, "lock_dispatched", fmt.Sprintf("%s: %s", rec.InitiatorLeg.Chain, initRes.ref.Ref))
	c.emitEvent(swapID, "lock_dispatched", fmt.Sprintf("%s: %s", rec.ResponderLeg.Chain, respRes.ref.Ref))

	c.monitorLocks(swapID)
}

// monitorLocks polls both legs' confirmation counts until both meet their
// required depth, then advances locking -> locked. Partial locking is never
// sufficient: the swap stays in locking until both legs confirm. Expiry is
// the scheduler's job, so the monitor simply parks when the state moves on.
func (c *Coordinator) monitorLocks(swapID string) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		rec, err := c.registry.Get(swapID)
		if err != nil || rec.State != storage.SwapStateLocking {
			return
		}

		initConfs := c.readConfirmations(rec.InitiatorLeg)
		respConfs := c.readConfirmations(rec.ResponderLeg)

		if err := c.registry.Update(swapID, func(r *storage.SwapRecord) error {
			if r.State != storage.SwapStateLocking {
				return ErrInvalidTransition
			}
			r.InitiatorLeg.LockConfs = initConfs
			r.ResponderLeg.LockConfs = respConfs
			return nil
		}); err != nil {
			return
		}

		if initConfs >= rec.InitiatorLeg.RequiredConfs && respConfs >= rec.ResponderLeg.RequiredConfs {
			if _, ok, err := c.registry.CompareAndSwapState(swapID, storage.SwapStateLocked, storage.SwapStateLocking); err != nil || !ok {
				return
			}
			c.emitEvent(swapID, "state_changed", "locking -> locked")
			c.log.Info("Swap locked", "swap_id", swapID,
				"initiator_confs", initConfs, "responder_confs", respConfs)
			return
		}
	}
}

// readConfirmations is an idempotent adapter read; errors are tolerated and
// retried on the next tick.
func (c *Coordinator) readConfirmations(leg storage.SwapLeg) uint32 {
	if leg.LockRef == "" {
		return leg.LockConfs
	}
	adapter, err := c.adapters.Get(leg.Chain)
	if err != nil {
		return leg.LockConfs
	}
	confs, err := adapter.ConfirmationCount(c.ctx, leg.LockRef)
	if err != nil {
		return leg.LockConfs
	}
	return confs
}

// failSwap moves a swap to failed from any non-terminal state and records
// the reason. manualIntervention flags swaps that may have funds stranded.
func (c *Coordinator) failSwap(swapID, reason string, manualIntervention bool) {
	err := c.registry.Update(swapID, func(r *storage.SwapRecord) error {
		if storage.IsTerminalState(r.State) {
			return ErrAlreadyFinalized
		}
		if !CanTransition(r.State, storage.SwapStateFailed) {
			return ErrInvalidTransition
		}
		r.State = storage.SwapStateFailed
		r.FailureReason = reason
		r.ManualIntervention = manualIntervention
		r.CompletedAt = time.Now()
		return nil
	})
	if err != nil {
		c.log.Error("Failed to fail swap", "swap_id", swapID, "error", err)
		return
	}
	c.emitEvent(swapID, "failed", reason)
	c.log.Error("Swap failed", "swap_id", swapID, "reason", reason, "manual_intervention", manualIntervention)
}

func setLegLockRef(r *storage.SwapRecord, chain, ref string) {
	if r.InitiatorLeg.Chain == chain {
		r.InitiatorLeg.LockRef = ref
	} else if r.ResponderLeg.Chain == chain {
		r.ResponderLeg.LockRef = ref
	}
}
