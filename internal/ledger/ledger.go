// Package ledger defines the per-chain adapter boundary for the swap
// coordinator. An Adapter exposes the HTLC primitives of one ledger: lock
// funds against a secret hash, claim with the revealed secret, refund after
// the timelock. Every call is potentially slow network I/O and potentially
// failing; the coordinator never assumes synchronous finality.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common adapter errors.
var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrLockNotFound     = errors.New("lock not found")
	ErrInvalidSecret    = errors.New("secret does not match lock hash")
	ErrNotExpired       = errors.New("timelock has not expired")
	ErrAlreadySettled   = errors.New("lock already claimed or refunded")
)

// unrecoverableError marks an adapter failure that no retry can fix, such
// as an invalid destination address. The coordinator fails the swap instead
// of retrying.
type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable wraps err so IsUnrecoverable reports true for it.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err was marked unrecoverable.
func IsUnrecoverable(err error) bool {
	var ue *unrecoverableError
	return errors.As(err, &ue)
}

// LockParams describes a lock to be placed on a ledger.
type LockParams struct {
	SecretHash []byte
	Recipient  string
	AssetID    string
	Amount     uint64
	Timelock   time.Time
}

// LockRef identifies a lock placed on a ledger.
type LockRef struct {
	Chain string
	Ref   string // transaction hash or contract lock id
}

func (r LockRef) String() string {
	return fmt.Sprintf("%s:%s", r.Chain, r.Ref)
}

// Adapter is the interface every supported chain implements.
// Implementations are selected at construction time from configuration,
// never by runtime type inspection.
type Adapter interface {
	// ChainID returns the chain identifier this adapter serves.
	ChainID() string

	// Lock places funds under a hash-time lock and returns its reference.
	Lock(ctx context.Context, params LockParams) (*LockRef, error)

	// Claim spends a lock by revealing the secret. Returns the claim
	// transaction reference.
	Claim(ctx context.Context, lockRef string, secret []byte) (string, error)

	// Refund returns locked funds to the sender after the timelock.
	// Returns the refund transaction reference.
	Refund(ctx context.Context, lockRef string) (string, error)

	// IsExpired reports whether the lock's timelock has passed.
	IsExpired(ctx context.Context, lockRef string) (bool, error)

	// ConfirmationCount returns how many confirmations the lock has.
	ConfirmationCount(ctx context.Context, lockRef string) (uint32, error)
}
