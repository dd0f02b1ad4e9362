package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossroute/swapd/internal/commitment"
)

// simLock is one lock held by the simulator.
type simLock struct {
	params        LockParams
	confirmations uint32
	claimed       bool
	refunded      bool
	claimRef      string
	refundRef     string
}

// SimAdapter is an in-memory ledger used for tests and local runs. It
// enforces real HTLC semantics: claims require the correct preimage,
// refunds require an expired timelock, and settled locks stay settled.
type SimAdapter struct {
	mu      sync.Mutex
	chainID string
	locks   map[string]*simLock

	// Failure injection for tests.
	failLock   error
	failClaim  error
	failRefund error
}

// NewSimAdapter creates a simulator for the given chain id.
func NewSimAdapter(chainID string) *SimAdapter {
	return &SimAdapter{
		chainID: chainID,
		locks:   make(map[string]*simLock),
	}
}

// ChainID returns the simulated chain id.
func (s *SimAdapter) ChainID() string {
	return s.chainID
}

// Lock places a simulated lock.
func (s *SimAdapter) Lock(_ context.Context, params LockParams) (*LockRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failLock != nil {
		return nil, s.failLock
	}
	if len(params.SecretHash) != commitment.SecretSize {
		return nil, Unrecoverable(fmt.Errorf("secret hash must be 32 bytes"))
	}
	if params.Recipient == "" {
		return nil, Unrecoverable(fmt.Errorf("recipient address is empty"))
	}

	ref := uuid.NewString()
	s.locks[ref] = &simLock{params: params}

	return &LockRef{Chain: s.chainID, Ref: ref}, nil
}

// Claim spends a lock with the secret.
func (s *SimAdapter) Claim(_ context.Context, lockRef string, secret []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failClaim != nil {
		return "", s.failClaim
	}

	lock, ok := s.locks[lockRef]
	if !ok {
		return "", ErrLockNotFound
	}
	if lock.claimed || lock.refunded {
		return "", ErrAlreadySettled
	}
	if !commitment.Verify(secret, lock.params.SecretHash) {
		return "", ErrInvalidSecret
	}

	lock.claimed = true
	lock.claimRef = uuid.NewString()
	return lock.claimRef, nil
}

// Refund returns a lock to its sender after expiry.
func (s *SimAdapter) Refund(_ context.Context, lockRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRefund != nil {
		return "", s.failRefund
	}

	lock, ok := s.locks[lockRef]
	if !ok {
		return "", ErrLockNotFound
	}
	if lock.claimed || lock.refunded {
		return "", ErrAlreadySettled
	}
	if time.Now().Before(lock.params.Timelock) {
		return "", ErrNotExpired
	}

	lock.refunded = true
	lock.refundRef = uuid.NewString()
	return lock.refundRef, nil
}

// IsExpired reports whether the lock's timelock has passed.
func (s *SimAdapter) IsExpired(_ context.Context, lockRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[lockRef]
	if !ok {
		return false, ErrLockNotFound
	}
	return time.Now().After(lock.params.Timelock), nil
}

// ConfirmationCount returns the lock's confirmation count.
func (s *SimAdapter) ConfirmationCount(_ context.Context, lockRef string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[lockRef]
	if !ok {
		return 0, ErrLockNotFound
	}
	return lock.confirmations, nil
}

// Mine advances every open lock by n confirmations, like n blocks landing.
func (s *SimAdapter) Mine(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lock := range s.locks {
		lock.confirmations += n
	}
}

// SetConfirmations pins a specific lock's confirmation count.
func (s *SimAdapter) SetConfirmations(lockRef string, n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[lockRef]; ok {
		lock.confirmations = n
	}
}

// FailNextLock makes subsequent Lock calls return err (nil to clear).
func (s *SimAdapter) FailNextLock(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLock = err
}

// FailNextClaim makes subsequent Claim calls return err (nil to clear).
func (s *SimAdapter) FailNextClaim(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failClaim = err
}

// FailNextRefund makes subsequent Refund calls return err (nil to clear).
func (s *SimAdapter) FailNextRefund(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefund = err
}

var _ Adapter = (*SimAdapter)(nil)
