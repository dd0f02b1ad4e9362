// Package swap - type definitions for the Coordinator.
package swap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crossroute/swapd/internal/authority"
	"github.com/crossroute/swapd/internal/confirm"
	"github.com/crossroute/swapd/internal/identity"
	"github.com/crossroute/swapd/internal/ledger"
	"github.com/crossroute/swapd/internal/storage"
	"github.com/crossroute/swapd/pkg/logging"
)

// Coordinator errors.
var (
	ErrUnauthorizedRouter     = errors.New("router has no authority over this asset")
	ErrUnsupportedAsset       = errors.New("asset is not registered")
	ErrLockFailed             = errors.New("lock failed")
	ErrClaimFailed            = errors.New("claim failed")
	ErrSwapExpired            = errors.New("swap deadline has passed")
	ErrAlreadyFinalized       = errors.New("swap is already finalized")
	ErrNotReadyToComplete     = errors.New("swap is not locked")
	ErrNotReadyToRollback     = errors.New("swap is not eligible for rollback")
	ErrCancelRequiresRollback = errors.New("a leg is already locked; cancellation must go through rollback")
	ErrRollbackPartialFailure = errors.New("rollback refunded only part of the swap")
	ErrInvalidRequest         = errors.New("invalid swap request")
)

// AssetSpec is one side of a requested swap.
type AssetSpec struct {
	Chain     string `json:"chain"`
	AssetID   string `json:"asset_id"`
	Amount    uint64 `json:"amount"`
	Recipient string `json:"recipient"`
}

// Request is the immutable input to ExecuteAtomicSwap. Validated once at
// submission, never mutated.
type Request struct {
	InitiatorID    string    `json:"initiator_id"`
	ResponderID    string    `json:"responder_id"`
	InitiatorAsset AssetSpec `json:"initiator_asset"`
	ResponderAsset AssetSpec `json:"responder_asset"`

	Timeout      time.Duration     `json:"timeout"`
	AutoRollback bool              `json:"auto_rollback"`

	// Required lock confirmations keyed by chain id. Chains absent from
	// the map use 1.
	RequiredConfirmations map[string]uint32 `json:"required_confirmations,omitempty"`
}

// Receipt is the immediate response to ExecuteAtomicSwap.
type Receipt struct {
	SwapID string            `json:"swap_id"`
	Status storage.SwapState `json:"status"`
}

// Event is emitted on every notable swap occurrence.
type Event struct {
	SwapID    string      `json:"swap_id"`
	EventType string      `json:"event_type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventHandler is called for every emitted swap event.
type EventHandler func(event Event)

// Coordinator orchestrates atomic swaps. It validates authority, drives the
// state machine, calls ledger adapters, and mirrors outcomes into the
// confirmation ledger. It is the only writer of swap records.
type Coordinator struct {
	mu sync.RWMutex

	registry    *Registry
	store       *storage.Storage
	adapters    *ledger.Registry
	authorities *authority.Registry
	confirms    *confirm.Ledger
	identity    *identity.Identity

	sealKey []byte

	pollInterval  time.Duration
	refundRetries int
	refundBackoff time.Duration

	eventHandlers []EventHandler

	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CoordinatorConfig holds the Coordinator's dependencies.
type CoordinatorConfig struct {
	Registry    *Registry
	Store       *storage.Storage
	Adapters    *ledger.Registry
	Authorities *authority.Registry
	Confirms    *confirm.Ledger
	Identity    *identity.Identity
	Logger      *logging.Logger

	// PollInterval is how often lock confirmations are re-read while a
	// swap is locking. Defaults to 5s.
	PollInterval time.Duration

	// RefundRetries and RefundBackoff bound the rollback retry loop.
	// Defaults: 3 retries starting at 500ms, doubling.
	RefundRetries int
	RefundBackoff time.Duration
}
