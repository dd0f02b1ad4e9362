// Package rpc - swap lifecycle handlers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crossroute/swapd/internal/swap"
)

// SwapExecuteParams are the parameters for the swap_execute method.
type SwapExecuteParams struct {
	InitiatorID    string         `json:"initiator_id"`
	ResponderID    string         `json:"responder_id"`
	InitiatorAsset swap.AssetSpec `json:"initiator_asset"`
	ResponderAsset swap.AssetSpec `json:"responder_asset"`

	TimeoutSeconds        int64             `json:"timeout_seconds"`
	AutoRollback          *bool             `json:"auto_rollback,omitempty"`
	RequiredConfirmations map[string]uint32 `json:"required_confirmations,omitempty"`
}

// swapExecute submits a new atomic swap and returns its receipt.
func (s *Server) swapExecute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapExecuteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	// Unwinding on timeout is the safe default for RPC callers.
	autoRollback := true
	if p.AutoRollback != nil {
		autoRollback = *p.AutoRollback
	}

	req := &swap.Request{
		InitiatorID:           p.InitiatorID,
		ResponderID:           p.ResponderID,
		InitiatorAsset:        p.InitiatorAsset,
		ResponderAsset:        p.ResponderAsset,
		Timeout:               time.Duration(p.TimeoutSeconds) * time.Second,
		AutoRollback:          autoRollback,
		RequiredConfirmations: p.RequiredConfirmations,
	}

	return s.coordinator.ExecuteAtomicSwap(ctx, req)
}

// SwapIDParams identify a swap by id.
type SwapIDParams struct {
	SwapID string `json:"swap_id"`
}

// swapStatus returns the detailed status of a swap, including its event log.
func (s *Server) swapStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SwapID == "" {
		return nil, fmt.Errorf("swap_id is required")
	}

	return s.coordinator.GetAtomicSwapStatus(p.SwapID)
}

// SwapCompleteParams are the parameters for the swap_complete method.
type SwapCompleteParams struct {
	SwapID        string `json:"swap_id"`
	CompletionRef string `json:"completion_ref"`
}

// swapComplete finalizes a locked swap by claiming both legs.
func (s *Server) swapComplete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapCompleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SwapID == "" {
		return nil, fmt.Errorf("swap_id is required")
	}

	return s.coordinator.CompleteAtomicSwap(ctx, p.SwapID, p.CompletionRef)
}

// SwapRollbackParams are the parameters for the swap_rollback method.
type SwapRollbackParams struct {
	SwapID string `json:"swap_id"`
	Reason string `json:"reason"`
}

// swapRollback unwinds a swap by refunding its locked legs. This is also
// how an operator resumes a swap parked in the expired state.
func (s *Server) swapRollback(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapRollbackParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SwapID == "" {
		return nil, fmt.Errorf("swap_id is required")
	}
	reason := p.Reason
	if reason == "" {
		reason = "operator requested"
	}

	if err := s.coordinator.RollbackSwap(ctx, p.SwapID, reason); err != nil {
		return nil, err
	}

	return s.coordinator.GetAtomicSwapStatus(p.SwapID)
}

// swapCancel abandons a swap that has not locked any funds yet.
func (s *Server) swapCancel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SwapID == "" {
		return nil, fmt.Errorf("swap_id is required")
	}

	if err := s.coordinator.CancelSwap(ctx, p.SwapID); err != nil {
		return nil, err
	}

	return s.coordinator.GetAtomicSwapStatus(p.SwapID)
}

// SwapListParams are the parameters for the swap_list method.
type SwapListParams struct {
	Limit           int  `json:"limit,omitempty"`
	IncludeTerminal bool `json:"include_terminal,omitempty"`
}

// swapList returns recent swap records, newest first.
func (s *Server) swapList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	p := SwapListParams{Limit: 50, IncludeTerminal: true}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}

	return s.store.ListSwaps(p.Limit, p.IncludeTerminal)
}
