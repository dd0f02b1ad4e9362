// Package swap implements the atomic swap coordination engine: the swap
// state machine, the registry of open swaps, the coordinator that drives
// locks/claims/refunds through ledger adapters, and the timeout scheduler.
package swap

import "github.com/crossroute/swapd/internal/storage"

// validTransitions is the swap state DAG. Terminal states have no entry.
var validTransitions = map[storage.SwapState][]storage.SwapState{
	storage.SwapStatePending:     {storage.SwapStateLocking, storage.SwapStateCancelled, storage.SwapStateFailed},
	storage.SwapStateLocking:     {storage.SwapStateLocked, storage.SwapStateExpired, storage.SwapStateCancelled, storage.SwapStateFailed},
	storage.SwapStateLocked:      {storage.SwapStateCompleting, storage.SwapStateExpired, storage.SwapStateFailed},
	storage.SwapStateCompleting:  {storage.SwapStateCompleted, storage.SwapStateFailed},
	storage.SwapStateExpired:     {storage.SwapStateRollingBack, storage.SwapStateFailed},
	storage.SwapStateRollingBack: {storage.SwapStateRolledBack, storage.SwapStateFailed},
}

// CanTransition reports whether from -> to is a legal edge in the DAG.
func CanTransition(from, to storage.SwapState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// statePercent maps each state to a completion heuristic for status reports.
var statePercent = map[storage.SwapState]int{
	storage.SwapStatePending:     0,
	storage.SwapStateLocking:     25,
	storage.SwapStateLocked:      50,
	storage.SwapStateCompleting:  75,
	storage.SwapStateCompleted:   100,
	storage.SwapStateExpired:     40,
	storage.SwapStateRollingBack: 60,
	storage.SwapStateRolledBack:  100,
	storage.SwapStateFailed:      100,
	storage.SwapStateCancelled:   100,
}

// PercentComplete returns the completion heuristic for a state.
func PercentComplete(state storage.SwapState) int {
	return statePercent[state]
}
