package swap

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crossroute/swapd/internal/storage"
)

// Registry errors.
var (
	ErrSwapNotFound      = errors.New("swap not found")
	ErrSwapExists        = errors.New("swap already exists")
	ErrInvalidTransition = errors.New("invalid swap state transition")
)

// swapEntry pairs a record with its writer lock. All mutation of one swap
// happens under this lock, so cross-swap operations never block each other.
type swapEntry struct {
	mu  sync.Mutex
	rec *storage.SwapRecord
}

// Registry owns every open swap record. It is the single writer for swap
// state: each record is mutated under its own per-swap lock and persisted
// before the mutation is visible to readers.
type Registry struct {
	mu    sync.RWMutex
	swaps map[string]*swapEntry

	store *storage.Storage
}

// NewRegistry creates an empty swap registry over the given storage.
func NewRegistry(store *storage.Storage) *Registry {
	return &Registry{
		swaps: make(map[string]*swapEntry),
		store: store,
	}
}

// Add registers and persists a new swap record.
func (r *Registry) Add(rec *storage.SwapRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.swaps[rec.SwapID]; exists {
		return ErrSwapExists
	}
	if err := r.store.SaveSwap(rec); err != nil {
		return fmt.Errorf("failed to persist swap: %w", err)
	}

	r.swaps[rec.SwapID] = &swapEntry{rec: rec}
	return nil
}

// Load places an already-persisted record into the registry without writing
// it back. Used during recovery.
func (r *Registry) Load(rec *storage.SwapRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swaps[rec.SwapID] = &swapEntry{rec: rec}
}

func (r *Registry) entry(swapID string) (*swapEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.swaps[swapID]
	if !exists {
		return nil, ErrSwapNotFound
	}
	return e, nil
}

// Get returns a snapshot copy of a swap record. Falls back to storage for
// swaps that have left the in-memory set (terminal swaps after a restart).
func (r *Registry) Get(swapID string) (*storage.SwapRecord, error) {
	e, err := r.entry(swapID)
	if err != nil {
		rec, serr := r.store.GetSwap(swapID)
		if serr != nil {
			if errors.Is(serr, storage.ErrSwapNotFound) {
				return nil, ErrSwapNotFound
			}
			return nil, serr
		}
		return rec, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := *e.rec
	return &snapshot, nil
}

// Update runs fn on the swap record under its writer lock and persists the
// result. fn returning an error aborts without persisting.
func (r *Registry) Update(swapID string, fn func(rec *storage.SwapRecord) error) error {
	e, err := r.entry(swapID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e.rec); err != nil {
		return err
	}
	return r.store.SaveSwap(e.rec)
}

// CompareAndSwapState transitions a swap to next only if its current state
// is one of from. Returns the state observed under the lock; ok reports
// whether the transition happened. The transition must also be a legal DAG
// edge or ErrInvalidTransition is returned.
func (r *Registry) CompareAndSwapState(swapID string, next storage.SwapState, from ...storage.SwapState) (observed storage.SwapState, ok bool, err error) {
	e, err := r.entry(swapID)
	if err != nil {
		return "", false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	observed = e.rec.State
	matched := false
	for _, f := range from {
		if observed == f {
			matched = true
			break
		}
	}
	if !matched {
		return observed, false, nil
	}
	if !CanTransition(observed, next) {
		return observed, false, ErrInvalidTransition
	}

	e.rec.State = next
	if storage.IsTerminalState(next) && e.rec.CompletedAt.IsZero() {
		e.rec.CompletedAt = time.Now()
	}
	if err := r.store.SaveSwap(e.rec); err != nil {
		e.rec.State = observed
		return observed, false, fmt.Errorf("failed to persist transition: %w", err)
	}
	return observed, true, nil
}

// PastDeadline returns snapshots of swaps in locking or locked whose
// deadline is at or before now.
func (r *Registry) PastDeadline(now time.Time) []*storage.SwapRecord {
	r.mu.RLock()
	entries := make([]*swapEntry, 0, len(r.swaps))
	for _, e := range r.swaps {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var due []*storage.SwapRecord
	for _, e := range entries {
		e.mu.Lock()
		if (e.rec.State == storage.SwapStateLocking || e.rec.State == storage.SwapStateLocked) &&
			!e.rec.Deadline.After(now) {
			snapshot := *e.rec
			due = append(due, &snapshot)
		}
		e.mu.Unlock()
	}
	return due
}

// Open returns snapshots of all non-terminal swaps.
func (r *Registry) Open() []*storage.SwapRecord {
	r.mu.RLock()
	entries := make([]*swapEntry, 0, len(r.swaps))
	for _, e := range r.swaps {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var open []*storage.SwapRecord
	for _, e := range entries {
		e.mu.Lock()
		if !storage.IsTerminalState(e.rec.State) {
			snapshot := *e.rec
			open = append(open, &snapshot)
		}
		e.mu.Unlock()
	}
	return open
}

// Evict drops a terminal swap from the in-memory set. The persisted row
// remains queryable through Get.
func (r *Registry) Evict(swapID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.swaps[swapID]; exists {
		e.mu.Lock()
		terminal := storage.IsTerminalState(e.rec.State)
		e.mu.Unlock()
		if terminal {
			delete(r.swaps, swapID)
		}
	}
}

// Count returns the number of swaps currently held in memory.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.swaps)
}
