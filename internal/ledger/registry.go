package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/crossroute/swapd/pkg/logging"
)

// AdapterKind selects the adapter implementation for a chain.
type AdapterKind string

const (
	KindEVM AdapterKind = "evm"
	KindSim AdapterKind = "sim"
)

// ChainConfig holds per-chain adapter configuration.
type ChainConfig struct {
	Kind                  AdapterKind `yaml:"kind"`
	RPCEndpoint           string      `yaml:"rpc_endpoint,omitempty"`
	ContractAddress       string      `yaml:"contract_address,omitempty"`
	PrivateKey            string      `yaml:"private_key,omitempty"` // hex, EVM signing key
	RequiredConfirmations uint32      `yaml:"required_confirmations"`
}

// Registry holds the constructed adapters, keyed by chain id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	log      *logging.Logger
}

// NewRegistry constructs adapters for every configured chain.
// An unknown kind or a misconfigured chain fails construction; the daemon
// refuses to start rather than discover the gap mid-swap.
func NewRegistry(chains map[string]*ChainConfig) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter),
		log:      logging.GetDefault().Component("ledger"),
	}

	for chainID, cfg := range chains {
		adapter, err := buildAdapter(chainID, cfg)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", chainID, err)
		}
		r.adapters[chainID] = adapter
		r.log.Info("Adapter configured", "chain", chainID, "kind", cfg.Kind)
	}

	return r, nil
}

func buildAdapter(chainID string, cfg *ChainConfig) (Adapter, error) {
	switch cfg.Kind {
	case KindEVM:
		return NewEVMAdapter(chainID, cfg)
	case KindSim:
		return NewSimAdapter(chainID), nil
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", cfg.Kind)
	}
}

// Get returns the adapter for a chain id.
func (r *Registry) Get(chainID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, chainID)
	}
	return adapter, nil
}

// Set registers or replaces an adapter. Used by tests and by local runs
// that inject a pre-built simulator.
func (r *Registry) Set(chainID string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[chainID] = adapter
}

// Has reports whether a chain has a configured adapter.
func (r *Registry) Has(chainID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[chainID]
	return ok
}

// List returns the configured chain ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make([]string, 0, len(r.adapters))
	for chainID := range r.adapters {
		chains = append(chains, chainID)
	}
	sort.Strings(chains)
	return chains
}
