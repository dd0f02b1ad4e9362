// Package rpc - service info and status handlers.
package rpc

import (
	"context"
	"encoding/json"
	"time"
)

const version = "0.3.0"

// ServiceInfoResult is the result of the service_info method.
type ServiceInfoResult struct {
	RouterID string   `json:"router_id"`
	Version  string   `json:"version"`
	Chains   []string `json:"chains"`
}

// ServiceStatusResult is the result of the service_status method.
type ServiceStatusResult struct {
	RouterID      string `json:"router_id"`
	OpenSwaps     int    `json:"open_swaps"`
	TerminalSwaps int    `json:"terminal_swaps"`
	Assets        int    `json:"assets"`
	WSClients     int    `json:"ws_clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// serviceInfo returns static information about this daemon.
func (s *Server) serviceInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &ServiceInfoResult{
		RouterID: s.routerID,
		Version:  version,
		Chains:   s.adapters.List(),
	}, nil
}

// serviceStatus returns a snapshot of daemon activity.
func (s *Server) serviceStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	open, terminal, err := s.store.SwapCount()
	if err != nil {
		return nil, err
	}

	wsClients := 0
	if s.wsHub != nil {
		wsClients = s.wsHub.ClientCount()
	}

	return &ServiceStatusResult{
		RouterID:      s.routerID,
		OpenSwaps:     open,
		TerminalSwaps: terminal,
		Assets:        len(s.authorities.ListAssets()),
		WSClients:     wsClients,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}, nil
}
