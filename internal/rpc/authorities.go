// Package rpc - asset authority handlers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// AuthorityRegisterParams are the parameters for the authority_register method.
type AuthorityRegisterParams struct {
	AssetID         string   `json:"asset_id"`
	PrimaryRouterID string   `json:"primary_router_id"`
	BackupRouterIDs []string `json:"backup_router_ids,omitempty"`
	Metadata        string   `json:"metadata,omitempty"`
}

// authorityRegister registers a new asset with its primary router.
func (s *Server) authorityRegister(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AuthorityRegisterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.AssetID == "" || p.PrimaryRouterID == "" {
		return nil, fmt.Errorf("asset_id and primary_router_id are required")
	}

	return s.authorities.RegisterAsset(p.AssetID, p.PrimaryRouterID, p.BackupRouterIDs, p.Metadata)
}

// AuthorityValidateParams are the parameters for the authority_validate method.
type AuthorityValidateParams struct {
	AssetID  string `json:"asset_id"`
	RouterID string `json:"router_id"`
}

// authorityValidate checks whether a router may act on an asset. The check
// itself never mutates authority state.
func (s *Server) authorityValidate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AuthorityValidateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.AssetID == "" || p.RouterID == "" {
		return nil, fmt.Errorf("asset_id and router_id are required")
	}

	decision := s.authorities.ValidateAuthority(p.AssetID, p.RouterID)
	return &decision, nil
}

// AuthorityTransferParams are the parameters for the authority_transfer method.
type AuthorityTransferParams struct {
	AssetID            string `json:"asset_id"`
	NewPrimaryRouterID string `json:"new_primary_router_id"`
	RequestingRouterID string `json:"requesting_router_id"`
}

// authorityTransfer moves primary authority for an asset to another router.
// Only the current primary may request the transfer.
func (s *Server) authorityTransfer(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AuthorityTransferParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.AssetID == "" || p.NewPrimaryRouterID == "" || p.RequestingRouterID == "" {
		return nil, fmt.Errorf("asset_id, new_primary_router_id and requesting_router_id are required")
	}

	if err := s.authorities.TransferAuthority(p.AssetID, p.NewPrimaryRouterID, p.RequestingRouterID); err != nil {
		return nil, err
	}

	return s.authorities.GetAuthority(p.AssetID)
}

// AssetIDParams identify an asset by id.
type AssetIDParams struct {
	AssetID string `json:"asset_id"`
}

// authorityGet returns the authority record for one asset.
func (s *Server) authorityGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AssetIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.AssetID == "" {
		return nil, fmt.Errorf("asset_id is required")
	}

	return s.authorities.GetAuthority(p.AssetID)
}

// authorityList returns all registered asset authorities.
func (s *Server) authorityList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.authorities.ListAssets(), nil
}

// authorityHistory returns the recorded authority transfers for an asset,
// oldest first.
func (s *Server) authorityHistory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AssetIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.AssetID == "" {
		return nil, fmt.Errorf("asset_id is required")
	}

	return s.authorities.History(p.AssetID)
}
