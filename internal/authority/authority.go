// Package authority maintains the asset authority registry. Every asset has
// exactly one primary router and an ordered backup list; the coordinator
// consults this registry before any lock call is attempted.
package authority

import (
	"errors"
	"fmt"
	"sync"

	"github.com/crossroute/swapd/internal/storage"
	"github.com/crossroute/swapd/pkg/logging"
)

// Authority errors.
var (
	ErrAssetAlreadyRegistered = errors.New("asset already registered")
	ErrAssetNotRegistered     = errors.New("asset not registered")
	ErrNotAuthorized          = errors.New("requesting router is not the primary for this asset")
)

// Role is a router's relationship to an asset.
type Role string

const (
	RolePrimary Role = "primary"
	RoleBackup  Role = "backup"
	RoleNone    Role = "none"
)

// Decision is the outcome of an authority validation. Validation never
// mutates state; a negative decision carries the reason.
type Decision struct {
	Authorized bool   `json:"authorized"`
	Role       Role   `json:"role"`
	Reason     string `json:"reason,omitempty"`
}

// Registry validates and manages router authority over assets. The in-memory
// index is authoritative for reads; every mutation is written through to
// storage first.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]*storage.AssetAuthority

	store  *storage.Storage
	logger *logging.Logger
}

// NewRegistry loads all registered authorities from storage.
func NewRegistry(store *storage.Storage, logger *logging.Logger) (*Registry, error) {
	auths, err := store.ListAuthorities()
	if err != nil {
		return nil, fmt.Errorf("failed to load asset authorities: %w", err)
	}

	assets := make(map[string]*storage.AssetAuthority, len(auths))
	for _, auth := range auths {
		assets[auth.AssetID] = auth
	}

	return &Registry{
		assets: assets,
		store:  store,
		logger: logger.Component("authority"),
	}, nil
}

// RegisterAsset registers an asset with its primary router and backups.
// Fails with ErrAssetAlreadyRegistered if the asset id exists.
func (r *Registry) RegisterAsset(assetID, primaryRouterID string, backupRouterIDs []string, metadata string) (*storage.AssetAuthority, error) {
	if assetID == "" || primaryRouterID == "" {
		return nil, fmt.Errorf("asset id and primary router id are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[assetID]; exists {
		return nil, ErrAssetAlreadyRegistered
	}

	auth := &storage.AssetAuthority{
		AssetID:         assetID,
		PrimaryRouterID: primaryRouterID,
		BackupRouterIDs: append([]string(nil), backupRouterIDs...),
		Metadata:        metadata,
	}
	if err := r.store.RegisterAuthority(auth); err != nil {
		if errors.Is(err, storage.ErrAuthorityExists) {
			return nil, ErrAssetAlreadyRegistered
		}
		return nil, fmt.Errorf("failed to persist asset authority: %w", err)
	}

	r.assets[assetID] = auth
	r.logger.Info("Asset registered",
		"asset_id", assetID,
		"primary", primaryRouterID,
		"backups", len(backupRouterIDs))

	return auth, nil
}

// ValidateAuthority reports whether a router may originate transfers of an
// asset. Read-only: a rejection has no side effects.
func (r *Registry) ValidateAuthority(assetID, routerID string) Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auth, exists := r.assets[assetID]
	if !exists {
		return Decision{
			Authorized: false,
			Role:       RoleNone,
			Reason:     "Asset is not registered",
		}
	}

	if auth.PrimaryRouterID == routerID {
		return Decision{Authorized: true, Role: RolePrimary}
	}
	for _, backup := range auth.BackupRouterIDs {
		if backup == routerID {
			return Decision{Authorized: true, Role: RoleBackup}
		}
	}

	return Decision{
		Authorized: false,
		Role:       RoleNone,
		Reason:     "No authority for this asset",
	}
}

// TransferAuthority reassigns the primary for an asset. Only the current
// primary may invoke it; the old primary is demoted to the front of the
// backup list and the handover is recorded in history.
func (r *Registry) TransferAuthority(assetID, newPrimaryRouterID, requestingRouterID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, exists := r.assets[assetID]
	if !exists {
		return ErrAssetNotRegistered
	}
	if auth.PrimaryRouterID != requestingRouterID {
		return ErrNotAuthorized
	}
	if newPrimaryRouterID == auth.PrimaryRouterID {
		return nil
	}

	oldPrimary := auth.PrimaryRouterID

	// New primary leaves the backup list if it was on it; old primary
	// joins at the front.
	backups := make([]string, 0, len(auth.BackupRouterIDs)+1)
	backups = append(backups, oldPrimary)
	for _, backup := range auth.BackupRouterIDs {
		if backup != newPrimaryRouterID {
			backups = append(backups, backup)
		}
	}

	updated := &storage.AssetAuthority{
		AssetID:         assetID,
		PrimaryRouterID: newPrimaryRouterID,
		BackupRouterIDs: backups,
		Metadata:        auth.Metadata,
		RegisteredAt:    auth.RegisteredAt,
	}
	if err := r.store.UpdateAuthority(updated); err != nil {
		return fmt.Errorf("failed to persist authority transfer: %w", err)
	}
	if err := r.store.AppendAuthorityTransfer(assetID, oldPrimary, newPrimaryRouterID, ""); err != nil {
		return fmt.Errorf("failed to record authority transfer: %w", err)
	}

	r.assets[assetID] = updated
	r.logger.Info("Authority transferred",
		"asset_id", assetID,
		"from", oldPrimary,
		"to", newPrimaryRouterID)

	return nil
}

// GetAuthority returns the authority record for an asset.
func (r *Registry) GetAuthority(assetID string) (*storage.AssetAuthority, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auth, exists := r.assets[assetID]
	if !exists {
		return nil, ErrAssetNotRegistered
	}
	return auth, nil
}

// ListAssets returns all registered authorities.
func (r *Registry) ListAssets() []*storage.AssetAuthority {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auths := make([]*storage.AssetAuthority, 0, len(r.assets))
	for _, auth := range r.assets {
		auths = append(auths, auth)
	}
	return auths
}

// History returns the recorded primary handovers for an asset.
func (r *Registry) History(assetID string) ([]*storage.AuthorityTransfer, error) {
	return r.store.GetAuthorityHistory(assetID)
}
