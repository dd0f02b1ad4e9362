package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Authority persistence errors.
var (
	ErrAuthorityNotFound = errors.New("asset authority not found")
	ErrAuthorityExists   = errors.New("asset authority already registered")
)

// AssetAuthority maps an asset to its primary router and ordered backups.
type AssetAuthority struct {
	AssetID         string    `json:"asset_id"`
	PrimaryRouterID string    `json:"primary_router_id"`
	BackupRouterIDs []string  `json:"backup_router_ids,omitempty"`
	Metadata        string    `json:"metadata,omitempty"`
	RegisteredAt    time.Time `json:"registered_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AuthorityTransfer is one recorded primary handover for an asset.
type AuthorityTransfer struct {
	ID           int64     `json:"id"`
	AssetID      string    `json:"asset_id"`
	FromRouterID string    `json:"from_router_id"`
	ToRouterID   string    `json:"to_router_id"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// backupSeparator joins backup router ids into a single column. Router ids
// are UUIDs so the separator cannot appear inside one.
const backupSeparator = ","

// RegisterAuthority inserts a new asset authority. Fails with
// ErrAuthorityExists if the asset already has one.
func (s *Storage) RegisterAuthority(auth *AssetAuthority) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if auth.RegisteredAt.IsZero() {
		auth.RegisteredAt = now
	}
	auth.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO asset_authorities (
			asset_id, primary_router_id, backup_router_ids, metadata, registered_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		auth.AssetID,
		auth.PrimaryRouterID,
		strings.Join(auth.BackupRouterIDs, backupSeparator),
		auth.Metadata,
		auth.RegisteredAt.Unix(),
		auth.UpdatedAt.Unix(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrAuthorityExists
	}
	return err
}

// UpdateAuthority replaces the primary and backup set for an existing asset.
func (s *Storage) UpdateAuthority(auth *AssetAuthority) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth.UpdatedAt = time.Now()

	res, err := s.db.Exec(`
		UPDATE asset_authorities
		SET primary_router_id = ?, backup_router_ids = ?, metadata = ?, updated_at = ?
		WHERE asset_id = ?`,
		auth.PrimaryRouterID,
		strings.Join(auth.BackupRouterIDs, backupSeparator),
		auth.Metadata,
		auth.UpdatedAt.Unix(),
		auth.AssetID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAuthorityNotFound
	}
	return nil
}

// GetAuthority returns the authority row for an asset.
func (s *Storage) GetAuthority(assetID string) (*AssetAuthority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT asset_id, primary_router_id, backup_router_ids, metadata, registered_at, updated_at
		FROM asset_authorities WHERE asset_id = ?`, assetID)
	return scanAuthority(row)
}

// ListAuthorities returns every registered asset authority.
func (s *Storage) ListAuthorities() ([]*AssetAuthority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT asset_id, primary_router_id, backup_router_ids, metadata, registered_at, updated_at
		FROM asset_authorities ORDER BY asset_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auths []*AssetAuthority
	for rows.Next() {
		auth, err := scanAuthority(rows)
		if err != nil {
			return nil, err
		}
		auths = append(auths, auth)
	}

	return auths, rows.Err()
}

// AppendAuthorityTransfer records a primary handover in the history table.
func (s *Storage) AppendAuthorityTransfer(assetID, fromRouterID, toRouterID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO authority_history (asset_id, from_router_id, to_router_id, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		assetID, fromRouterID, toRouterID, reason, time.Now().Unix())
	return err
}

// GetAuthorityHistory returns recorded handovers for an asset, oldest first.
func (s *Storage) GetAuthorityHistory(assetID string) ([]*AuthorityTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, asset_id, from_router_id, to_router_id, reason, occurred_at
		FROM authority_history WHERE asset_id = ? ORDER BY id ASC`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*AuthorityTransfer
	for rows.Next() {
		var t AuthorityTransfer
		var reason sql.NullString
		var occurredAt int64
		if err := rows.Scan(&t.ID, &t.AssetID, &t.FromRouterID, &t.ToRouterID, &reason, &occurredAt); err != nil {
			return nil, err
		}
		t.Reason = reason.String
		t.OccurredAt = time.Unix(occurredAt, 0)
		transfers = append(transfers, &t)
	}

	return transfers, rows.Err()
}

func scanAuthority(row scanner) (*AssetAuthority, error) {
	var auth AssetAuthority
	var backups, metadata sql.NullString
	var registeredAt, updatedAt int64

	err := row.Scan(
		&auth.AssetID,
		&auth.PrimaryRouterID,
		&backups,
		&metadata,
		&registeredAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAuthorityNotFound
		}
		return nil, err
	}

	if backups.String != "" {
		auth.BackupRouterIDs = strings.Split(backups.String, backupSeparator)
	}
	auth.Metadata = metadata.String
	auth.RegisteredAt = time.Unix(registeredAt, 0)
	auth.UpdatedAt = time.Unix(updatedAt, 0)

	return &auth, nil
}
