// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the swapd coordinator.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "swapd.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- =========================================================================
	-- Swaps (runtime swap state for persistence/recovery)
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS swaps (
		swap_id TEXT PRIMARY KEY,

		-- Participants
		initiator_id TEXT NOT NULL,
		responder_id TEXT NOT NULL,

		-- State
		state TEXT NOT NULL DEFAULT 'pending',

		-- Secret commitment
		secret_hash TEXT NOT NULL,
		secret_sealed TEXT,

		-- Initiator leg
		init_chain TEXT NOT NULL,
		init_asset TEXT NOT NULL,
		init_amount INTEGER NOT NULL,
		init_recipient TEXT NOT NULL,
		init_required_confs INTEGER NOT NULL DEFAULT 1,
		init_lock_ref TEXT,
		init_lock_confs INTEGER DEFAULT 0,
		init_claim_ref TEXT,
		init_refund_ref TEXT,

		-- Responder leg
		resp_chain TEXT NOT NULL,
		resp_asset TEXT NOT NULL,
		resp_amount INTEGER NOT NULL,
		resp_recipient TEXT NOT NULL,
		resp_required_confs INTEGER NOT NULL DEFAULT 1,
		resp_lock_ref TEXT,
		resp_lock_confs INTEGER DEFAULT 0,
		resp_claim_ref TEXT,
		resp_refund_ref TEXT,

		-- Rollback behavior
		auto_rollback INTEGER NOT NULL DEFAULT 1,
		rollback_reason TEXT,
		rolled_back_legs TEXT,

		-- Failure tracking
		failure_reason TEXT,
		manual_intervention INTEGER NOT NULL DEFAULT 0,

		-- Idempotent completion result
		completion_ref TEXT,

		-- Timing
		created_at INTEGER NOT NULL,
		deadline INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_state ON swaps(state);
	CREATE INDEX IF NOT EXISTS idx_swaps_deadline ON swaps(deadline);
	CREATE INDEX IF NOT EXISTS idx_swaps_updated ON swaps(updated_at);

	-- Append-only event log, one row per swap state change or notable action
	CREATE TABLE IF NOT EXISTS swap_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		swap_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		detail TEXT,
		created_at INTEGER NOT NULL,

		FOREIGN KEY (swap_id) REFERENCES swaps(swap_id)
	);

	CREATE INDEX IF NOT EXISTS idx_swap_events_swap ON swap_events(swap_id, id);

	-- =========================================================================
	-- Dual confirmation ledger
	-- =========================================================================

	-- One record per (transfer, router); re-recording upserts
	CREATE TABLE IF NOT EXISTS confirmations (
		confirmation_id TEXT NOT NULL,
		transfer_id TEXT NOT NULL,
		router_id TEXT NOT NULL,

		status TEXT NOT NULL,

		-- Signature over the record digest, and the signer's pubkey
		signature TEXT,
		signer_pubkey TEXT,

		-- Snapshot of the transfer at recording time (JSON)
		metadata TEXT,

		recorded_at INTEGER NOT NULL,

		-- Rollback is an appended transition, never a delete
		rollback_reason TEXT,
		rolled_back_at INTEGER,

		PRIMARY KEY (transfer_id, router_id)
	);

	CREATE INDEX IF NOT EXISTS idx_confirmations_id ON confirmations(confirmation_id);

	-- =========================================================================
	-- Asset authority registry
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS asset_authorities (
		asset_id TEXT PRIMARY KEY,
		primary_router_id TEXT NOT NULL,
		backup_router_ids TEXT,
		metadata TEXT,
		registered_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Every primary reassignment is recorded here
	CREATE TABLE IF NOT EXISTS authority_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id TEXT NOT NULL,
		from_router_id TEXT NOT NULL,
		to_router_id TEXT NOT NULL,
		reason TEXT,
		occurred_at INTEGER NOT NULL,

		FOREIGN KEY (asset_id) REFERENCES asset_authorities(asset_id)
	);

	CREATE INDEX IF NOT EXISTS idx_authority_history_asset ON authority_history(asset_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Helper functions shared by the CRUD files.

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToUnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
