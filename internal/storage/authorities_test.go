package storage

import (
	"errors"
	"testing"
)

func TestAuthorityRegisterAndGet(t *testing.T) {
	store := newTestStorage(t)

	auth := &AssetAuthority{
		AssetID:         "USDT",
		PrimaryRouterID: "router-a",
		BackupRouterIDs: []string{"router-b", "router-c"},
		Metadata:        `{"decimals":6}`,
	}
	if err := store.RegisterAuthority(auth); err != nil {
		t.Fatalf("RegisterAuthority() error = %v", err)
	}

	got, err := store.GetAuthority("USDT")
	if err != nil {
		t.Fatalf("GetAuthority() error = %v", err)
	}
	if got.PrimaryRouterID != "router-a" {
		t.Errorf("PrimaryRouterID = %s, want router-a", got.PrimaryRouterID)
	}
	if len(got.BackupRouterIDs) != 2 || got.BackupRouterIDs[0] != "router-b" {
		t.Errorf("BackupRouterIDs = %v, want [router-b router-c]", got.BackupRouterIDs)
	}
	if got.RegisteredAt.IsZero() {
		t.Error("RegisteredAt should be set")
	}

	// Duplicate registration is rejected
	err = store.RegisterAuthority(&AssetAuthority{AssetID: "USDT", PrimaryRouterID: "router-x"})
	if !errors.Is(err, ErrAuthorityExists) {
		t.Errorf("RegisterAuthority() duplicate error = %v, want ErrAuthorityExists", err)
	}

	// Rejected registration must not have touched the existing row
	got, err = store.GetAuthority("USDT")
	if err != nil {
		t.Fatalf("GetAuthority() error = %v", err)
	}
	if got.PrimaryRouterID != "router-a" {
		t.Errorf("PrimaryRouterID = %s after rejected register, want router-a", got.PrimaryRouterID)
	}
}

func TestAuthorityNoBackups(t *testing.T) {
	store := newTestStorage(t)

	if err := store.RegisterAuthority(&AssetAuthority{AssetID: "WETH", PrimaryRouterID: "router-a"}); err != nil {
		t.Fatalf("RegisterAuthority() error = %v", err)
	}

	got, err := store.GetAuthority("WETH")
	if err != nil {
		t.Fatalf("GetAuthority() error = %v", err)
	}
	if len(got.BackupRouterIDs) != 0 {
		t.Errorf("BackupRouterIDs = %v, want empty", got.BackupRouterIDs)
	}
}

func TestAuthorityUpdate(t *testing.T) {
	store := newTestStorage(t)

	auth := &AssetAuthority{
		AssetID:         "USDC",
		PrimaryRouterID: "router-a",
		BackupRouterIDs: []string{"router-b"},
	}
	if err := store.RegisterAuthority(auth); err != nil {
		t.Fatalf("RegisterAuthority() error = %v", err)
	}

	auth.PrimaryRouterID = "router-b"
	auth.BackupRouterIDs = []string{"router-a"}
	if err := store.UpdateAuthority(auth); err != nil {
		t.Fatalf("UpdateAuthority() error = %v", err)
	}

	got, err := store.GetAuthority("USDC")
	if err != nil {
		t.Fatalf("GetAuthority() error = %v", err)
	}
	if got.PrimaryRouterID != "router-b" {
		t.Errorf("PrimaryRouterID = %s, want router-b", got.PrimaryRouterID)
	}
	if len(got.BackupRouterIDs) != 1 || got.BackupRouterIDs[0] != "router-a" {
		t.Errorf("BackupRouterIDs = %v, want [router-a]", got.BackupRouterIDs)
	}

	err = store.UpdateAuthority(&AssetAuthority{AssetID: "missing", PrimaryRouterID: "router-a"})
	if !errors.Is(err, ErrAuthorityNotFound) {
		t.Errorf("UpdateAuthority() error = %v, want ErrAuthorityNotFound", err)
	}
}

func TestListAuthorities(t *testing.T) {
	store := newTestStorage(t)

	for _, asset := range []string{"WETH", "USDT", "USDC"} {
		if err := store.RegisterAuthority(&AssetAuthority{AssetID: asset, PrimaryRouterID: "router-a"}); err != nil {
			t.Fatalf("RegisterAuthority(%s) error = %v", asset, err)
		}
	}

	auths, err := store.ListAuthorities()
	if err != nil {
		t.Fatalf("ListAuthorities() error = %v", err)
	}
	if len(auths) != 3 {
		t.Fatalf("got %d authorities, want 3", len(auths))
	}
	// Sorted by asset id
	if auths[0].AssetID != "USDC" || auths[2].AssetID != "WETH" {
		t.Errorf("order = %s..%s, want USDC..WETH", auths[0].AssetID, auths[2].AssetID)
	}
}

func TestAuthorityHistory(t *testing.T) {
	store := newTestStorage(t)

	if err := store.RegisterAuthority(&AssetAuthority{AssetID: "USDT", PrimaryRouterID: "router-a"}); err != nil {
		t.Fatalf("RegisterAuthority() error = %v", err)
	}

	if err := store.AppendAuthorityTransfer("USDT", "router-a", "router-b", "planned maintenance"); err != nil {
		t.Fatalf("AppendAuthorityTransfer() error = %v", err)
	}
	if err := store.AppendAuthorityTransfer("USDT", "router-b", "router-a", ""); err != nil {
		t.Fatalf("AppendAuthorityTransfer() error = %v", err)
	}

	history, err := store.GetAuthorityHistory("USDT")
	if err != nil {
		t.Fatalf("GetAuthorityHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d transfers, want 2", len(history))
	}
	if history[0].ToRouterID != "router-b" {
		t.Errorf("first transfer to = %s, want router-b", history[0].ToRouterID)
	}
	if history[0].Reason != "planned maintenance" {
		t.Errorf("Reason = %s, want 'planned maintenance'", history[0].Reason)
	}
	if history[1].FromRouterID != "router-b" {
		t.Errorf("second transfer from = %s, want router-b", history[1].FromRouterID)
	}
}
