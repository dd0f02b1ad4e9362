package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crossroute/swapd/internal/ledger"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Router.ID != "router-local" {
		t.Errorf("Router.ID = %q, want %q", cfg.Router.ID, "router-local")
	}
	if len(cfg.Chains) != 2 {
		t.Errorf("len(Chains) = %d, want 2", len(cfg.Chains))
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatalf("config file was not created: %v", err)
	}
	if !strings.HasPrefix(string(data), "# swapd configuration") {
		t.Errorf("config file missing generated header")
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Router.ID = "router-7"
	cfg.Storage.DataDir = dir
	cfg.Coordinator.RefundRetries = 9
	cfg.Coordinator.PollInterval = 250 * time.Millisecond
	cfg.Chains["evm-main"] = &ledger.ChainConfig{
		Kind:                  ledger.KindEVM,
		RPCEndpoint:           "http://localhost:8545",
		ContractAddress:       "0x1111111111111111111111111111111111111111",
		PrivateKey:            "deadbeef",
		RequiredConfirmations: 6,
	}

	if err := cfg.Save(ConfigPath(dir)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if loaded.Router.ID != "router-7" {
		t.Errorf("Router.ID = %q, want %q", loaded.Router.ID, "router-7")
	}
	if loaded.Coordinator.RefundRetries != 9 {
		t.Errorf("RefundRetries = %d, want 9", loaded.Coordinator.RefundRetries)
	}
	if loaded.Coordinator.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", loaded.Coordinator.PollInterval)
	}

	evm, ok := loaded.Chains["evm-main"]
	if !ok {
		t.Fatalf("chain evm-main missing after reload")
	}
	if evm.Kind != ledger.KindEVM {
		t.Errorf("Kind = %q, want %q", evm.Kind, ledger.KindEVM)
	}
	if evm.RequiredConfirmations != 6 {
		t.Errorf("RequiredConfirmations = %d, want 6", evm.RequiredConfirmations)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "default config is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing router id",
			mutate:  func(c *Config) { c.Router.ID = "" },
			wantErr: true,
		},
		{
			name:    "no chains",
			mutate:  func(c *Config) { c.Chains = nil },
			wantErr: true,
		},
		{
			name: "unknown adapter kind",
			mutate: func(c *Config) {
				c.Chains["bad"] = &ledger.ChainConfig{Kind: "quantum"}
			},
			wantErr: true,
		},
		{
			name: "evm chain without endpoint",
			mutate: func(c *Config) {
				c.Chains["evm"] = &ledger.ChainConfig{
					Kind:            ledger.KindEVM,
					ContractAddress: "0x1",
					PrivateKey:      "aa",
				}
			},
			wantErr: true,
		},
		{
			name: "evm chain fully specified",
			mutate: func(c *Config) {
				c.Chains["evm"] = &ledger.ChainConfig{
					Kind:            ledger.KindEVM,
					RPCEndpoint:     "http://localhost:8545",
					ContractAddress: "0x1",
					PrivateKey:      "aa",
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMnemonicPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/data/swapd"

	if got := cfg.MnemonicPath(); got != "/data/swapd/router.mnemonic" {
		t.Errorf("MnemonicPath() = %q, want %q", got, "/data/swapd/router.mnemonic")
	}

	cfg.Router.MnemonicFile = "/secrets/key"
	if got := cfg.MnemonicPath(); got != "/secrets/key" {
		t.Errorf("MnemonicPath() = %q, want %q", got, "/secrets/key")
	}
}
