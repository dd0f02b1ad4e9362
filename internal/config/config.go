// Package config holds the daemon configuration, loaded from a YAML file
// that is auto-created with defaults on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crossroute/swapd/internal/ledger"
)

// Config holds all configuration for the swapd daemon.
type Config struct {
	// Router identity
	Router RouterConfig `yaml:"router"`

	// Chains holds per-chain ledger adapter configuration, keyed by
	// chain id. Every chain referenced by a swap must appear here.
	Chains map[string]*ledger.ChainConfig `yaml:"chains"`

	// Coordinator settings
	Coordinator CoordinatorConfig `yaml:"coordinator"`

	// RPC settings
	RPC RPCConfig `yaml:"rpc"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RouterConfig identifies this router instance.
type RouterConfig struct {
	// ID is this router's identifier, used in authority checks and
	// confirmation records.
	ID string `yaml:"id"`

	// MnemonicFile is the path to the BIP39 mnemonic backing the
	// router's signing key, relative to the data directory unless
	// absolute. Created on first run if absent.
	MnemonicFile string `yaml:"mnemonic_file"`
}

// CoordinatorConfig holds swap engine tuning.
type CoordinatorConfig struct {
	// SchedulerInterval is the timeout scheduler's tick.
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`

	// PollInterval is how often lock confirmations are re-read.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RefundRetries bounds the rollback retry loop.
	RefundRetries int `yaml:"refund_retries"`

	// RefundBackoff is the initial rollback retry delay; it doubles
	// per attempt.
	RefundBackoff time.Duration `yaml:"refund_backoff"`
}

// RPCConfig holds the JSON-RPC server settings.
type RPCConfig struct {
	// ListenAddr is the HTTP listen address (empty to disable).
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults: one simulated
// chain pair so a fresh install can exercise swaps locally.
func DefaultConfig() *Config {
	return &Config{
		Router: RouterConfig{
			ID:           "router-local",
			MnemonicFile: "router.mnemonic",
		},
		Chains: map[string]*ledger.ChainConfig{
			"sim-a": {Kind: ledger.KindSim, RequiredConfirmations: 1},
			"sim-b": {Kind: ledger.KindSim, RequiredConfirmations: 1},
		},
		Coordinator: CoordinatorConfig{
			SchedulerInterval: 10 * time.Second,
			PollInterval:      5 * time.Second,
			RefundRetries:     3,
			RefundBackoff:     500 * time.Millisecond,
		},
		RPC: RPCConfig{
			ListenAddr: "127.0.0.1:8585",
		},
		Storage: StorageConfig{
			DataDir: "~/.swapd",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from <dataDir>/config.yaml. If the file
// doesn't exist, it is created with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for startup-fatal mistakes.
func (c *Config) Validate() error {
	if c.Router.ID == "" {
		return fmt.Errorf("router.id is required")
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for chainID, chain := range c.Chains {
		if chain == nil {
			return fmt.Errorf("chain %s: configuration is empty", chainID)
		}
		switch chain.Kind {
		case ledger.KindSim:
		case ledger.KindEVM:
			if chain.RPCEndpoint == "" {
				return fmt.Errorf("chain %s: rpc_endpoint is required for evm chains", chainID)
			}
			if chain.ContractAddress == "" {
				return fmt.Errorf("chain %s: contract_address is required for evm chains", chainID)
			}
			if chain.PrivateKey == "" {
				return fmt.Errorf("chain %s: private_key is required for evm chains", chainID)
			}
		default:
			return fmt.Errorf("chain %s: unknown adapter kind %q", chainID, chain.Kind)
		}
	}
	if c.Coordinator.SchedulerInterval < 0 || c.Coordinator.PollInterval < 0 {
		return fmt.Errorf("coordinator intervals must not be negative")
	}
	return nil
}

// MnemonicPath resolves the mnemonic file against the data directory.
func (c *Config) MnemonicPath() string {
	path := c.Router.MnemonicFile
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(expandPath(c.Storage.DataDir), path)
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# swapd configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
