// Package main provides the swapd daemon - an atomic swap coordination
// engine with a dual confirmation ledger and per-asset router authority.
package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/crossroute/swapd/internal/authority"
	"github.com/crossroute/swapd/internal/config"
	"github.com/crossroute/swapd/internal/confirm"
	"github.com/crossroute/swapd/internal/identity"
	"github.com/crossroute/swapd/internal/ledger"
	"github.com/crossroute/swapd/internal/rpc"
	"github.com/crossroute/swapd/internal/storage"
	"github.com/crossroute/swapd/internal/swap"
	"github.com/crossroute/swapd/pkg/logging"
)

var (
	version = "0.3.0"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.swapd", "Data directory")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		routerID    = flag.String("router-id", "", "Router identifier, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("swapd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load or create config file
	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	cfg.Storage.DataDir = *dataDir
	if *apiAddr != "" {
		cfg.RPC.ListenAddr = *apiAddr
	}
	if *routerID != "" {
		cfg.Router.ID = *routerID
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(*dataDir))

	// Initialize storage
	dataPath := expandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	// Load or create the router's signing identity
	id, err := loadIdentity(cfg)
	if err != nil {
		log.Fatal("Failed to load router identity", "error", err)
	}
	log.Info("Router identity loaded", "router_id", cfg.Router.ID, "pubkey", id.PubKeyHex())

	// Build ledger adapters from the configured chains
	adapters, err := ledger.NewRegistry(cfg.Chains)
	if err != nil {
		log.Fatal("Failed to initialize ledger adapters", "error", err)
	}
	log.Info("Ledger adapters initialized", "chains", adapters.List())

	// Authority registry and dual confirmation ledger
	authorities, err := authority.NewRegistry(store, log)
	if err != nil {
		log.Fatal("Failed to initialize authority registry", "error", err)
	}
	confirms := confirm.NewLedger(store, id, log)

	// Swap coordinator
	registry := swap.NewRegistry(store)
	coordinator := swap.NewCoordinator(&swap.CoordinatorConfig{
		Registry:      registry,
		Store:         store,
		Adapters:      adapters,
		Authorities:   authorities,
		Confirms:      confirms,
		Identity:      id,
		Logger:        log,
		PollInterval:  cfg.Coordinator.PollInterval,
		RefundRetries: cfg.Coordinator.RefundRetries,
		RefundBackoff: cfg.Coordinator.RefundBackoff,
	})
	defer coordinator.Close()
	log.Info("Swap coordinator initialized")

	// Recover swaps that were open at the last shutdown
	resumed, err := coordinator.LoadPendingSwaps()
	if err != nil {
		log.Warn("Failed to load pending swaps", "error", err)
	} else if resumed > 0 {
		log.Info("Pending swaps recovered", "count", resumed)
	}

	// Timeout scheduler
	scheduler := swap.NewScheduler(registry, coordinator, cfg.Coordinator.SchedulerInterval, log)
	scheduler.Start()
	defer scheduler.Stop()

	// Start RPC server
	rpcServer := rpc.NewServer(cfg.Router.ID, store, coordinator, authorities, confirms, adapters)
	if err := rpcServer.Start(cfg.RPC.ListenAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, adapters.List())

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	// Stop accepting work first; the deferred scheduler and coordinator
	// shutdowns then wait for in-flight swap goroutines.
	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
}

// loadIdentity reads the router mnemonic, creating one on first run.
func loadIdentity(cfg *config.Config) (*identity.Identity, error) {
	path := cfg.MnemonicPath()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		mnemonic, genErr := identity.GenerateMnemonic()
		if genErr != nil {
			return nil, genErr
		}
		if writeErr := os.WriteFile(path, []byte(mnemonic+"\n"), 0600); writeErr != nil {
			return nil, writeErr
		}
		return identity.NewFromMnemonic(cfg.Router.ID, mnemonic, "")
	}
	if err != nil {
		return nil, err
	}

	mnemonic := strings.TrimSpace(string(data))
	return identity.NewFromMnemonic(cfg.Router.ID, mnemonic, "")
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, cfg *config.Config, chains []string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  swapd - Atomic Swap Coordination Engine")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Router ID: %s", cfg.Router.ID)
	log.Info("")
	log.Infof("  API: http://%s", cfg.RPC.ListenAddr)
	log.Infof("  WS:  ws://%s/ws", cfg.RPC.ListenAddr)
	log.Info("")
	log.Infof("  Chains: %s", strings.Join(chains, ", "))
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
