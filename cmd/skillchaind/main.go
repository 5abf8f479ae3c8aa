package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"skillchain/config"
	"skillchain/core/events"
	"skillchain/native/bank"
	"skillchain/native/escrow"
	"skillchain/observability/logging"
	"skillchain/registry"
	"skillchain/rpc"
	"skillchain/storage"
)

var genesisAppliedKey = []byte("genesis/applied")

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SKILLCHAIN_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}

	logger := logging.SetupFile("skillchaind", env, cfg.LogFile, cfg.LogFileMaxSizeMB, cfg.LogFileMaxBackups)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	vault, err := bank.NewVault(db, cfg.CustodyAddress())
	if err != nil {
		logger.Error("Failed to initialise vault", slog.Any("error", err))
		os.Exit(1)
	}
	if err := applyGenesis(db, vault, cfg, logger); err != nil {
		logger.Error("Failed to apply genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	roles := registry.NewRoles()
	for _, addr := range config.RoleAddresses(cfg.PlatformAccounts) {
		roles.Grant(addr, escrow.RolePlatform)
	}
	for _, addr := range config.RoleAddresses(cfg.ArbitratorAccounts) {
		roles.Grant(addr, escrow.RoleArbitrator)
	}
	for _, addr := range config.RoleAddresses(cfg.AdminAccounts) {
		roles.Grant(addr, escrow.RoleAdmin)
	}

	hub := events.NewHub(cfg.EventBacklog)

	ledger := escrow.NewLedger()
	ledger.SetState(storage.NewEscrowStore(db))
	ledger.SetPaymentRail(vault)
	ledger.SetAuthority(roles)
	ledger.SetEmitter(hub)
	ledger.SetLogger(logger)
	if err := ledger.BootstrapFeePolicy(cfg.FeeRateBps, cfg.FeeRecipientAddress()); err != nil {
		logger.Error("Failed to apply fee policy", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(ledger, vault, hub, logger)
	logger.Info("node ready",
		"rpc_address", cfg.RPCAddress,
		"fee_rate_bps", cfg.FeeRateBps,
		"custody", cfg.CustodyAddress().Hex(),
	)
	if err := server.Start(cfg.RPCAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("RPC server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

// applyGenesis mints configured balances exactly once per data directory.
func applyGenesis(db storage.Database, vault *bank.Vault, cfg *config.Config, logger *slog.Logger) error {
	applied, err := db.Has(genesisAppliedKey)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	allocs, err := cfg.Allocations()
	if err != nil {
		return err
	}
	for addr, balance := range allocs {
		if err := vault.Mint(addr, balance); err != nil {
			return fmt.Errorf("mint %s: %w", addr.Hex(), err)
		}
		logger.Info("genesis allocation applied", "address", addr.Hex(), "balance", balance.String())
	}
	return db.Put(genesisAppliedKey, []byte{1})
}
