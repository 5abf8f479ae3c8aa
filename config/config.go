package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

const maxFeeRateBps = 1_000

// Alloc seeds an account balance at first boot so escrows can be funded
// without an external deposit flow.
type Alloc struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Config holds the node configuration loaded from TOML.
type Config struct {
	RPCAddress         string   `toml:"RPCAddress"`
	DataDir            string   `toml:"DataDir"`
	Environment        string   `toml:"Environment"`
	FeeRateBps         uint32   `toml:"FeeRateBps"`
	FeeRecipient       string   `toml:"FeeRecipient"`
	CustodyAccount     string   `toml:"CustodyAccount"`
	PlatformAccounts   []string `toml:"PlatformAccounts"`
	ArbitratorAccounts []string `toml:"ArbitratorAccounts"`
	AdminAccounts      []string `toml:"AdminAccounts"`
	EventBacklog       int      `toml:"EventBacklog"`
	LogFile            string   `toml:"LogFile"`
	LogFileMaxSizeMB   int      `toml:"LogFileMaxSizeMB"`
	LogFileMaxBackups  int      `toml:"LogFileMaxBackups"`
	Alloc              []Alloc  `toml:"Alloc"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.CustodyAccount) == "" {
		// Well-known custody account used when none is configured.
		cfg.CustodyAccount = "0x00000000000000000000000000000000000E5C70"
	}
	if cfg.EventBacklog <= 0 {
		cfg.EventBacklog = 256
	}
	if cfg.LogFileMaxSizeMB <= 0 {
		cfg.LogFileMaxSizeMB = 100
	}
	if cfg.LogFileMaxBackups < 0 {
		cfg.LogFileMaxBackups = 0
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks address syntax, the fee cap, and allocation balances.
func (c *Config) Validate() error {
	if c.FeeRateBps > maxFeeRateBps {
		return fmt.Errorf("FeeRateBps %d exceeds the %d bps cap", c.FeeRateBps, maxFeeRateBps)
	}
	if c.FeeRateBps > 0 && strings.TrimSpace(c.FeeRecipient) == "" {
		return fmt.Errorf("FeeRecipient is required when FeeRateBps is non-zero")
	}
	if c.FeeRecipient != "" {
		if _, err := parseAddress(c.FeeRecipient); err != nil {
			return fmt.Errorf("FeeRecipient: %w", err)
		}
	}
	if _, err := parseAddress(c.CustodyAccount); err != nil {
		return fmt.Errorf("CustodyAccount: %w", err)
	}
	for _, group := range []struct {
		name  string
		addrs []string
	}{
		{"PlatformAccounts", c.PlatformAccounts},
		{"ArbitratorAccounts", c.ArbitratorAccounts},
		{"AdminAccounts", c.AdminAccounts},
	} {
		for _, raw := range group.addrs {
			if _, err := parseAddress(raw); err != nil {
				return fmt.Errorf("%s: %w", group.name, err)
			}
		}
	}
	for _, alloc := range c.Alloc {
		if _, err := parseAddress(alloc.Address); err != nil {
			return fmt.Errorf("Alloc: %w", err)
		}
		if _, err := parseBalance(alloc.Balance); err != nil {
			return fmt.Errorf("Alloc %s: %w", alloc.Address, err)
		}
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseBalance(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	balance, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || balance.Sign() < 0 {
		return nil, fmt.Errorf("invalid balance %q", raw)
	}
	return balance, nil
}

// FeeRecipientAddress returns the parsed fee recipient, or the zero address
// when unset.
func (c *Config) FeeRecipientAddress() common.Address {
	if strings.TrimSpace(c.FeeRecipient) == "" {
		return common.Address{}
	}
	return common.HexToAddress(strings.TrimSpace(c.FeeRecipient))
}

// CustodyAddress returns the parsed custody account.
func (c *Config) CustodyAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.CustodyAccount))
}

// RoleAddresses parses the configured account list for a role group.
func RoleAddresses(raw []string) []common.Address {
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		trimmed := strings.TrimSpace(entry)
		if common.IsHexAddress(trimmed) {
			out = append(out, common.HexToAddress(trimmed))
		}
	}
	return out
}

// Allocations parses the configured genesis balances.
func (c *Config) Allocations() (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(c.Alloc))
	for _, alloc := range c.Alloc {
		addr, err := parseAddress(alloc.Address)
		if err != nil {
			return nil, err
		}
		balance, err := parseBalance(alloc.Balance)
		if err != nil {
			return nil, err
		}
		out[addr] = balance
	}
	return out, nil
}
