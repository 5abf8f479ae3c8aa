package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8645", cfg.RPCAddress)
	require.Equal(t, "local", cfg.Environment)
	require.NotEmpty(t, cfg.CustodyAccount)
	require.FileExists(t, path)

	// The generated file must load back cleanly.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, reloaded.RPCAddress)
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
RPCAddress = "127.0.0.1:9999"
DataDir = "/tmp/skillchain"
FeeRateBps = 250
FeeRecipient = "0x1111111111111111111111111111111111111111"
CustodyAccount = "0x2222222222222222222222222222222222222222"
PlatformAccounts = ["0x3333333333333333333333333333333333333333"]
ArbitratorAccounts = ["0x4444444444444444444444444444444444444444"]
AdminAccounts = ["0x5555555555555555555555555555555555555555"]

[[Alloc]]
Address = "0x6666666666666666666666666666666666666666"
Balance = "1000000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(250), cfg.FeeRateBps)
	require.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), cfg.FeeRecipientAddress())
	require.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), cfg.CustodyAddress())
	require.Len(t, RoleAddresses(cfg.PlatformAccounts), 1)

	allocs, err := cfg.Allocations()
	require.NoError(t, err)
	balance := allocs[common.HexToAddress("0x6666666666666666666666666666666666666666")]
	require.NotNil(t, balance)
	require.Zero(t, balance.Cmp(big.NewInt(1_000_000)))
}

func TestLoadRejectsFeeRateAboveCap(t *testing.T) {
	path := writeConfig(t, `
FeeRateBps = 1001
FeeRecipient = "0x1111111111111111111111111111111111111111"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "cap")
}

func TestLoadRejectsFeeRateWithoutRecipient(t *testing.T) {
	path := writeConfig(t, `FeeRateBps = 100`)
	_, err := Load(path)
	require.ErrorContains(t, err, "FeeRecipient")
}

func TestLoadRejectsMalformedAddresses(t *testing.T) {
	path := writeConfig(t, `PlatformAccounts = ["not-an-address"]`)
	_, err := Load(path)
	require.ErrorContains(t, err, "PlatformAccounts")
}

func TestLoadRejectsMalformedAllocBalance(t *testing.T) {
	path := writeConfig(t, `
[[Alloc]]
Address = "0x6666666666666666666666666666666666666666"
Balance = "-5"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "Alloc")
}
