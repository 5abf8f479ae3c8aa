package bank

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"skillchain/storage"
)

func vaultAddr(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	vault, err := NewVault(storage.NewMemDB(), vaultAddr(0xEE))
	require.NoError(t, err)
	return vault
}

func TestVaultRejectsZeroCustody(t *testing.T) {
	_, err := NewVault(storage.NewMemDB(), common.Address{})
	require.Error(t, err)
}

func TestDepositAndPay(t *testing.T) {
	vault := newTestVault(t)
	client := vaultAddr(0x10)
	freelancer := vaultAddr(0x20)

	require.NoError(t, vault.Mint(client, big.NewInt(1_000)))
	require.NoError(t, vault.Deposit(client, big.NewInt(400)))

	clientBal, err := vault.Balance(client)
	require.NoError(t, err)
	require.Zero(t, clientBal.Cmp(big.NewInt(600)))
	custodyBal, err := vault.Balance(vault.CustodyAddress())
	require.NoError(t, err)
	require.Zero(t, custodyBal.Cmp(big.NewInt(400)))

	require.NoError(t, vault.Pay(freelancer, big.NewInt(400)))
	freelancerBal, err := vault.Balance(freelancer)
	require.NoError(t, err)
	require.Zero(t, freelancerBal.Cmp(big.NewInt(400)))
}

func TestTransferFailureLeavesBalances(t *testing.T) {
	vault := newTestVault(t)
	client := vaultAddr(0x10)
	require.NoError(t, vault.Mint(client, big.NewInt(100)))

	err := vault.Deposit(client, big.NewInt(101))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	balance, err := vault.Balance(client)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(100)))

	err = vault.Pay(vaultAddr(0x20), big.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestZeroAmountTransfersAreNoops(t *testing.T) {
	vault := newTestVault(t)
	client := vaultAddr(0x10)
	require.NoError(t, vault.Deposit(client, big.NewInt(0)))
	require.NoError(t, vault.Pay(vaultAddr(0x20), big.NewInt(0)))
}

func TestMintValidation(t *testing.T) {
	vault := newTestVault(t)
	require.Error(t, vault.Mint(common.Address{}, big.NewInt(10)))
	require.Error(t, vault.Mint(vaultAddr(0x10), big.NewInt(-1)))
	require.Error(t, vault.Mint(vaultAddr(0x10), nil))
}
