// Package bank implements the value-transfer primitive backing the escrow
// ledger. Account balances live in the keyed store; escrowed funds are held
// on a dedicated custody account owned by the vault.
package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"skillchain/storage"
)

const balancePrefix = "bank/balance/"

// ErrInsufficientBalance is returned when a transfer exceeds the payer's
// funds.
var ErrInsufficientBalance = errors.New("bank: insufficient balance")

// Vault moves value between accounts atomically: a transfer either fully
// succeeds or leaves both balances untouched. It implements
// escrow.PaymentRail with the custody account as the escrow pool.
type Vault struct {
	mu      sync.Mutex
	db      storage.Database
	custody common.Address
}

// NewVault creates a vault using the supplied custody address for escrowed
// funds.
func NewVault(db storage.Database, custody common.Address) (*Vault, error) {
	if custody == (common.Address{}) {
		return nil, fmt.Errorf("bank: custody address must not be zero")
	}
	return &Vault{db: db, custody: custody}, nil
}

// CustodyAddress reports the account holding escrowed funds.
func (v *Vault) CustodyAddress() common.Address { return v.custody }

func balanceKey(addr common.Address) []byte {
	return []byte(balancePrefix + strings.ToLower(addr.Hex()))
}

func (v *Vault) load(addr common.Address) (*big.Int, error) {
	raw, err := v.db.Get(balanceKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (v *Vault) store(addr common.Address, balance *big.Int) error {
	return v.db.Put(balanceKey(addr), balance.Bytes())
}

// Balance returns the current balance of the account.
func (v *Vault) Balance(addr common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.load(addr)
}

// Mint credits the account with new value. Used for genesis allocations and
// deposits arriving from outside the vault.
func (v *Vault) Mint(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: mint amount must be non-negative")
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("bank: mint to zero address")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, err := v.load(addr)
	if err != nil {
		return err
	}
	return v.store(addr, balance.Add(balance, amount))
}

func (v *Vault) transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: negative transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, err := v.load(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := v.load(to)
	if err != nil {
		return err
	}
	if err := v.store(from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return v.store(to, new(big.Int).Add(toBal, amount))
}

// Deposit moves value from the payer into custody. Implements the escrow
// payment rail.
func (v *Vault) Deposit(from common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transfer(from, v.custody, amount)
}

// Pay releases value from custody to the recipient. Implements the escrow
// payment rail.
func (v *Vault) Pay(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("bank: pay to zero address")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transfer(v.custody, to, amount)
}
