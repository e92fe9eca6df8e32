package asset

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errInsufficientFunds = errors.New("asset: insufficient funds")

// Memory is an in-process settlement ledger. It backs tests and local
// deployments, and makes the custody invariant directly observable:
// everything pulled and not yet pushed sits in Custody.
type Memory struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	custody  *big.Int
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[common.Address]*big.Int),
		custody:  new(big.Int),
	}
}

// Mint credits an external account. Test setup only.
func (m *Memory) Mint(account common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(account).Add(m.account(account), amount)
}

func (m *Memory) Pull(_ context.Context, from common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.account(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", errInsufficientFunds, from.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	m.custody.Add(m.custody, amount)
	return nil
}

func (m *Memory) Push(_ context.Context, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.custody.Cmp(amount) < 0 {
		return fmt.Errorf("%w: custody has %s, need %s", errInsufficientFunds, m.custody, amount)
	}
	m.custody.Sub(m.custody, amount)
	m.account(to).Add(m.account(to), amount)
	return nil
}

// BalanceOf returns the external account balance.
func (m *Memory) BalanceOf(account common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.account(account))
}

// Custody returns the total held by the escrow.
func (m *Memory) Custody() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.custody)
}

func (m *Memory) account(a common.Address) *big.Int {
	b, ok := m.balances[a]
	if !ok {
		b = new(big.Int)
		m.balances[a] = b
	}
	return b
}
