package account

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/app/core/hook"
	"github.com/uhyunpark/hypermarket/pkg/storage"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrStaleNonce        = errors.New("nonce already used")
)

// Manager moves native units between accounts.
// All mutations go through the caller's state transaction; the manager
// itself holds no balances.
type Manager struct {
	hooks *hook.Registry
}

// NewManager creates an account manager.
// Payment hooks of recipients run inside Transfer.
func NewManager(hooks *hook.Registry) *Manager {
	return &Manager{hooks: hooks}
}

// GetAccount loads an account; missing accounts read as zero balance
func (m *Manager) GetAccount(r storage.Reader, addr common.Address) (*Account, error) {
	acc := NewAccount(addr)
	if _, err := storage.GetJSON(r, accountKey(addr), acc); err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", addr.Hex(), err)
	}
	acc.Address = addr
	return acc, nil
}

func (m *Manager) save(w storage.Writer, acc *Account) error {
	if err := storage.PutJSON(w, accountKey(acc.Address), acc); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// Balance returns the balance of addr
func (m *Manager) Balance(r storage.Reader, addr common.Address) (uint64, error) {
	acc, err := m.GetAccount(r, addr)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Deposit credits an account from outside the ledger (bridge or faucet)
func (m *Manager) Deposit(st storage.State, addr common.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	acc, err := m.GetAccount(st, addr)
	if err != nil {
		return err
	}
	if acc.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	acc.Balance += amount
	return m.save(st, acc)
}

// Transfer moves amount from one account to another, then runs the
// recipient's payment hook. If the hook fails the whole transfer,
// including anything the hook wrote, is reverted.
func (m *Manager) Transfer(st storage.State, from, to common.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	snap := st.Snapshot()

	src, err := m.GetAccount(st, from)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from.Hex(), src.Balance, amount)
	}
	src.Balance -= amount
	if err := m.save(st, src); err != nil {
		st.RevertToSnapshot(snap)
		return err
	}

	dst, err := m.GetAccount(st, to)
	if err != nil {
		st.RevertToSnapshot(snap)
		return err
	}
	if dst.Balance > math.MaxUint64-amount {
		st.RevertToSnapshot(snap)
		return ErrBalanceOverflow
	}
	dst.Balance += amount
	if err := m.save(st, dst); err != nil {
		st.RevertToSnapshot(snap)
		return err
	}

	if err := m.hooks.NotifyPayment(st, from, to, amount); err != nil {
		st.RevertToSnapshot(snap)
		return fmt.Errorf("payment rejected by %s: %w", to.Hex(), err)
	}
	return nil
}

// Nonce returns the last accepted nonce of addr
func (m *Manager) Nonce(r storage.Reader, addr common.Address) (uint64, error) {
	acc, err := m.GetAccount(r, addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// UseNonce records nonce for addr. Nonces must strictly increase,
// which allows clients to use timestamps.
func (m *Manager) UseNonce(st storage.State, addr common.Address, nonce uint64) error {
	acc, err := m.GetAccount(st, addr)
	if err != nil {
		return err
	}
	if nonce <= acc.Nonce {
		return fmt.Errorf("%w: got %d, last %d", ErrStaleNonce, nonce, acc.Nonce)
	}
	acc.Nonce = nonce
	return m.save(st, acc)
}
