// Package ledger is the fungible-token adapter used by the staking and loot
// box programs. It moves balances of a TokenMint held in chain state and
// enforces the mint authority. Every check runs before the first write, so a
// failed call leaves state untouched.
package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/stakebox/core"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrAuthorityMismatch   = errors.New("ledger: mint authority mismatch")
	ErrUnknownMint         = errors.New("ledger: unknown mint")
	ErrMintExists          = errors.New("ledger: mint already exists")
	ErrZeroAmount          = errors.New("ledger: amount must be > 0")
	ErrSupplyOverflow      = errors.New("ledger: supply overflow")
)

// Ledger operates on token balances stored in a core.State.
type Ledger struct {
	state core.State
}

// New returns a Ledger over state.
func New(state core.State) *Ledger {
	return &Ledger{state: state}
}

// CreateMint registers a new token definition with zero supply.
func (l *Ledger) CreateMint(m *core.TokenMint) error {
	if m.ID == "" {
		return errors.New("ledger: mint id required")
	}
	if m.Authority == "" {
		return errors.New("ledger: mint authority required")
	}
	if _, err := l.state.GetMint(m.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrMintExists, m.ID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	cp := *m
	cp.Supply = 0
	return l.state.SetMint(&cp)
}

// GetMint returns the definition of mint.
func (l *Ledger) GetMint(mint string) (*core.TokenMint, error) {
	m, err := l.state.GetMint(mint)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMint, mint)
	}
	return m, err
}

// BalanceOf returns owner's balance of mint.
func (l *Ledger) BalanceOf(mint, owner string) (uint64, error) {
	if _, err := l.GetMint(mint); err != nil {
		return 0, err
	}
	b, err := l.state.GetTokenBalance(mint, owner)
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

// Mint creates amount new units for to. authority must match the mint's
// authority.
func (l *Ledger) Mint(mint, to string, amount uint64, authority string) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	m, err := l.GetMint(mint)
	if err != nil {
		return err
	}
	if m.Authority != authority {
		return fmt.Errorf("%w: mint %s", ErrAuthorityMismatch, mint)
	}
	if m.Supply > math.MaxUint64-amount {
		return fmt.Errorf("%w: mint %s", ErrSupplyOverflow, mint)
	}
	bal, err := l.state.GetTokenBalance(mint, to)
	if err != nil {
		return err
	}
	m.Supply += amount
	bal.Amount += amount
	if err := l.state.SetMint(m); err != nil {
		return err
	}
	return l.state.SetTokenBalance(bal)
}

// Burn destroys amount units held by from.
func (l *Ledger) Burn(mint, from string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	m, err := l.GetMint(mint)
	if err != nil {
		return err
	}
	bal, err := l.state.GetTokenBalance(mint, from)
	if err != nil {
		return err
	}
	if bal.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, bal.Amount, amount)
	}
	bal.Amount -= amount
	m.Supply -= amount
	if err := l.state.SetTokenBalance(bal); err != nil {
		return err
	}
	return l.state.SetMint(m)
}

// Transfer moves amount units of mint from one owner to another.
func (l *Ledger) Transfer(mint, from, to string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if to == "" {
		return errors.New("ledger: recipient required")
	}
	if _, err := l.GetMint(mint); err != nil {
		return err
	}
	src, err := l.state.GetTokenBalance(mint, from)
	if err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	dst, err := l.state.GetTokenBalance(mint, to)
	if err != nil {
		return err
	}
	if dst.Amount > math.MaxUint64-amount {
		return fmt.Errorf("%w: recipient balance", ErrSupplyOverflow)
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := l.state.SetTokenBalance(src); err != nil {
		return err
	}
	return l.state.SetTokenBalance(dst)
}
