// Package custody holds non-fungible assets in a program-controlled vault.
// A locked asset is owned by the vault address and tagged with the lock key
// of the stake cycle that holds it; only the same key can release it.
package custody

import (
	"errors"
	"fmt"

	"github.com/tolelom/stakebox/core"
)

var (
	ErrNotOwner      = errors.New("custody: asset not owned by caller")
	ErrAlreadyLocked = errors.New("custody: asset already locked")
	ErrNotLocked     = errors.New("custody: asset not locked")
	ErrLockMismatch  = errors.New("custody: lock key mismatch")
	ErrUnknownAsset  = errors.New("custody: unknown asset")
)

// Vault locks assets under a single program address.
type Vault struct {
	state   core.State
	address string
}

// NewVault returns a Vault whose assets are owned by address.
func NewVault(state core.State, address string) *Vault {
	return &Vault{state: state, address: address}
}

// Address returns the vault's owner address.
func (v *Vault) Address() string { return v.address }

func (v *Vault) asset(id string) (*core.Asset, error) {
	a, err := v.state.GetAsset(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	return a, err
}

// Lock moves assetID from fromOwner into the vault under lockKey.
func (v *Vault) Lock(assetID, fromOwner, lockKey string) (*core.Asset, error) {
	if lockKey == "" {
		return nil, errors.New("custody: lock key required")
	}
	a, err := v.asset(assetID)
	if err != nil {
		return nil, err
	}
	if a.Locked() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, assetID)
	}
	if a.Owner != fromOwner {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, assetID)
	}
	a.Owner = v.address
	a.LockedBy = lockKey
	a.LockedFor = fromOwner
	if err := v.state.SetAsset(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Release returns assetID from the vault to toOwner. lockKey must be the
// key the asset was locked with and toOwner the depositor.
func (v *Vault) Release(assetID, toOwner, lockKey string) (*core.Asset, error) {
	a, err := v.asset(assetID)
	if err != nil {
		return nil, err
	}
	if !a.Locked() || a.Owner != v.address {
		return nil, fmt.Errorf("%w: %s", ErrNotLocked, assetID)
	}
	if a.LockedBy != lockKey {
		return nil, fmt.Errorf("%w: %s", ErrLockMismatch, assetID)
	}
	if a.LockedFor != toOwner {
		return nil, fmt.Errorf("%w: %s deposited by another owner", ErrNotOwner, assetID)
	}
	a.Owner = toOwner
	a.LockedBy = ""
	a.LockedFor = ""
	if err := v.state.SetAsset(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Holds reports whether the vault holds assetID under lockKey.
func (v *Vault) Holds(assetID, lockKey string) (bool, error) {
	a, err := v.asset(assetID)
	if err != nil {
		return false, err
	}
	return a.Owner == v.address && a.LockedBy == lockKey, nil
}
