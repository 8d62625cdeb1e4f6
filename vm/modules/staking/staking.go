// Package staking locks NFTs in the stake vault and mints the reward token
// for the time they stay locked. A stake record is keyed by (user, asset)
// and survives unstaking so the next stake reuses it with a new cycle.
package staking

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/custody"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/ledger"
	"github.com/tolelom/stakebox/metrics"
	"github.com/tolelom/stakebox/vm"
)

var (
	ErrNotOwner        = custody.ErrNotOwner
	ErrAlreadyStaked   = errors.New("staking: asset already staked")
	ErrNotStaked       = errors.New("staking: asset not staked")
	ErrAccrualOverflow = errors.New("staking: reward accrual overflow")
	ErrCustodyBroken   = errors.New("staking: vault does not hold the staked asset")
)

func init() {
	vm.Register(core.TxStake, handleStake)
	vm.Register(core.TxRedeem, handleRedeem)
	vm.Register(core.TxUnstake, handleUnstake)
}

func decodeAssetID(ctx *vm.Context) (string, error) {
	var p core.StakePayload
	if err := ctx.Decode(&p); err != nil {
		return "", err
	}
	if p.AssetID == "" {
		return "", errors.New("staking: asset_id required")
	}
	return p.AssetID, nil
}

func handleStake(ctx *vm.Context, _ json.RawMessage) error {
	assetID, err := decodeAssetID(ctx)
	if err != nil {
		return err
	}
	user := ctx.Tx.From

	rec, err := ctx.State.GetStakeRecord(user, assetID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		rec = &core.StakeRecord{User: user, AssetID: assetID}
	case err != nil:
		return err
	case rec.Staked():
		return fmt.Errorf("%w: %s", ErrAlreadyStaked, assetID)
	}

	asset, err := ctx.State.GetAsset(assetID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: asset %s does not exist", ErrNotOwner, assetID)
	}
	if err != nil {
		return err
	}
	if asset.Owner != user {
		return fmt.Errorf("%w: %s", ErrNotOwner, assetID)
	}
	if rec.Cycle == math.MaxUint64 {
		return errors.New("staking: cycle counter overflow")
	}

	now := ctx.Now()
	rec.Initialized = true
	rec.Cycle++
	rec.Custody = core.CustodyStaked
	rec.StakeStartTime = now
	rec.LastRedeemTime = now

	if _, err := custody.NewVault(ctx.State, core.StakeVault).Lock(assetID, user, rec.LockKey()); err != nil {
		return err
	}
	if err := ctx.State.SetStakeRecord(rec); err != nil {
		return err
	}

	metrics.Stakes().AddWithLabel(1, map[string]string{"op": "stake"})
	ctx.Emit(events.EventStaked, map[string]any{"user": user, "asset_id": assetID, "cycle": rec.Cycle, "at": now})
	ctx.Emit(events.EventAssetLocked, map[string]any{"asset_id": assetID, "from": user, "vault": core.StakeVault})
	return nil
}

// loadStaked returns the caller's record for assetID after checking that it
// is staked and that the vault still holds the asset for this cycle.
func loadStaked(ctx *vm.Context, assetID string) (*core.StakeRecord, error) {
	rec, err := ctx.State.GetStakeRecord(ctx.Tx.From, assetID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotStaked, assetID)
	}
	if err != nil {
		return nil, err
	}
	if !rec.Staked() {
		return nil, fmt.Errorf("%w: %s", ErrNotStaked, assetID)
	}
	held, err := custody.NewVault(ctx.State, core.StakeVault).Holds(assetID, rec.LockKey())
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, fmt.Errorf("%w: %s", ErrCustodyBroken, assetID)
	}
	return rec, nil
}

// settle mints everything accrued since the last checkpoint and advances
// the checkpoint to now. A zero accrual mints nothing but still advances.
func settle(ctx *vm.Context, rec *core.StakeRecord) (uint64, error) {
	params, err := ctx.Params()
	if err != nil {
		return 0, err
	}
	now := ctx.Now()
	amount, err := Accrue(params.RewardRate, now-rec.LastRedeemTime)
	if err != nil {
		return 0, err
	}
	if rec.TotalEarned > math.MaxUint64-amount {
		return 0, ErrAccrualOverflow
	}
	if amount > 0 {
		if err := ledger.New(ctx.State).Mint(params.RewardMint, rec.User, amount, core.RewardMintAuthority); err != nil {
			return 0, fmt.Errorf("mint rewards: %w", err)
		}
		metrics.RewardsMinted().Add(int64(amount))
	}
	rec.TotalEarned += amount
	if now > rec.LastRedeemTime {
		rec.LastRedeemTime = now
	}
	return amount, nil
}

func handleRedeem(ctx *vm.Context, _ json.RawMessage) error {
	assetID, err := decodeAssetID(ctx)
	if err != nil {
		return err
	}
	rec, err := loadStaked(ctx, assetID)
	if err != nil {
		return err
	}
	amount, err := settle(ctx, rec)
	if err != nil {
		return err
	}
	if err := ctx.State.SetStakeRecord(rec); err != nil {
		return err
	}

	metrics.Stakes().AddWithLabel(1, map[string]string{"op": "redeem"})
	ctx.Emit(events.EventRedeemed, map[string]any{"user": rec.User, "asset_id": assetID, "amount": amount, "at": rec.LastRedeemTime})
	return nil
}

func handleUnstake(ctx *vm.Context, _ json.RawMessage) error {
	assetID, err := decodeAssetID(ctx)
	if err != nil {
		return err
	}
	rec, err := loadStaked(ctx, assetID)
	if err != nil {
		return err
	}
	amount, err := settle(ctx, rec)
	if err != nil {
		return err
	}
	if _, err := custody.NewVault(ctx.State, core.StakeVault).Release(assetID, rec.User, rec.LockKey()); err != nil {
		return err
	}
	rec.Custody = core.CustodyUnstaked
	if err := ctx.State.SetStakeRecord(rec); err != nil {
		return err
	}

	metrics.Stakes().AddWithLabel(1, map[string]string{"op": "unstake"})
	ctx.Emit(events.EventUnstaked, map[string]any{"user": rec.User, "asset_id": assetID, "amount": amount, "cycle": rec.Cycle})
	ctx.Emit(events.EventAssetReleased, map[string]any{"asset_id": assetID, "to": rec.User, "vault": core.StakeVault})
	return nil
}
