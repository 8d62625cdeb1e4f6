// Package lootbox spends reward tokens on randomness-driven item draws.
//
// A user's loot box pointer moves idle -> awaiting randomness -> resolved ->
// claimed, and a claimed pointer may be opened again. Opening burns the cost
// and files an oracle request; the oracle's consume_randomness delivery
// picks the item; a claim hands out exactly one unit of it.
package lootbox

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/ledger"
	"github.com/tolelom/stakebox/metrics"
	"github.com/tolelom/stakebox/oracle"
	"github.com/tolelom/stakebox/vm"
)

var (
	ErrRequestAlreadyPending = errors.New("lootbox: a loot box is already open")
	ErrNotRedeemable         = errors.New("lootbox: nothing to claim")
	ErrAlreadyClaimed        = errors.New("lootbox: item already claimed")
	ErrInvalidLootboxCost    = errors.New("lootbox: invalid cost")
	ErrUserInitialized       = errors.New("lootbox: user already initialized")
	ErrEmptyLootTable        = errors.New("lootbox: loot table is empty")
	ErrInsufficientBalance   = ledger.ErrInsufficientBalance
)

func init() {
	vm.Register(core.TxInitUser, handleInitUser)
	vm.Register(core.TxOpenLootbox, handleOpenLootbox)
	vm.Register(core.TxConsumeRandomness, handleConsumeRandomness)
	vm.Register(core.TxClaimLootbox, handleClaimLootbox)
	vm.Register(core.TxRetrieveItem, handleRetrieveItem)
}

func loadPointer(ctx *vm.Context, user string) (*core.LootboxPointer, error) {
	p, err := ctx.State.GetLootboxPointer(user)
	if errors.Is(err, core.ErrNotFound) {
		return &core.LootboxPointer{User: user}, nil
	}
	return p, err
}

func handleInitUser(ctx *vm.Context, _ json.RawMessage) error {
	user := ctx.Tx.From
	if _, err := ctx.State.GetVrfUser(user); err == nil {
		return ErrUserInitialized
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if _, err := oracle.NewAdapter(ctx.State).CreateUser(user, ctx.Now()); err != nil {
		return err
	}
	ptr, err := loadPointer(ctx, user)
	if err != nil {
		return err
	}
	if err := ctx.State.SetLootboxPointer(ptr); err != nil {
		return err
	}
	ctx.Emit(events.EventUserInitialized, map[string]any{"user": user})
	return nil
}

func handleOpenLootbox(ctx *vm.Context, _ json.RawMessage) error {
	var p core.OpenLootboxPayload
	if err := ctx.Decode(&p); err != nil {
		return err
	}
	params, err := ctx.Params()
	if err != nil {
		return err
	}
	if params.TotalWeight() == 0 {
		return ErrEmptyLootTable
	}
	if !ValidCost(params.LootboxBaseCost, p.Cost) {
		return fmt.Errorf("%w: %d (base %d)", ErrInvalidLootboxCost, p.Cost, params.LootboxBaseCost)
	}

	user := ctx.Tx.From
	ptr, err := loadPointer(ctx, user)
	if err != nil {
		return err
	}
	if !ptr.CanOpen() {
		return fmt.Errorf("%w: request %s", ErrRequestAlreadyPending, ptr.RequestID)
	}
	if ptr.Opens == math.MaxUint64 {
		return errors.New("lootbox: open counter overflow")
	}

	led := ledger.New(ctx.State)
	bal, err := led.BalanceOf(params.RewardMint, user)
	if err != nil {
		return err
	}
	if bal < p.Cost {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, bal, p.Cost)
	}

	adapter := oracle.NewAdapter(ctx.State)
	if _, err := adapter.User(user); errors.Is(err, oracle.ErrUserNotInitialized) {
		if _, err := adapter.CreateUser(user, ctx.Now()); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if err := led.Burn(params.RewardMint, user, p.Cost); err != nil {
		return fmt.Errorf("burn cost: %w", err)
	}
	req, err := adapter.Request(user, ctx.Tx.ID, params, ctx.Now())
	if err != nil {
		return fmt.Errorf("request randomness: %w", err)
	}

	ptr.Initialized = true
	ptr.Redeemable = false
	ptr.Claimed = false
	ptr.Item = ""
	ptr.RequestID = req.ID
	ptr.Cost = p.Cost
	ptr.Opens++
	ptr.OpenedAt = ctx.Now()
	ptr.ResolvedAt = 0
	ptr.ClaimedAt = 0
	if err := ctx.State.SetLootboxPointer(ptr); err != nil {
		return err
	}

	metrics.LootboxesOpened().Add(1)
	ctx.Emit(events.EventLootboxOpened, map[string]any{"user": user, "cost": p.Cost, "request_id": req.ID})
	ctx.Emit(events.EventRandomnessRequested, map[string]any{
		"request_id": req.ID,
		"user":       user,
		"alpha":      req.Alpha,
		"oracle":     req.Oracle,
	})
	return nil
}

// handleConsumeRandomness is the oracle callback. Deliveries for a request
// that is already fulfilled, carry an all-zero output, or repeat the user's
// last consumed output change nothing and succeed.
func handleConsumeRandomness(ctx *vm.Context, _ json.RawMessage) error {
	var p core.ConsumeRandomnessPayload
	if err := ctx.Decode(&p); err != nil {
		return err
	}
	adapter := oracle.NewAdapter(ctx.State)
	req, beta, proof, err := adapter.Verify(p.RequestID, ctx.Tx.From, p.Beta, p.Proof)
	if err != nil {
		return err
	}
	if beta == nil || oracle.IsZero(beta) {
		return nil
	}
	u, err := adapter.User(req.User)
	if err != nil {
		return err
	}
	betaHex := hex.EncodeToString(beta)
	if u.ResultBuffer == betaHex {
		return nil
	}

	ptr, err := loadPointer(ctx, req.User)
	if err != nil {
		return err
	}
	now := ctx.Now()
	if err := adapter.Complete(req, beta, proof, now); err != nil {
		return err
	}
	u.ResultBuffer = betaHex
	if err := ctx.State.SetVrfUser(u); err != nil {
		return err
	}
	ctx.Emit(events.EventRandomnessFulfilled, map[string]any{"request_id": req.ID, "user": req.User, "beta": betaHex})
	metrics.OracleLatency().Observe(now - req.RequestedAt)

	// A delivery for a request the pointer no longer waits on settles the
	// request and its escrow only.
	if ptr.RequestID != req.ID || ptr.Phase() != core.PhaseAwaiting {
		return nil
	}

	params, err := ctx.Params()
	if err != nil {
		return err
	}
	value := oracle.RandomValue(beta)
	entry, idx, err := Select(params.LootTable, value)
	if err != nil {
		return err
	}
	ptr.Item = entry.Mint
	ptr.Redeemable = true
	ptr.ResolvedAt = now
	if err := ctx.State.SetLootboxPointer(ptr); err != nil {
		return err
	}

	metrics.LootboxesResolved().Add(1)
	ctx.Emit(events.EventLootboxResolved, map[string]any{
		"user":       req.User,
		"request_id": req.ID,
		"item":       entry.Mint,
		"index":      idx,
		"value":      value,
	})
	return nil
}
