package lootbox

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/ledger"
	"github.com/tolelom/stakebox/metrics"
	"github.com/tolelom/stakebox/vm"
)

func handleClaimLootbox(ctx *vm.Context, _ json.RawMessage) error {
	return claim(ctx, true)
}

func handleRetrieveItem(ctx *vm.Context, _ json.RawMessage) error {
	return claim(ctx, false)
}

// claim hands out one unit of the resolved item and marks the pointer
// claimed. With fromPool the unit comes from the loot pool while it has
// stock; otherwise it is minted.
func claim(ctx *vm.Context, fromPool bool) error {
	user := ctx.Tx.From
	ptr, err := loadPointer(ctx, user)
	if err != nil {
		return err
	}
	switch ptr.Phase() {
	case core.PhaseClaimed:
		return ErrAlreadyClaimed
	case core.PhaseResolved:
	default:
		return ErrNotRedeemable
	}

	led := ledger.New(ctx.State)
	source := "mint"
	if fromPool {
		stock, err := led.BalanceOf(ptr.Item, core.LootPool)
		if err != nil {
			return err
		}
		if stock > 0 {
			source = "pool"
		}
	}
	if source == "pool" {
		err = led.Transfer(ptr.Item, core.LootPool, user, 1)
	} else {
		err = led.Mint(ptr.Item, user, 1, core.ItemMintAuthority)
	}
	if err != nil {
		return fmt.Errorf("deliver item %s: %w", ptr.Item, err)
	}

	ptr.Claimed = true
	ptr.ClaimedAt = ctx.Now()
	if err := ctx.State.SetLootboxPointer(ptr); err != nil {
		return err
	}

	metrics.LootboxesClaimed().AddWithLabel(1, map[string]string{"source": source})
	ctx.Emit(events.EventLootboxClaimed, map[string]any{
		"user":       user,
		"item":       ptr.Item,
		"request_id": ptr.RequestID,
		"source":     source,
	})
	return nil
}
