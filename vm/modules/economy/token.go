// Package economy moves native coins and fungible program tokens between
// accounts.
package economy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/ledger"
	"github.com/tolelom/stakebox/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
	vm.Register(core.TxTokenTransfer, handleTokenTransfer)
}

func handleTransfer(ctx *vm.Context, _ json.RawMessage) error {
	var p core.TransferPayload
	if err := ctx.Decode(&p); err != nil {
		return err
	}
	if p.Amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	if p.To == "" {
		return errors.New("transfer to address required")
	}

	sender, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	if sender.Balance < p.Amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", sender.Balance, p.Amount)
	}
	sender.Balance -= p.Amount
	if err := ctx.State.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := ctx.State.GetAccount(p.To)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-p.Amount {
		return errors.New("recipient balance overflow")
	}
	recipient.Balance += p.Amount
	if err := ctx.State.SetAccount(recipient); err != nil {
		return err
	}

	ctx.Emit(events.EventTransfer, map[string]any{
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}

func handleTokenTransfer(ctx *vm.Context, _ json.RawMessage) error {
	var p core.TokenTransferPayload
	if err := ctx.Decode(&p); err != nil {
		return err
	}
	if p.Mint == "" {
		return errors.New("token_transfer mint required")
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("invalid recipient pubkey: %w", err)
	}
	if err := ledger.New(ctx.State).Transfer(p.Mint, ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"mint":   p.Mint,
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
