// Package asset issues and moves non-fungible assets. Assets held by the
// stake vault cannot be transferred or burned until they are unstaked.
package asset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/vm"
)

var (
	ErrAssetLocked = errors.New("asset: asset is locked in custody")
	ErrNotCreator  = errors.New("asset: only the template creator may mint")
)

func init() {
	vm.Register(core.TxMintAsset, handleMintAsset)
	vm.Register(core.TxBurnAsset, handleBurnAsset)
	vm.Register(core.TxTransferAsset, handleTransferAsset)
}

// AssetID derives the deterministic ID of the asset minted by txID.
func AssetID(txID, templateID string) string {
	return crypto.Hash([]byte(txID + ":asset:" + templateID))
}

func handleMintAsset(ctx *vm.Context, _ json.RawMessage) error {
	var p core.MintAssetPayload
	if err := ctx.Decode(&p); err != nil {
		return err
	}
	if p.TemplateID == "" {
		return errors.New("template_id required")
	}

	tmpl, err := ctx.State.GetTemplate(p.TemplateID)
	if err != nil {
		return fmt.Errorf("template %q not found: %w", p.TemplateID, err)
	}
	if tmpl.Creator != ctx.Tx.From {
		return ErrNotCreator
	}
	if err := checkProperties(tmpl, p.Properties); err != nil {
		return err
	}

	owner := p.Owner
	if owner == "" {
		owner = ctx.Tx.From
	} else if _, err := crypto.PubKeyFromHex(owner); err != nil {
		return fmt.Errorf("invalid owner pubkey: %w", err)
	}

	assetID := AssetID(ctx.Tx.ID, p.TemplateID)
	if _, err := ctx.State.GetAsset(assetID); err == nil {
		return fmt.Errorf("asset %q already exists", assetID)
	}

	asset := &core.Asset{
		ID:         assetID,
		TemplateID: p.TemplateID,
		Owner:      owner,
		Properties: p.Properties,
		Tradeable:  tmpl.Tradeable,
		MintedAt:   ctx.Now(),
	}
	if err := ctx.State.SetAsset(asset); err != nil {
		return err
	}

	ctx.Emit(events.EventAssetMinted, map[string]any{"asset_id": assetID, "template_id": p.TemplateID, "owner": owner})
	return nil
}

func handleBurnAsset(ctx *vm.Context, _ json.RawMessage) error {
	var p core.BurnAssetPayload
	if err := ctx.Decode(&p); err != nil {
		return err
	}

	asset, err := ctx.State.GetAsset(p.AssetID)
	if err != nil {
		return fmt.Errorf("asset %q not found: %w", p.AssetID, err)
	}
	if asset.Locked() {
		return fmt.Errorf("%w: %s", ErrAssetLocked, p.AssetID)
	}
	if asset.Owner != ctx.Tx.From {
		return errors.New("only the asset owner can burn it")
	}

	if err := ctx.State.DeleteAsset(p.AssetID); err != nil {
		return err
	}

	ctx.Emit(events.EventAssetBurned, map[string]any{"asset_id": p.AssetID, "owner": asset.Owner})
	return nil
}

func handleTransferAsset(ctx *vm.Context, _ json.RawMessage) error {
	var p core.TransferAssetPayload
	if err := ctx.Decode(&p); err != nil {
		return err
	}
	if p.To == "" {
		return errors.New("to address required")
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("invalid to pubkey: %w", err)
	}

	asset, err := ctx.State.GetAsset(p.AssetID)
	if err != nil {
		return fmt.Errorf("asset %q not found: %w", p.AssetID, err)
	}
	if asset.Locked() {
		return fmt.Errorf("%w: %s", ErrAssetLocked, p.AssetID)
	}
	if asset.Owner != ctx.Tx.From {
		return errors.New("only the asset owner can transfer it")
	}
	if !asset.Tradeable {
		return errors.New("asset is not tradeable")
	}

	asset.Owner = p.To
	if err := ctx.State.SetAsset(asset); err != nil {
		return err
	}

	ctx.Emit(events.EventAssetTransfer, map[string]any{"asset_id": p.AssetID, "from": ctx.Tx.From, "to": p.To})
	return nil
}
