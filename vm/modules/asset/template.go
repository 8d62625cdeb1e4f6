package asset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/vm"
)

func init() {
	vm.Register(core.TxRegisterTemplate, handleRegisterTemplate)
}

// handleRegisterTemplate creates an NFT collection. The sender becomes its
// creator and the only account allowed to mint from it.
func handleRegisterTemplate(ctx *vm.Context, _ json.RawMessage) error {
	var p core.RegisterTemplatePayload
	if err := ctx.Decode(&p); err != nil {
		return err
	}
	if p.ID == "" {
		return errors.New("template id required")
	}

	_, err := ctx.State.GetTemplate(p.ID)
	if err == nil {
		return fmt.Errorf("template %q already exists", p.ID)
	}
	if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check template %q: %w", p.ID, err)
	}

	t := &core.AssetTemplate{
		ID:        p.ID,
		Name:      p.Name,
		Schema:    p.Schema,
		Tradeable: p.Tradeable,
		Creator:   ctx.Tx.From,
	}
	if err := ctx.State.SetTemplate(t); err != nil {
		return err
	}

	ctx.Emit(events.EventTemplateReg, map[string]any{"template_id": p.ID, "name": p.Name, "creator": ctx.Tx.From})
	return nil
}

// checkProperties rejects properties the template schema does not declare.
// An empty schema accepts anything.
func checkProperties(tmpl *core.AssetTemplate, props map[string]any) error {
	if len(tmpl.Schema) == 0 {
		return nil
	}
	for k := range props {
		if _, ok := tmpl.Schema[k]; !ok {
			return fmt.Errorf("property %q not in template %q schema", k, tmpl.ID)
		}
	}
	return nil
}
