package vm

import (
	"errors"
	"fmt"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
)

// ErrNoParams is returned when a program runs before genesis wrote its
// parameters.
var ErrNoParams = errors.New("vm: program params not initialised")

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction, and the event emitter.
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Emitter *events.Emitter
}

// Now is the program clock: the block timestamp in unix seconds.
func (c *Context) Now() int64 {
	return c.Block.Unix()
}

// Params loads the program parameters.
func (c *Context) Params() (*core.Params, error) {
	p, err := c.State.GetParams()
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrNoParams
	}
	if err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	return p, nil
}

// Decode unmarshals the transaction payload into v.
func (c *Context) Decode(v any) error {
	return c.Tx.DecodePayload(v)
}

// Emit publishes an event stamped with the current transaction and block.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	if c.Emitter == nil {
		return
	}
	c.Emitter.Emit(events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}
