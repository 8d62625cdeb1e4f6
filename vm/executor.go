package vm

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/metrics"
)

// ErrStateCorrupt marks failures that leave the state buffer unusable. The
// block producer must abort the block when it sees one.
var ErrStateCorrupt = errors.New("vm: state corrupt")

// ErrWrongChain is returned for transactions signed for another chain.
var ErrWrongChain = errors.New("vm: chain id mismatch")

// BlockResult is the outcome of executing a candidate block body.
type BlockResult struct {
	Included []*core.Transaction // applied, in order
	Receipts []*core.Receipt     // one per included transaction
	Rejected []*core.Receipt     // transactions dropped from the block
}

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	chainID string
	log     *slog.Logger
}

// NewExecutor creates an Executor for chainID with the given state and
// event emitter.
func NewExecutor(chainID string, state core.State, emitter *events.Emitter) *Executor {
	return &Executor{
		state:   state,
		emitter: emitter,
		chainID: chainID,
		log:     slog.With("component", "vm"),
	}
}

// ExecuteBlock applies the transactions of block in order. A transaction
// that fails is rolled back and dropped from the block instead of rejecting
// it; its receipt is returned in Rejected. Receipts of included
// transactions are written to state. The caller replaces the block body
// with Included before computing the state root.
func (e *Executor) ExecuteBlock(block *core.Block) (*BlockResult, error) {
	res := &BlockResult{}
	for _, tx := range block.Transactions {
		err := e.ExecuteTx(block, tx)
		if errors.Is(err, ErrStateCorrupt) {
			return nil, fmt.Errorf("tx %s: %w", tx.ID, err)
		}
		rcpt := &core.Receipt{
			TxID:        tx.ID,
			Type:        tx.Type,
			From:        tx.From,
			BlockHeight: block.Header.Height,
			Success:     err == nil,
		}
		if err != nil {
			rcpt.Error = err.Error()
			res.Rejected = append(res.Rejected, rcpt)
			metrics.TxProcessed().AddWithLabel(1, map[string]string{"type": string(tx.Type), "result": "failed"})
			e.log.Debug("tx dropped", "tx", tx.ID, "type", tx.Type, "err", err)
			if e.emitter != nil {
				e.emitter.Emit(events.Event{
					Type:        events.EventTxFailed,
					TxID:        tx.ID,
					BlockHeight: block.Header.Height,
					Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "error": err.Error()},
				})
			}
			continue
		}
		if err := e.state.SetReceipt(rcpt); err != nil {
			return nil, fmt.Errorf("store receipt %s: %w", tx.ID, err)
		}
		metrics.TxProcessed().AddWithLabel(1, map[string]string{"type": string(tx.Type), "result": "ok"})
		res.Included = append(res.Included, tx)
		res.Receipts = append(res.Receipts, rcpt)
	}
	return res, nil
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	if tx.ChainID != e.chainID {
		return fmt.Errorf("%w: got %q want %q", ErrWrongChain, tx.ChainID, e.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if tx.ID != tx.Hash() {
		return errors.New("tx id does not match hash")
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("%w: snapshot: %v", ErrStateCorrupt, err)
	}

	if err := e.applyTx(block, tx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("%w: revert after %v: %v", ErrStateCorrupt, err, revertErr)
		}
		return err
	}

	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
	}
	return nil
}

// applyTx deducts the fee, increments the nonce, then dispatches to the handler.
func (e *Executor) applyTx(block *core.Block, tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}
	if tx.Fee > 0 && block.Header.Proposer != "" {
		proposer, err := e.state.GetAccount(block.Header.Proposer)
		if err != nil {
			return err
		}
		if proposer.Balance > math.MaxUint64-tx.Fee {
			return errors.New("proposer balance overflow")
		}
		proposer.Balance += tx.Fee
		if err := e.state.SetAccount(proposer); err != nil {
			return err
		}
	}

	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Emitter: e.emitter,
	}
	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}
