// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer and carries the root of the state it produced.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/metrics"
	"github.com/tolelom/stakebox/vm"
)

const maxRejectedReceipts = 4096

var (
	// ErrNotProposer is returned when another validator owns the next slot.
	ErrNotProposer = errors.New("consensus: not the proposer for this round")
	// ErrBadBlock marks an imported block whose execution disagrees with
	// its header.
	ErrBadBlock = errors.New("consensus: block does not re-execute")
)

// PoA is the Proof-of-Authority consensus engine. It is the only writer of
// chain state; mu serialises block production with the read paths that must
// not observe a half-executed block.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	rejected map[string]*core.Receipt
	rejOrder []string
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *PoA {
	return &PoA{
		cfg:      cfg,
		bc:       bc,
		state:    state,
		mempool:  mempool,
		exec:     exec,
		emitter:  emitter,
		privKey:  privKey,
		pubKey:   privKey.Public(),
		log:      slog.With("component", "consensus"),
		now:      time.Now,
		rejected: make(map[string]*core.Receipt),
	}
}

// SetClock overrides the block clock. Tests use it to control accrual time.
func (p *PoA) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.pubKey.Hex()
}

// IsValidator reports whether the local key is in the validator set.
// Nodes outside it only import blocks.
func (p *PoA) IsValidator() bool {
	for _, v := range p.cfg.Validators {
		if v == p.pubKey.Hex() {
			return true
		}
	}
	return false
}

// ProduceBlock builds, executes, signs and commits the next block.
// Transactions that fail are dropped from the block and from the mempool;
// their receipts remain queryable through Receipt.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, ErrNotProposer
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	txs := p.mempool.Pending(limit)

	tip, height := p.bc.Head()
	prevHash := config.GenesisHash
	if tip != nil {
		prevHash = tip.Hash
	}
	ts := p.now()
	if tip != nil && ts.UnixNano() < tip.Header.Timestamp {
		ts = time.Unix(0, tip.Header.Timestamp)
	}
	block := core.NewBlockAt(height+1, prevHash, p.pubKey.Hex(), txs, ts)

	snap, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	res, err := p.exec.ExecuteBlock(block)
	if err != nil {
		return nil, p.abort(snap, block, fmt.Errorf("execute block: %w", err))
	}
	block.SetTransactions(res.Included)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)
	if err := p.ValidateBlock(block); err != nil {
		return nil, p.abort(snap, block, err)
	}
	if err := p.commit(snap, block); err != nil {
		return nil, err
	}

	txIDs := make([]string, len(txs))
	for i, tx := range txs {
		txIDs[i] = tx.ID
	}
	p.mempool.Remove(txIDs)
	p.rememberRejected(res.Rejected)
	p.afterCommit(block, len(res.Rejected))
	if len(txs) > 0 {
		p.log.Info("block produced",
			"height", block.Header.Height,
			"hash", block.Hash,
			"txs", len(res.Included),
			"dropped", len(res.Rejected))
	}
	return block, nil
}

// ImportBlock applies a block produced by another validator. The block is
// re-executed locally and refused unless every transaction succeeds and the
// resulting state root matches the header. A fresh replica imports block #0
// after applying the genesis state without committing it.
func (p *PoA) ImportBlock(block *core.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ValidateBlock(block); err != nil {
		return err
	}
	wantRoot := core.ComputeTxRoot(block.Transactions)
	if block.Header.Height == 0 {
		wantRoot = config.GenesisTxRoot(p.cfg.Genesis.ChainID)
	}
	if block.Header.TxRoot != wantRoot {
		return fmt.Errorf("%w: tx root does not match body", ErrBadBlock)
	}

	snap, err := p.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	res, err := p.exec.ExecuteBlock(block)
	if err != nil {
		return p.abort(snap, block, fmt.Errorf("execute block: %w", err))
	}
	if len(res.Rejected) > 0 {
		r := res.Rejected[0]
		return p.abort(snap, block, fmt.Errorf("%w: tx %s: %s", ErrBadBlock, r.TxID, r.Error))
	}
	if root := p.state.ComputeRoot(); root != block.Header.StateRoot {
		return p.abort(snap, block, fmt.Errorf("%w: state root %s, header says %s", ErrBadBlock, root, block.Header.StateRoot))
	}
	if err := p.commit(snap, block); err != nil {
		return err
	}

	txIDs := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		txIDs[i] = tx.ID
	}
	p.mempool.Remove(txIDs)
	// Transactions the producer dropped never show up here; prune them once
	// the sender has moved past their nonce or they expire.
	p.mempool.Prune(p.now(), func(from string) uint64 {
		acc, err := p.state.GetAccount(from)
		if err != nil {
			return 0
		}
		return acc.Nonce
	})
	p.afterCommit(block, 0)
	p.log.Debug("block imported", "height", block.Header.Height, "hash", block.Hash, "txs", len(block.Transactions))
	return nil
}

// abort rolls back a block attempt and tells subscribers to discard the
// events it emitted.
func (p *PoA) abort(snap int, block *core.Block, cause error) error {
	if err := p.state.RevertToSnapshot(snap); err != nil {
		p.log.Error("revert after failed block", "height", block.Header.Height, "err", err)
	}
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockAborted,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"error": cause.Error()},
	})
	return cause
}

// commit stores block and then flushes state. The state is only written
// once the block is safely stored.
func (p *PoA) commit(snap int, block *core.Block) error {
	if err := p.bc.AddBlock(block); err != nil {
		return p.abort(snap, block, fmt.Errorf("add block: %w", err))
	}
	if err := p.state.Commit(); err != nil {
		p.log.Error("block stored but state commit failed", "height", block.Header.Height, "err", err)
		panic(fmt.Sprintf("consensus: state commit failed at height %d: %v", block.Header.Height, err))
	}
	return nil
}

func (p *PoA) afterCommit(block *core.Block, dropped int) {
	metrics.BlocksProduced().Add(1)
	metrics.BlockHeight().Set(block.Header.Height)
	metrics.MempoolSize().Set(int64(p.mempool.Size()))

	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions), "dropped": dropped},
	})
}

func (p *PoA) rememberRejected(rcpts []*core.Receipt) {
	for _, r := range rcpts {
		if _, ok := p.rejected[r.TxID]; !ok {
			p.rejOrder = append(p.rejOrder, r.TxID)
		}
		p.rejected[r.TxID] = r
	}
	for len(p.rejOrder) > maxRejectedReceipts {
		delete(p.rejected, p.rejOrder[0])
		p.rejOrder = p.rejOrder[1:]
	}
}

// Receipt returns the receipt of a transaction that was included in a block
// or recently dropped from one.
func (p *PoA) Receipt(txID string) (*core.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.rejected[txID]; ok {
		return r, nil
	}
	return p.state.GetReceipt(txID)
}

// ValidateBlock checks that block was proposed and signed by the expected
// validator and links to the current tip.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.cfg.Validators) == 0 {
		return errors.New("no validators configured")
	}
	idx := int(block.Header.Height) % len(p.cfg.Validators)
	expected := p.cfg.Validators[idx]
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}

	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	return nil
}

// SubmitTx admits tx to the mempool after checking that a module handles it.
func (p *PoA) SubmitTx(tx *core.Transaction) error {
	if tx.ChainID != p.cfg.Genesis.ChainID {
		return fmt.Errorf("%w: got %q", vm.ErrWrongChain, tx.ChainID)
	}
	if !vm.Supported(tx.Type) {
		return fmt.Errorf("unsupported tx type %q", tx.Type)
	}
	if err := p.mempool.Add(tx); err != nil {
		return err
	}
	metrics.MempoolSize().Set(int64(p.mempool.Size()))
	return nil
}

// NextNonce returns the nonce the next transaction from address must carry:
// the committed account nonce plus its queued transactions.
func (p *PoA) NextNonce(address string) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, err := p.state.GetAccount(address)
	if err != nil {
		return 0, err
	}
	return acc.Nonce + uint64(p.mempool.PendingFrom(address)), nil
}

// PendingRequests lists randomness requests awaiting the oracle as of the
// last committed block.
func (p *PoA) PendingRequests() ([]*core.VrfRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.PendingRequests()
}

// View runs fn against state while no block is being produced, so readers
// only observe committed blocks.
func (p *PoA) View(fn func(state core.State) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(p.state)
}

// Run produces a block every interval until ctx is cancelled.
func (p *PoA) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.log.Info("block production started", "proposer", p.pubKey.Hex(), "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !p.IsProposer() {
				continue
			}
			if _, err := p.ProduceBlock(); err != nil {
				p.log.Error("produce block", "err", err)
			}
		}
	}
}
