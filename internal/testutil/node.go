package testutil

import (
	"testing"
	"time"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/consensus"
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/indexer"
	"github.com/tolelom/stakebox/storage"
	"github.com/tolelom/stakebox/vm"
	"github.com/tolelom/stakebox/wallet"
)

// Node is a single-validator chain, or a replica of one, with in-memory
// storage whose block clock only moves when the test advances it.
type Node struct {
	t         testing.TB
	Config    *config.Config
	DB        *MemDB
	State     *storage.StateDB
	Chain     *core.Blockchain
	Mempool   *core.Mempool
	Emitter   *events.Emitter
	Indexer   *indexer.Indexer
	PoA       *consensus.PoA
	Validator *wallet.Wallet
	Clock     time.Time
}

// NewNode commits the genesis block for g and wires a PoA producer.
func NewNode(t testing.TB, g *config.GenesisConfig) *Node {
	t.Helper()
	validator := Wallet(t)
	n := newNode(t, g, validator, []string{validator.PubKey()})

	genesis, err := config.CreateGenesisBlock(n.Config, n.State, validator.PrivKey())
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if err := n.Chain.AddBlock(genesis); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	n.Clock = time.Unix(n.Config.Genesis.Timestamp, 0)
	return n
}

// NewReplica wires a node that follows producer. It holds the genesis
// state uncommitted until block #0 is imported.
func NewReplica(t testing.TB, producer *Node) *Node {
	t.Helper()
	n := newNode(t, &producer.Config.Genesis, Wallet(t), producer.Config.Validators)
	if err := config.ApplyGenesis(&n.Config.Genesis, n.State); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	return n
}

func newNode(t testing.TB, g *config.GenesisConfig, key *wallet.Wallet, validators []string) *Node {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Genesis = *g
	cfg.Validators = validators

	db := NewMemDB()
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		t.Fatalf("blockchain init: %v", err)
	}

	em := events.NewEmitter()
	idx := indexer.New(db, em)
	if err := idx.Seed(&cfg.Genesis); err != nil {
		t.Fatalf("seed indexer: %v", err)
	}
	mp := core.NewMempool(0)
	exec := vm.NewExecutor(cfg.Genesis.ChainID, state, em)

	n := &Node{
		t:         t,
		Config:    cfg,
		DB:        db,
		State:     state,
		Chain:     bc,
		Mempool:   mp,
		Emitter:   em,
		Indexer:   idx,
		Validator: key,
		Clock:     time.Unix(cfg.Genesis.Timestamp, 0),
	}
	n.PoA = consensus.New(cfg, bc, state, mp, exec, em, key.PrivKey())
	n.PoA.SetClock(func() time.Time { return n.Clock })
	return n
}

// Advance moves the block clock forward.
func (n *Node) Advance(d time.Duration) { n.Clock = n.Clock.Add(d) }

// Produce builds one block from the mempool.
func (n *Node) Produce() *core.Block {
	n.t.Helper()
	b, err := n.PoA.ProduceBlock()
	if err != nil {
		n.t.Fatalf("produce block: %v", err)
	}
	return b
}

// Submit queues a transaction built with w's next nonce.
func (n *Node) Submit(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) *core.Transaction {
	n.t.Helper()
	nonce, err := n.PoA.NextNonce(w.PubKey())
	if err != nil {
		n.t.Fatalf("next nonce: %v", err)
	}
	tx, err := build(nonce)
	if err != nil {
		n.t.Fatalf("build tx: %v", err)
	}
	if err := n.PoA.SubmitTx(tx); err != nil {
		n.t.Fatalf("submit tx: %v", err)
	}
	return tx
}
