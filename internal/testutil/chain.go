package testutil

import (
	"testing"
	"time"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/storage"
	"github.com/tolelom/stakebox/vm"
	"github.com/tolelom/stakebox/wallet"
)

// ChainID is the chain id used by test fixtures.
const ChainID = "stakebox-test"

// TestGenesis returns a genesis with a 5/s reward rate, an NFT collection
// created by creator and a three-entry loot table weighted 10/40/50.
func TestGenesis(creator string) *config.GenesisConfig {
	return &config.GenesisConfig{
		ChainID:    ChainID,
		Timestamp:  1_700_000_000,
		Alloc:      map[string]uint64{},
		RewardMint: config.MintConfig{ID: "reward", Name: "Reward"},
		Templates: []config.TemplateConfig{
			{ID: "pass", Name: "Staking Pass", Creator: creator, Tradeable: true},
		},
		Program: config.ProgramConfig{
			RewardRate: core.RewardRate{Numerator: 5, Denominator: 1},
			LootTable: []core.LootEntry{
				{Mint: "item-common", Weight: 10},
				{Mint: "item-rare", Weight: 40},
				{Mint: "item-epic", Weight: 50},
			},
		},
	}
}

// Chain executes transactions against in-memory state with a controllable
// block clock.
type Chain struct {
	t       testing.TB
	State   *storage.StateDB
	Emitter *events.Emitter
	Exec    *vm.Executor
	Height  int64
	Clock   time.Time
}

// NewChain applies g to a fresh in-memory state and commits it.
func NewChain(t testing.TB, g *config.GenesisConfig) *Chain {
	t.Helper()
	state := NewStateDB()
	if err := config.ApplyGenesis(g, state); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	if err := state.Commit(); err != nil {
		t.Fatalf("commit genesis: %v", err)
	}
	em := events.NewEmitter()
	return &Chain{
		t:       t,
		State:   state,
		Emitter: em,
		Exec:    vm.NewExecutor(g.ChainID, state, em),
		Clock:   time.Unix(g.Timestamp, 0),
	}
}

// Advance moves the block clock forward.
func (c *Chain) Advance(d time.Duration) {
	c.Clock = c.Clock.Add(d)
}

// Now is the current block time in unix seconds.
func (c *Chain) Now() int64 { return c.Clock.Unix() }

// Apply executes tx in a new block at the current clock.
func (c *Chain) Apply(tx *core.Transaction) error {
	c.Height++
	block := core.NewBlockAt(c.Height, "", "", []*core.Transaction{tx}, c.Clock)
	return c.Exec.ExecuteTx(block, tx)
}

// Nonce returns the next nonce of addr.
func (c *Chain) Nonce(addr string) uint64 {
	c.t.Helper()
	acc, err := c.State.GetAccount(addr)
	if err != nil {
		c.t.Fatalf("get account: %v", err)
	}
	return acc.Nonce
}

// Send builds a transaction with the sender's next nonce and applies it.
func (c *Chain) Send(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) error {
	c.t.Helper()
	tx, err := build(c.Nonce(w.PubKey()))
	if err != nil {
		c.t.Fatalf("build tx: %v", err)
	}
	return c.Apply(tx)
}

// Wallet returns a fresh wallet for ChainID.
func Wallet(t testing.TB) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate(ChainID)
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	return w
}

// Balance returns owner's balance of mint.
func (c *Chain) Balance(mint, owner string) uint64 {
	c.t.Helper()
	b, err := c.State.GetTokenBalance(mint, owner)
	if err != nil {
		c.t.Fatalf("get balance: %v", err)
	}
	return b.Amount
}
