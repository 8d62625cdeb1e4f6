package lootbox_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/internal/testutil"
	"github.com/tolelom/stakebox/oracle"
	"github.com/tolelom/stakebox/vm/modules/lootbox"
	"github.com/tolelom/stakebox/wallet"

	_ "github.com/tolelom/stakebox/vm/modules/staking"
)

type fixture struct {
	chain   *testutil.Chain
	alice   *wallet.Wallet
	oracleW *wallet.Wallet
	prover  *oracle.Prover
	service *oracle.Service
}

func setup(t *testing.T, mutate func(g *config.GenesisConfig)) *fixture {
	t.Helper()
	alice := testutil.Wallet(t)
	oracleW := testutil.Wallet(t)
	prover, err := oracle.GenerateProver()
	require.NoError(t, err)

	g := testutil.TestGenesis(alice.PubKey())
	g.Assets = []config.AssetConfig{{ID: "nft-1", TemplateID: "pass", Owner: alice.PubKey()}}
	g.Program.Oracle = oracleW.PubKey()
	g.Program.OracleVRFKey = prover.PublicKeyHex()
	if mutate != nil {
		mutate(g)
	}
	return &fixture{
		chain:   testutil.NewChain(t, g),
		alice:   alice,
		oracleW: oracleW,
		prover:  prover,
		service: oracle.NewService(nil, prover, oracleW, oracle.ServiceConfig{}),
	}
}

func (f *fixture) open(w *wallet.Wallet, cost uint64) error {
	return f.chain.Send(w, func(n uint64) (*core.Transaction, error) { return w.OpenLootbox(cost, n, 0) })
}

func (f *fixture) claim(w *wallet.Wallet) error {
	return f.chain.Send(w, func(n uint64) (*core.Transaction, error) { return w.ClaimLootbox(n, 0) })
}

func (f *fixture) pointer(t *testing.T, w *wallet.Wallet) *core.LootboxPointer {
	t.Helper()
	p, err := f.chain.State.GetLootboxPointer(w.PubKey())
	require.NoError(t, err)
	return p
}

func (f *fixture) request(t *testing.T, w *wallet.Wallet) *core.VrfRequest {
	t.Helper()
	req, err := f.chain.State.GetVrfRequest(f.pointer(t, w).RequestID)
	require.NoError(t, err)
	return req
}

// deliver has the oracle prove and submit the randomness for req.
func (f *fixture) deliver(t *testing.T, req *core.VrfRequest) (*core.Transaction, error) {
	t.Helper()
	tx, err := f.service.Fulfil(req, f.chain.Nonce(f.oracleW.PubKey()))
	require.NoError(t, err)
	return tx, f.chain.Apply(tx)
}

func TestEndToEndScenario(t *testing.T) {
	f := setup(t, nil)
	alice := f.alice.PubKey()

	require.NoError(t, f.chain.Send(f.alice, func(n uint64) (*core.Transaction, error) { return f.alice.Stake("nft-1", n, 0) }))
	f.chain.Advance(100 * time.Second)
	require.NoError(t, f.chain.Send(f.alice, func(n uint64) (*core.Transaction, error) { return f.alice.Redeem("nft-1", n, 0) }))
	require.Equal(t, uint64(500), f.chain.Balance("reward", alice))

	require.NoError(t, f.open(f.alice, 10))
	assert.Equal(t, uint64(490), f.chain.Balance("reward", alice))
	ptr := f.pointer(t, f.alice)
	assert.Equal(t, core.PhaseAwaiting, ptr.Phase())
	assert.Empty(t, ptr.Item)

	req := f.request(t, f.alice)
	assert.True(t, req.Pending())
	f.chain.Advance(5 * time.Second)
	_, err := f.deliver(t, req)
	require.NoError(t, err)

	req = f.request(t, f.alice)
	assert.Equal(t, core.RequestFulfilled, req.Status)
	beta, err := hex.DecodeString(req.Beta)
	require.NoError(t, err)
	want, _, err := lootbox.Select(testutil.TestGenesis("").Program.LootTable, oracle.RandomValue(beta))
	require.NoError(t, err)

	ptr = f.pointer(t, f.alice)
	assert.Equal(t, core.PhaseResolved, ptr.Phase())
	assert.Equal(t, want.Mint, ptr.Item)

	require.NoError(t, f.claim(f.alice))
	assert.Equal(t, uint64(1), f.chain.Balance(want.Mint, alice))
	assert.Equal(t, core.PhaseClaimed, f.pointer(t, f.alice).Phase())

	require.ErrorIs(t, f.claim(f.alice), lootbox.ErrAlreadyClaimed)
	assert.Equal(t, uint64(1), f.chain.Balance(want.Mint, alice), "exactly one unit per resolution")

	// The claimed pointer is reusable.
	require.NoError(t, f.open(f.alice, 10))
	assert.Equal(t, uint64(480), f.chain.Balance("reward", alice))
	ptr = f.pointer(t, f.alice)
	assert.Equal(t, core.PhaseAwaiting, ptr.Phase())
	assert.Equal(t, uint64(2), ptr.Opens)
	assert.NotEqual(t, req.ID, ptr.RequestID)
}

func fund(amount uint64, user func() string) func(g *config.GenesisConfig) {
	return func(g *config.GenesisConfig) {
		g.RewardAlloc = map[string]uint64{user(): amount}
	}
}

func TestOpenBalanceBoundary(t *testing.T) {
	alice := testutil.Wallet(t)
	f := setup(t, fund(10, alice.PubKey))

	require.NoError(t, f.open(alice, 10))
	assert.Zero(t, f.chain.Balance("reward", alice.PubKey()))

	bob := testutil.Wallet(t)
	f2 := setup(t, fund(9, bob.PubKey))
	err := f2.open(bob, 10)
	require.ErrorIs(t, err, lootbox.ErrInsufficientBalance)
	assert.Equal(t, uint64(9), f2.chain.Balance("reward", bob.PubKey()))
	_, err = f2.chain.State.GetLootboxPointer(bob.PubKey())
	require.ErrorIs(t, err, core.ErrNotFound, "failed open leaves no pointer")
}

func TestOpenWhileOutstanding(t *testing.T) {
	alice := testutil.Wallet(t)
	f := setup(t, fund(100, alice.PubKey))

	require.NoError(t, f.open(alice, 10))
	require.ErrorIs(t, f.open(alice, 10), lootbox.ErrRequestAlreadyPending)

	req, err := f.chain.State.GetVrfRequest(f.pointer(t, alice).RequestID)
	require.NoError(t, err)
	_, err = f.deliver(t, req)
	require.NoError(t, err)

	require.ErrorIs(t, f.open(alice, 10), lootbox.ErrRequestAlreadyPending, "resolved but unclaimed")
	assert.Equal(t, uint64(90), f.chain.Balance("reward", alice.PubKey()))
}

func TestClaimRequiresResolution(t *testing.T) {
	alice := testutil.Wallet(t)
	f := setup(t, fund(100, alice.PubKey))

	require.ErrorIs(t, f.claim(alice), lootbox.ErrNotRedeemable)
	require.NoError(t, f.open(alice, 10))
	require.ErrorIs(t, f.claim(alice), lootbox.ErrNotRedeemable)
	err := f.chain.Send(alice, func(n uint64) (*core.Transaction, error) { return alice.RetrieveItem(n, 0) })
	require.ErrorIs(t, err, lootbox.ErrNotRedeemable)
}

func TestCallbackAuthorisationAndProof(t *testing.T) {
	alice := testutil.Wallet(t)
	f := setup(t, fund(100, alice.PubKey))
	require.NoError(t, f.open(alice, 10))
	req, err := f.chain.State.GetVrfRequest(f.pointer(t, alice).RequestID)
	require.NoError(t, err)

	alpha, _ := hex.DecodeString(req.Alpha)
	beta, proof, err := f.prover.Prove(alpha)
	require.NoError(t, err)

	// Wrong sender.
	err = f.chain.Send(alice, func(n uint64) (*core.Transaction, error) {
		return alice.ConsumeRandomness(req.ID, hex.EncodeToString(beta), hex.EncodeToString(proof), n, 0)
	})
	require.ErrorIs(t, err, oracle.ErrUnauthorizedOracle)

	// Proof from a different key.
	other, err := oracle.GenerateProver()
	require.NoError(t, err)
	otherBeta, otherProof, err := other.Prove(alpha)
	require.NoError(t, err)
	err = f.chain.Send(f.oracleW, func(n uint64) (*core.Transaction, error) {
		return f.oracleW.ConsumeRandomness(req.ID, hex.EncodeToString(otherBeta), hex.EncodeToString(otherProof), n, 0)
	})
	require.ErrorIs(t, err, oracle.ErrInvalidProof)

	// Valid proof with a substituted output.
	forged := append([]byte(nil), beta...)
	forged[0] ^= 0xff
	err = f.chain.Send(f.oracleW, func(n uint64) (*core.Transaction, error) {
		return f.oracleW.ConsumeRandomness(req.ID, hex.EncodeToString(forged), hex.EncodeToString(proof), n, 0)
	})
	require.ErrorIs(t, err, oracle.ErrInvalidProof)

	// Unknown request.
	err = f.chain.Send(f.oracleW, func(n uint64) (*core.Transaction, error) {
		return f.oracleW.ConsumeRandomness("missing", hex.EncodeToString(beta), hex.EncodeToString(proof), n, 0)
	})
	require.ErrorIs(t, err, oracle.ErrUnknownRequest)

	assert.Equal(t, core.PhaseAwaiting, f.pointer(t, alice).Phase())
}

func TestDuplicateDeliveryIsNoop(t *testing.T) {
	alice := testutil.Wallet(t)
	f := setup(t, func(g *config.GenesisConfig) {
		g.RewardAlloc = map[string]uint64{alice.PubKey(): 100}
		g.Alloc = map[string]uint64{alice.PubKey(): 10}
		g.Program.OracleFee = 3
	})

	require.NoError(t, f.open(alice, 10))
	acc, _ := f.chain.State.GetAccount(alice.PubKey())
	assert.Equal(t, uint64(7), acc.Balance)
	escrow, _ := f.chain.State.GetAccount(core.OracleEscrow)
	assert.Equal(t, uint64(3), escrow.Balance)

	req, err := f.chain.State.GetVrfRequest(f.pointer(t, alice).RequestID)
	require.NoError(t, err)
	_, err = f.deliver(t, req)
	require.NoError(t, err)
	first := *f.pointer(t, alice)

	f.chain.Advance(time.Minute)
	_, err = f.deliver(t, req)
	require.NoError(t, err, "second delivery succeeds without effect")
	assert.Equal(t, first, *f.pointer(t, alice))

	oracleAcc, _ := f.chain.State.GetAccount(f.oracleW.PubKey())
	assert.Equal(t, uint64(3), oracleAcc.Balance, "escrow paid once")
	escrow, _ = f.chain.State.GetAccount(core.OracleEscrow)
	assert.Zero(t, escrow.Balance)
}

func TestOpenCostRules(t *testing.T) {
	alice := testutil.Wallet(t)
	f := setup(t, func(g *config.GenesisConfig) {
		g.RewardAlloc = map[string]uint64{alice.PubKey(): 100}
		g.Program.LootboxBaseCost = 10
	})
	require.ErrorIs(t, f.open(alice, 0), lootbox.ErrInvalidLootboxCost)
	require.ErrorIs(t, f.open(alice, 30), lootbox.ErrInvalidLootboxCost)
	require.NoError(t, f.open(alice, 40))
	assert.Equal(t, uint64(40), f.pointer(t, alice).Cost)
}

func TestInitUserOnce(t *testing.T) {
	alice := testutil.Wallet(t)
	f := setup(t, nil)
	initUser := func() error {
		return f.chain.Send(alice, func(n uint64) (*core.Transaction, error) { return alice.InitUser(n, 0) })
	}
	require.NoError(t, initUser())
	require.ErrorIs(t, initUser(), lootbox.ErrUserInitialized)

	ptr := f.pointer(t, alice)
	assert.Equal(t, core.PhaseIdle, ptr.Phase())
}

func TestClaimUsesPoolStockThenMints(t *testing.T) {
	alice := testutil.Wallet(t)
	f := setup(t, func(g *config.GenesisConfig) {
		g.RewardAlloc = map[string]uint64{alice.PubKey(): 100}
		g.PoolStock = map[string]uint64{"item-common": 1, "item-rare": 1, "item-epic": 1}
	})

	resolve := func() string {
		require.NoError(t, f.open(alice, 10))
		req, err := f.chain.State.GetVrfRequest(f.pointer(t, alice).RequestID)
		require.NoError(t, err)
		_, err = f.deliver(t, req)
		require.NoError(t, err)
		return f.pointer(t, alice).Item
	}

	item := resolve()
	supply := func(mint string) uint64 {
		m, err := f.chain.State.GetMint(mint)
		require.NoError(t, err)
		return m.Supply
	}
	before := supply(item)
	require.NoError(t, f.claim(alice))
	assert.Equal(t, uint64(1), f.chain.Balance(item, alice.PubKey()))
	assert.Zero(t, f.chain.Balance(item, core.LootPool))
	assert.Equal(t, before, supply(item), "pool transfer does not mint")

	item = resolve()
	held := f.chain.Balance(item, alice.PubKey())
	before = supply(item)
	err := f.chain.Send(alice, func(n uint64) (*core.Transaction, error) { return alice.RetrieveItem(n, 0) })
	require.NoError(t, err)
	assert.Equal(t, held+1, f.chain.Balance(item, alice.PubKey()))
	assert.Equal(t, before+1, supply(item), "retrieve always mints")
}
