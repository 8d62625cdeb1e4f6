package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
	"github.com/tolelom/stakebox/wallet"
)

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate("test-chain")
	require.NoError(t, err)
	return w
}

func TestTransactionSignVerify(t *testing.T) {
	w := newWallet(t)
	tx, err := w.Transfer("deadbeef", 100, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), tx.ID)
	require.NoError(t, tx.Verify())

	tx.Fee = 999
	assert.Error(t, tx.Verify(), "tampered tx must fail verification")
}

func TestDecodePayload(t *testing.T) {
	w := newWallet(t)
	tx, err := w.OpenLootbox(40, 0, 0)
	require.NoError(t, err)
	var p core.OpenLootboxPayload
	require.NoError(t, tx.DecodePayload(&p))
	assert.Equal(t, uint64(40), p.Cost)

	tx.Payload = []byte(`{"cost":"many"}`)
	assert.Error(t, tx.DecodePayload(&p))
}

func TestBlockHashAndSetTransactions(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	w := newWallet(t)
	tx, err := w.Transfer("aa", 1, 0, 0)
	require.NoError(t, err)

	block := core.NewBlockAt(1, "0000", pub.Hex(), []*core.Transaction{tx}, time.Unix(1_700_000_000, 5))
	assert.Equal(t, int64(1_700_000_000), block.Unix())

	block.SetTransactions(nil)
	assert.Equal(t, core.ComputeTxRoot(nil), block.Header.TxRoot)

	block.Sign(priv)
	assert.Equal(t, block.ComputeHash(), block.Hash)
	assert.NoError(t, block.Verify(pub))
}

func TestMempool(t *testing.T) {
	mp := core.NewMempool(2)
	w := newWallet(t)

	tx0, _ := w.Transfer("aa", 1, 0, 0)
	tx1, _ := w.Transfer("aa", 1, 1, 0)
	tx2, _ := w.Transfer("aa", 1, 2, 0)
	require.NoError(t, mp.Add(tx0))
	assert.ErrorIs(t, mp.Add(tx0), core.ErrTxKnown)
	require.NoError(t, mp.Add(tx1))
	assert.ErrorIs(t, mp.Add(tx2), core.ErrMempoolFull)

	assert.Equal(t, 2, mp.PendingFrom(w.PubKey()))
	pending := mp.Pending(10)
	require.Len(t, pending, 2)
	assert.Equal(t, tx0.ID, pending[0].ID)

	mp.Remove([]string{tx0.ID})
	assert.Equal(t, 1, mp.Size())
	assert.Equal(t, 1, mp.PendingFrom(w.PubKey()))
	_, ok := mp.Get(tx0.ID)
	assert.False(t, ok)
}

func TestMempoolRejectsStaleAndFutureTxs(t *testing.T) {
	mp := core.NewMempool(0)
	w := newWallet(t)

	old, _ := w.Transfer("aa", 1, 0, 0)
	old.Timestamp = time.Now().Add(-2 * time.Hour).UnixNano()
	old.Sign(w.PrivKey())
	assert.ErrorIs(t, mp.Add(old), core.ErrTxExpired)

	future, _ := w.Transfer("aa", 1, 0, 0)
	future.Timestamp = time.Now().Add(time.Hour).UnixNano()
	future.Sign(w.PrivKey())
	assert.ErrorIs(t, mp.Add(future), core.ErrTxFromFuture)
}

func TestLootboxPhase(t *testing.T) {
	var nilPtr *core.LootboxPointer
	assert.Equal(t, core.PhaseIdle, nilPtr.Phase())
	assert.True(t, nilPtr.CanOpen())

	p := &core.LootboxPointer{Initialized: true}
	assert.Equal(t, core.PhaseAwaiting, p.Phase())
	assert.False(t, p.CanOpen())

	p.Redeemable = true
	assert.Equal(t, core.PhaseResolved, p.Phase())
	assert.False(t, p.CanOpen())

	p.Claimed = true
	assert.Equal(t, core.PhaseClaimed, p.Phase())
	assert.True(t, p.CanOpen())
}

func TestStakeRecordLockKeyChangesPerCycle(t *testing.T) {
	r := &core.StakeRecord{User: "u", AssetID: "a", Cycle: 1, Initialized: true, Custody: core.CustodyStaked}
	assert.True(t, r.Staked())
	k1 := r.LockKey()
	r.Cycle++
	assert.NotEqual(t, k1, r.LockKey())
}

func TestParamsValidate(t *testing.T) {
	good := core.Params{
		RewardMint: "reward",
		RewardRate: core.RewardRate{Numerator: 1, Denominator: 1},
		LootTable:  []core.LootEntry{{Mint: "a", Weight: 1}, {Mint: "b", Weight: 3}},
	}
	require.NoError(t, good.Validate())
	assert.Equal(t, uint64(4), good.TotalWeight())

	for name, mutate := range map[string]func(p *core.Params){
		"no reward mint":   func(p *core.Params) { p.RewardMint = "" },
		"zero denominator": func(p *core.Params) { p.RewardRate.Denominator = 0 },
		"duplicate item":   func(p *core.Params) { p.LootTable[1].Mint = "a" },
		"reward as item":   func(p *core.Params) { p.LootTable[0].Mint = "reward" },
		"all zero weight":  func(p *core.Params) { p.LootTable[0].Weight, p.LootTable[1].Weight = 0, 0 },
		"vrf key alone":    func(p *core.Params) { p.OracleVRFKey = "02ab" },
	} {
		p := good
		p.LootTable = append([]core.LootEntry(nil), good.LootTable...)
		mutate(&p)
		assert.Error(t, p.Validate(), name)
	}
}

func TestMempoolPrune(t *testing.T) {
	mp := core.NewMempool(0)
	w := newWallet(t)
	tx0, _ := w.Transfer("aa", 1, 0, 0)
	tx1, _ := w.Transfer("aa", 1, 1, 0)
	require.NoError(t, mp.Add(tx0))
	require.NoError(t, mp.Add(tx1))

	removed := mp.Prune(time.Now(), func(string) uint64 { return 1 })
	assert.Equal(t, 1, removed)
	_, ok := mp.Get(tx1.ID)
	assert.True(t, ok)

	removed = mp.Prune(time.Now().Add(2*time.Hour), func(string) uint64 { return 0 })
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, mp.Size())
}
