package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/internal/testutil"
	"github.com/tolelom/stakebox/vm"
	_ "github.com/tolelom/stakebox/vm/modules/economy"
	"github.com/tolelom/stakebox/wallet"
)

func setup(t *testing.T) (*testutil.Chain, *wallet.Wallet, *wallet.Wallet) {
	t.Helper()
	alice := testutil.Wallet(t)
	bob := testutil.Wallet(t)
	g := testutil.TestGenesis(alice.PubKey())
	g.Alloc[alice.PubKey()] = 1000
	return testutil.NewChain(t, g), alice, bob
}

func TestExecuteTxAppliesTransfer(t *testing.T) {
	c, alice, bob := setup(t)
	require.NoError(t, c.Send(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Transfer(bob.PubKey(), 300, n, 0)
	}))

	a, _ := c.State.GetAccount(alice.PubKey())
	b, _ := c.State.GetAccount(bob.PubKey())
	assert.Equal(t, uint64(700), a.Balance)
	assert.Equal(t, uint64(1), a.Nonce)
	assert.Equal(t, uint64(300), b.Balance)
}

func TestExecuteTxRejectsReplay(t *testing.T) {
	c, alice, bob := setup(t)
	tx, err := alice.Transfer(bob.PubKey(), 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, c.Apply(tx))
	assert.ErrorContains(t, c.Apply(tx), "invalid nonce")
}

func TestExecuteTxFailureRollsBackFee(t *testing.T) {
	c, alice, bob := setup(t)
	tx, err := alice.Transfer(bob.PubKey(), 5000, 0, 10)
	require.NoError(t, err)
	assert.ErrorContains(t, c.Apply(tx), "insufficient balance")

	a, _ := c.State.GetAccount(alice.PubKey())
	assert.Equal(t, uint64(1000), a.Balance)
	assert.Equal(t, uint64(0), a.Nonce)
}

func TestExecuteTxChecksEnvelope(t *testing.T) {
	c, alice, bob := setup(t)

	other, err := wallet.New("other-chain", alice.PrivKey()).Transfer(bob.PubKey(), 1, 0, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Apply(other), vm.ErrWrongChain)

	badID, err := alice.Transfer(bob.PubKey(), 1, 0, 0)
	require.NoError(t, err)
	badID.ID = "not-the-hash"
	assert.ErrorContains(t, c.Apply(badID), "id does not match")

	unknown, err := alice.NewTx("teleport", 0, 0, struct{}{})
	require.NoError(t, err)
	assert.ErrorContains(t, c.Apply(unknown), "no handler registered")
	assert.False(t, vm.Supported("teleport"))
	assert.True(t, vm.Supported(core.TxTransfer))
}

func TestExecuteBlockDropsFailedTxs(t *testing.T) {
	c, alice, bob := setup(t)
	ok, _ := alice.Transfer(bob.PubKey(), 10, 0, 0)
	bad, _ := alice.Transfer(bob.PubKey(), 10, 5, 0)

	var failed []string
	c.Emitter.Subscribe(events.EventTxFailed, func(ev events.Event) { failed = append(failed, ev.TxID) })

	block := core.NewBlockAt(1, "", "", []*core.Transaction{ok, bad}, c.Clock)
	res, err := c.Exec.ExecuteBlock(block)
	require.NoError(t, err)
	require.Len(t, res.Included, 1)
	assert.Equal(t, ok.ID, res.Included[0].ID)
	require.Len(t, res.Rejected, 1)
	assert.False(t, res.Rejected[0].Success)
	assert.Equal(t, []string{bad.ID}, failed)

	rcpt, err := c.State.GetReceipt(ok.ID)
	require.NoError(t, err)
	assert.True(t, rcpt.Success)
	_, err = c.State.GetReceipt(bad.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
