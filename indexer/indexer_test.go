package indexer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/indexer"
	"github.com/tolelom/stakebox/internal/testutil"
	"github.com/tolelom/stakebox/vm/modules/asset"
	_ "github.com/tolelom/stakebox/vm/modules/staking"
)

func commit(c *testutil.Chain) {
	c.Emitter.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: c.Height})
}

func TestIndexerTracksOwnershipAndCustody(t *testing.T) {
	alice := testutil.Wallet(t)
	bob := testutil.Wallet(t)
	g := testutil.TestGenesis(alice.PubKey())
	g.Assets = []config.AssetConfig{{ID: "nft-genesis", TemplateID: "pass", Owner: alice.PubKey()}}
	c := testutil.NewChain(t, g)

	idx := indexer.New(testutil.NewMemDB(), c.Emitter)
	require.NoError(t, idx.Seed(g))

	var mintTx *core.Transaction
	require.NoError(t, c.Send(alice, func(n uint64) (*core.Transaction, error) {
		tx, err := alice.NewTx(core.TxMintAsset, n, 0, core.MintAssetPayload{TemplateID: "pass", Owner: bob.PubKey()})
		mintTx = tx
		return tx, err
	}))
	commit(c)
	minted := asset.AssetID(mintTx.ID, "pass")

	owned, err := idx.GetAssetsByOwner(bob.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []string{minted}, owned)

	require.NoError(t, c.Send(alice, func(n uint64) (*core.Transaction, error) { return alice.Stake("nft-genesis", n, 0) }))
	commit(c)

	owned, err = idx.GetAssetsByOwner(alice.PubKey())
	require.NoError(t, err)
	assert.Empty(t, owned)
	staked, err := idx.GetStakedAssets(alice.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []string{"nft-genesis"}, staked)

	require.NoError(t, c.Send(alice, func(n uint64) (*core.Transaction, error) { return alice.Unstake("nft-genesis", n, 0) }))
	commit(c)

	owned, err = idx.GetAssetsByOwner(alice.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []string{"nft-genesis"}, owned)
	staked, err = idx.GetStakedAssets(alice.PubKey())
	require.NoError(t, err)
	assert.Empty(t, staked)
}

func TestIndexerDiscardsEventsOfAbandonedBlocks(t *testing.T) {
	alice := testutil.Wallet(t)
	g := testutil.TestGenesis(alice.PubKey())
	c := testutil.NewChain(t, g)
	idx := indexer.New(testutil.NewMemDB(), c.Emitter)

	require.NoError(t, c.Send(alice, func(n uint64) (*core.Transaction, error) {
		return alice.NewTx(core.TxMintAsset, n, 0, core.MintAssetPayload{TemplateID: "pass"})
	}))
	// The next commit is for a different height, as after an aborted block.
	c.Emitter.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: c.Height + 1})

	owned, err := idx.GetAssetsByOwner(alice.PubKey())
	require.NoError(t, err)
	assert.Empty(t, owned)
}
