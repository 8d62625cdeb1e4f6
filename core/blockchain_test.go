package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
	"github.com/tolelom/stakebox/internal/testutil"
)

func TestBlockchainLinkage(t *testing.T) {
	store := testutil.NewBlockStore()
	bc := core.NewBlockchain(store)
	require.NoError(t, bc.Init())
	assert.Nil(t, bc.Tip())

	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	at := time.Unix(1_700_000_000, 0)

	g := core.NewBlockAt(0, "00", pub.Hex(), nil, at)
	g.Sign(priv)
	require.NoError(t, bc.AddBlock(g))

	b1 := core.NewBlockAt(1, g.Hash, pub.Hex(), nil, at.Add(time.Second))
	b1.Sign(priv)
	require.NoError(t, bc.AddBlock(b1))

	gap := core.NewBlockAt(3, b1.Hash, pub.Hex(), nil, at.Add(2*time.Second))
	gap.Sign(priv)
	assert.Error(t, bc.AddBlock(gap))

	fork := core.NewBlockAt(2, g.Hash, pub.Hex(), nil, at.Add(2*time.Second))
	fork.Sign(priv)
	assert.Error(t, bc.AddBlock(fork))

	early := core.NewBlockAt(2, b1.Hash, pub.Hex(), nil, at)
	early.Sign(priv)
	assert.Error(t, bc.AddBlock(early))

	// A fresh Blockchain over the same store resumes at the tip.
	again := core.NewBlockchain(store)
	require.NoError(t, again.Init())
	assert.Equal(t, int64(1), again.Height())
	assert.Equal(t, b1.Hash, again.Tip().Hash)

	byHeight, err := again.GetBlockByHeight(0)
	require.NoError(t, err)
	assert.Equal(t, g.Hash, byHeight.Hash)
}
