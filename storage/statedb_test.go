package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
	"github.com/tolelom/stakebox/internal/testutil"
	"github.com/tolelom/stakebox/storage"
)

func TestStateDBDefaultsForMissingAccounts(t *testing.T) {
	s := testutil.NewStateDB()
	acc, err := s.GetAccount("nobody")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), acc.Balance)

	bal, err := s.GetTokenBalance("reward", "nobody")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal.Amount)

	_, err = s.GetAsset("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetLootboxPointer("nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 10}))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 99}))
	require.NoError(t, s.SetAsset(&core.Asset{ID: "nft"}))
	require.NoError(t, s.RevertToSnapshot(snap))

	acc, _ := s.GetAccount("a")
	assert.Equal(t, uint64(10), acc.Balance)
	_, err = s.GetAsset("nft")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.Error(t, s.RevertToSnapshot(snap), "reverted snapshot is discarded")
}

func TestCommitAndRoot(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	empty := s.ComputeRoot()

	require.NoError(t, s.SetAsset(&core.Asset{ID: "nft", Owner: "a"}))
	pre := s.ComputeRoot()
	assert.NotEqual(t, empty, pre)
	assert.Equal(t, 0, db.Len(), "ComputeRoot must not flush")

	require.NoError(t, s.Commit())
	assert.Equal(t, pre, s.ComputeRoot())

	// A fresh StateDB over the same DB sees the same world.
	again := storage.NewStateDB(db)
	assert.Equal(t, pre, again.ComputeRoot())

	require.NoError(t, again.DeleteAsset("nft"))
	assert.Equal(t, empty, again.ComputeRoot())
}

func TestStakeRecordsByUser(t *testing.T) {
	s := testutil.NewStateDB()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.SetStakeRecord(&core.StakeRecord{User: "u", AssetID: id, Initialized: true}))
	}
	require.NoError(t, s.Commit())
	require.NoError(t, s.SetStakeRecord(&core.StakeRecord{User: "u", AssetID: "0", Initialized: true}))
	require.NoError(t, s.SetStakeRecord(&core.StakeRecord{User: "other", AssetID: "z", Initialized: true}))

	recs, err := s.StakeRecordsByUser("u")
	require.NoError(t, err)
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.AssetID)
	}
	assert.Equal(t, []string{"0", "a", "b", "c"}, ids)
}

func TestPendingRequestsOrder(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetVrfRequest(&core.VrfRequest{ID: "late", Status: core.RequestPending, RequestedAt: 20}))
	require.NoError(t, s.SetVrfRequest(&core.VrfRequest{ID: "early", Status: core.RequestPending, RequestedAt: 10}))
	require.NoError(t, s.SetVrfRequest(&core.VrfRequest{ID: "done", Status: core.RequestFulfilled, RequestedAt: 5}))

	reqs, err := s.PendingRequests()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "early", reqs[0].ID)
	assert.Equal(t, "late", reqs[1].ID)
}

func TestLevelDBBlockStore(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "chain"))
	require.NoError(t, err)
	defer db.Close()

	store := storage.NewBlockStore(db)
	tip, err := store.GetTip()
	require.NoError(t, err)
	assert.Empty(t, tip)

	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	b := core.NewBlockAt(0, "00", pub.Hex(), nil, time.Unix(1_700_000_000, 0))
	b.Sign(priv)
	require.NoError(t, store.CommitBlock(b))

	tip, err = store.GetTip()
	require.NoError(t, err)
	assert.Equal(t, b.Hash, tip)
	got, err := store.GetBlockByHeight(0)
	require.NoError(t, err)
	assert.Equal(t, b.Hash, got.Hash)

	_, err = store.GetBlock("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// State over LevelDB commits like any other DB.
	s := storage.NewStateDB(db)
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 7}))
	require.NoError(t, s.Commit())
	acc, err := storage.NewStateDB(db).GetAccount("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), acc.Balance)
}
