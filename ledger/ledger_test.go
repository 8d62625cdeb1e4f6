package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/internal/testutil"
	"github.com/tolelom/stakebox/ledger"
)

const (
	mintID    = "reward"
	authority = "mint-authority"
)

func newLedger(t *testing.T) (*ledger.Ledger, core.State) {
	t.Helper()
	state := testutil.NewStateDB()
	l := ledger.New(state)
	require.NoError(t, l.CreateMint(&core.TokenMint{ID: mintID, Name: "Reward", Authority: authority}))
	return l, state
}

func TestMintRequiresAuthority(t *testing.T) {
	l, _ := newLedger(t)

	err := l.Mint(mintID, "alice", 10, "impostor")
	require.ErrorIs(t, err, ledger.ErrAuthorityMismatch)

	require.NoError(t, l.Mint(mintID, "alice", 10, authority))
	bal, err := l.BalanceOf(mintID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal)

	m, err := l.GetMint(mintID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), m.Supply)
}

func TestUnknownMint(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.BalanceOf("nope", "alice")
	require.ErrorIs(t, err, ledger.ErrUnknownMint)
	require.ErrorIs(t, l.Mint("nope", "alice", 1, authority), ledger.ErrUnknownMint)
	require.ErrorIs(t, l.Burn("nope", "alice", 1), ledger.ErrUnknownMint)
}

func TestCreateMintTwice(t *testing.T) {
	l, _ := newLedger(t)
	err := l.CreateMint(&core.TokenMint{ID: mintID, Authority: authority})
	require.ErrorIs(t, err, ledger.ErrMintExists)
}

func TestBurnBoundary(t *testing.T) {
	l, _ := newLedger(t)
	require.NoError(t, l.Mint(mintID, "alice", 10, authority))

	require.ErrorIs(t, l.Burn(mintID, "alice", 11), ledger.ErrInsufficientBalance)
	bal, _ := l.BalanceOf(mintID, "alice")
	assert.Equal(t, uint64(10), bal, "failed burn must not mutate")

	require.NoError(t, l.Burn(mintID, "alice", 10))
	bal, _ = l.BalanceOf(mintID, "alice")
	assert.Zero(t, bal)

	m, _ := l.GetMint(mintID)
	assert.Zero(t, m.Supply)
}

func TestTransfer(t *testing.T) {
	l, _ := newLedger(t)
	require.NoError(t, l.Mint(mintID, "alice", 5, authority))

	require.ErrorIs(t, l.Transfer(mintID, "alice", "bob", 6), ledger.ErrInsufficientBalance)
	require.NoError(t, l.Transfer(mintID, "alice", "bob", 3))

	a, _ := l.BalanceOf(mintID, "alice")
	b, _ := l.BalanceOf(mintID, "bob")
	assert.Equal(t, uint64(2), a)
	assert.Equal(t, uint64(3), b)

	require.NoError(t, l.Transfer(mintID, "alice", "alice", 2))
	a, _ = l.BalanceOf(mintID, "alice")
	assert.Equal(t, uint64(2), a)
}

func TestZeroAmount(t *testing.T) {
	l, _ := newLedger(t)
	require.ErrorIs(t, l.Mint(mintID, "alice", 0, authority), ledger.ErrZeroAmount)
	require.ErrorIs(t, l.Burn(mintID, "alice", 0), ledger.ErrZeroAmount)
	require.ErrorIs(t, l.Transfer(mintID, "alice", "bob", 0), ledger.ErrZeroAmount)
}

func TestSupplyOverflow(t *testing.T) {
	l, _ := newLedger(t)
	require.NoError(t, l.Mint(mintID, "alice", ^uint64(0), authority))
	require.ErrorIs(t, l.Mint(mintID, "bob", 1, authority), ledger.ErrSupplyOverflow)
}
