package rpc_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/internal/testutil"
	"github.com/tolelom/stakebox/rpc"
	"github.com/tolelom/stakebox/wallet"

	_ "github.com/tolelom/stakebox/vm/modules/economy"
	_ "github.com/tolelom/stakebox/vm/modules/lootbox"
	_ "github.com/tolelom/stakebox/vm/modules/staking"
)

type fixture struct {
	node    *testutil.Node
	handler *rpc.Handler
	alice   *wallet.Wallet
}

func setup(t *testing.T) *fixture {
	t.Helper()
	alice := testutil.Wallet(t)
	g := testutil.TestGenesis(alice.PubKey())
	g.Alloc[alice.PubKey()] = 500
	g.Assets = []config.AssetConfig{{ID: "nft-1", TemplateID: "pass", Owner: alice.PubKey()}}
	n := testutil.NewNode(t, g)
	h := rpc.NewHandler(n.Chain, n.Mempool, n.PoA, n.Indexer, g.ChainID)
	return &fixture{node: n, handler: h, alice: alice}
}

// call dispatches through a JSON round-trip so results decode like a client sees them.
func (f *fixture) call(t *testing.T, method string, params, out any) *rpc.Error {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	resp := f.handler.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil {
		data, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return nil
}

func TestGetBalanceOfUnknownAccountIsZero(t *testing.T) {
	f := setup(t)
	var bal rpc.BalanceResult
	require.Nil(t, f.call(t, "getBalance", map[string]string{"address": "nobody"}, &bal))
	assert.Zero(t, bal.Balance)
	assert.Zero(t, bal.Nonce)
}

func TestMissingParamsRejected(t *testing.T) {
	f := setup(t)
	for _, method := range []string{"getBalance", "getAsset", "getStakeRecord", "getLootboxPointer", "getReceipt"} {
		e := f.call(t, method, struct{}{}, nil)
		require.NotNil(t, e, method)
		assert.Equal(t, rpc.CodeInvalidParams, e.Code, method)
	}
}

func TestUnknownMethod(t *testing.T) {
	f := setup(t)
	e := f.call(t, "getListing", struct{}{}, nil)
	require.NotNil(t, e)
	assert.Equal(t, rpc.CodeMethodNotFound, e.Code)
}

func TestNotFoundCode(t *testing.T) {
	f := setup(t)
	e := f.call(t, "getAsset", map[string]string{"id": "missing"}, nil)
	require.NotNil(t, e)
	assert.Equal(t, rpc.CodeNotFound, e.Code)
}

func TestSendTxThenQueryStake(t *testing.T) {
	f := setup(t)
	tx, err := f.alice.Stake("nft-1", 0, 0)
	require.NoError(t, err)

	var sent rpc.SendTxResult
	require.Nil(t, f.call(t, "sendTx", tx, &sent))
	assert.Equal(t, tx.ID, sent.TxID)

	var size int
	require.Nil(t, f.call(t, "getMempoolSize", struct{}{}, &size))
	assert.Equal(t, 1, size)

	f.node.Produce()

	var rcpt core.Receipt
	require.Nil(t, f.call(t, "getReceipt", map[string]string{"tx_id": tx.ID}, &rcpt))
	assert.True(t, rcpt.Success)

	var view rpc.StakeView
	require.Nil(t, f.call(t, "getStakeRecord", map[string]string{"user": f.alice.PubKey(), "asset_id": "nft-1"}, &view))
	assert.Equal(t, core.CustodyStaked, view.Custody)
	assert.Equal(t, uint64(1), view.Cycle)

	var staked []string
	require.Nil(t, f.call(t, "getStakedAssets", map[string]string{"user": f.alice.PubKey()}, &staked))
	assert.Equal(t, []string{"nft-1"}, staked)

	var stakes []rpc.StakeView
	require.Nil(t, f.call(t, "getStakesByUser", map[string]string{"user": f.alice.PubKey()}, &stakes))
	assert.Len(t, stakes, 1)
}

func TestSendTxRejectsUnsupportedType(t *testing.T) {
	f := setup(t)
	tx, err := f.alice.NewTx(core.TxType("buy_listing"), 0, 0, struct{}{})
	require.NoError(t, err)
	e := f.call(t, "sendTx", tx, nil)
	require.NotNil(t, e)
	assert.Equal(t, rpc.CodeInvalidParams, e.Code)
}

func TestGetParamsAndPointer(t *testing.T) {
	f := setup(t)
	var p core.Params
	require.Nil(t, f.call(t, "getParams", struct{}{}, &p))
	assert.Equal(t, "reward", p.RewardMint)
	assert.Len(t, p.LootTable, 3)

	e := f.call(t, "getLootboxPointer", map[string]string{"user": f.alice.PubKey()}, nil)
	require.NotNil(t, e)
	assert.Equal(t, rpc.CodeNotFound, e.Code)

	var pending []core.VrfRequest
	require.Nil(t, f.call(t, "getPendingRequests", struct{}{}, &pending))
	assert.Empty(t, pending)
}

func postJSON(t *testing.T, h http.Handler, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServerAuthToken(t *testing.T) {
	f := setup(t)
	srv := rpc.NewServer("127.0.0.1:0", f.handler, "secret")
	body := rpc.Request{JSONRPC: "2.0", ID: 1, Method: "getBlockHeight"}

	var resp rpc.Response
	require.NoError(t, json.NewDecoder(postJSON(t, srv.Handler(), "/", "", body).Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeUnauthorized, resp.Error.Code)

	resp = rpc.Response{}
	require.NoError(t, json.NewDecoder(postJSON(t, srv.Handler(), "/", "secret", body).Body).Decode(&resp))
	assert.Nil(t, resp.Error)
	assert.EqualValues(t, 0, resp.Result)
}

func TestServerRejectsBadEnvelope(t *testing.T) {
	f := setup(t)
	srv := rpc.NewServer("127.0.0.1:0", f.handler, "")

	var resp rpc.Response
	rr := postJSON(t, srv.Handler(), "/", "", map[string]any{"jsonrpc": "1.0", "id": 1, "method": "getBlockHeight"})
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resp.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdminLogLevel(t *testing.T) {
	f := setup(t)
	srv := rpc.NewServer("127.0.0.1:0", f.handler, "")
	var level slog.LevelVar
	level.Set(slog.LevelInfo)
	srv.AttachLogLevel(&level)

	rr := postJSON(t, srv.Handler(), "/admin/loglevel", "", map[string]string{"level": "debug"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, slog.LevelDebug, level.Level())

	rr = postJSON(t, srv.Handler(), "/admin/loglevel", "", map[string]string{"level": "chatty"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, slog.LevelDebug, level.Level())
}

func TestServerStartStop(t *testing.T) {
	f := setup(t)
	srv := rpc.NewServer("127.0.0.1:0", f.handler, "")
	require.NoError(t, srv.Start())
	defer srv.Stop()

	data, _ := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "getBlockHeight"})
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post("http://"+srv.Addr()+"/", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
