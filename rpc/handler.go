package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/indexer"
	"github.com/tolelom/stakebox/metrics"
	"github.com/tolelom/stakebox/vm"
	"github.com/tolelom/stakebox/vm/modules/staking"
)

// Node is the block producer as seen by the RPC layer.
type Node interface {
	View(fn func(state core.State) error) error
	SubmitTx(tx *core.Transaction) error
	Receipt(txID string) (*core.Receipt, error)
	NextNonce(address string) (uint64, error)
	PendingRequests() ([]*core.VrfRequest, error)
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	node    Node
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
	now     func() time.Time
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, node Node, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, node: node, indexer: idx, chainID: chainID, now: time.Now}
}

type method func(h *Handler, req Request) Response

var methods = map[string]method{
	"getBlockHeight":     func(h *Handler, req Request) Response { return okResponse(req.ID, h.bc.Height()) },
	"getMempoolSize":     func(h *Handler, req Request) Response { return okResponse(req.ID, h.mempool.Size()) },
	"getBlock":           (*Handler).getBlock,
	"getBalance":         (*Handler).getBalance,
	"getNonce":           (*Handler).getNonce,
	"getMint":            (*Handler).getMint,
	"getTokenBalance":    (*Handler).getTokenBalance,
	"getAsset":           (*Handler).getAsset,
	"getAssetsByOwner":   (*Handler).getAssetsByOwner,
	"getStakedAssets":    (*Handler).getStakedAssets,
	"getStakeRecord":     (*Handler).getStakeRecord,
	"getStakesByUser":    (*Handler).getStakesByUser,
	"getLootboxPointer":  (*Handler).getLootboxPointer,
	"getClaims":          (*Handler).getClaims,
	"getVrfUser":         (*Handler).getVrfUser,
	"getOracleRequest":   (*Handler).getOracleRequest,
	"getPendingRequests": (*Handler).getPendingRequests,
	"getParams":          (*Handler).getParams,
	"getReceipt":         (*Handler).getReceipt,
	"sendTx":             (*Handler).sendTx,
}

// Methods lists the supported RPC method names.
func Methods() []string {
	out := make([]string, 0, len(methods))
	for name := range methods {
		out = append(out, name)
	}
	return out
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	start := time.Now()
	m, ok := methods[req.Method]
	if !ok {
		metrics.RPCRequests().AddWithLabel(1, map[string]string{"method": "unknown", "result": "error"})
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	resp := m(h, req)
	result := "ok"
	if resp.Error != nil {
		result = "error"
	}
	metrics.RPCRequests().AddWithLabel(1, map[string]string{"method": req.Method, "result": result})
	metrics.RPCDurationMillis().Observe(time.Since(start).Milliseconds())
	return resp
}

// decodeParams unmarshals req.Params into v. It returns nil on success.
func decodeParams(req Request, v any) *Response {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return &resp
	}
	return nil
}

// view runs fn under the node's read lock and wraps its result.
func (h *Handler) view(req Request, fn func(state core.State) (any, error)) Response {
	var out any
	err := h.node.View(func(state core.State) error {
		var err error
		out, err = fn(state)
		return err
	})
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, out)
}

func (h *Handler) getBlock(req Request) Response {
	var p struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}

	var block *core.Block
	var err error
	if p.Hash != "" {
		block, err = h.bc.GetBlock(p.Hash)
	} else if p.Height != nil {
		block, err = h.bc.GetBlockByHeight(*p.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errFrom(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var p struct {
		Address string `json:"address"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	return h.view(req, func(state core.State) (any, error) {
		acc, err := state.GetAccount(p.Address)
		if err != nil {
			return nil, err
		}
		return BalanceResult{Address: p.Address, Balance: acc.Balance, Nonce: acc.Nonce}, nil
	})
}

func (h *Handler) getNonce(req Request) Response {
	var p struct {
		Address string `json:"address"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	nonce, err := h.node.NextNonce(p.Address)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, nonce)
}

func (h *Handler) getMint(req Request) Response {
	var p struct {
		ID string `json:"id"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	return h.view(req, func(state core.State) (any, error) { return state.GetMint(p.ID) })
}

func (h *Handler) getTokenBalance(req Request) Response {
	var p struct {
		Mint  string `json:"mint"`
		Owner string `json:"owner"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.Mint == "" || p.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "mint and owner are required")
	}
	return h.view(req, func(state core.State) (any, error) { return state.GetTokenBalance(p.Mint, p.Owner) })
}

func (h *Handler) getAsset(req Request) Response {
	var p struct {
		ID string `json:"id"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	return h.view(req, func(state core.State) (any, error) { return state.GetAsset(p.ID) })
}

func (h *Handler) getAssetsByOwner(req Request) Response {
	var p struct {
		Owner string `json:"owner"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	ids, err := h.indexer.GetAssetsByOwner(p.Owner)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, nonNil(ids))
}

func (h *Handler) getStakedAssets(req Request) Response {
	var p struct {
		User string `json:"user"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.User == "" {
		return errResponse(req.ID, CodeInvalidParams, "user is required")
	}
	ids, err := h.indexer.GetStakedAssets(p.User)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, nonNil(ids))
}

func (h *Handler) getClaims(req Request) Response {
	var p struct {
		User string `json:"user"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.User == "" {
		return errResponse(req.ID, CodeInvalidParams, "user is required")
	}
	ids, err := h.indexer.GetClaims(p.User)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, nonNil(ids))
}

// stakeView estimates the reward rec would settle at now.
func stakeView(state core.State, rec *core.StakeRecord, now int64) (*StakeView, error) {
	v := &StakeView{StakeRecord: rec, Now: now}
	if !rec.Staked() {
		return v, nil
	}
	params, err := state.GetParams()
	if err != nil {
		return nil, err
	}
	v.PendingReward, err = staking.Accrue(params.RewardRate, now-rec.LastRedeemTime)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (h *Handler) getStakeRecord(req Request) Response {
	var p struct {
		User    string `json:"user"`
		AssetID string `json:"asset_id"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.User == "" || p.AssetID == "" {
		return errResponse(req.ID, CodeInvalidParams, "user and asset_id are required")
	}
	now := h.now().Unix()
	return h.view(req, func(state core.State) (any, error) {
		rec, err := state.GetStakeRecord(p.User, p.AssetID)
		if err != nil {
			return nil, err
		}
		return stakeView(state, rec, now)
	})
}

func (h *Handler) getStakesByUser(req Request) Response {
	var p struct {
		User string `json:"user"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.User == "" {
		return errResponse(req.ID, CodeInvalidParams, "user is required")
	}
	now := h.now().Unix()
	return h.view(req, func(state core.State) (any, error) {
		recs, err := state.StakeRecordsByUser(p.User)
		if err != nil {
			return nil, err
		}
		out := make([]*StakeView, 0, len(recs))
		for _, rec := range recs {
			v, err := stakeView(state, rec, now)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	})
}

func (h *Handler) getLootboxPointer(req Request) Response {
	var p struct {
		User string `json:"user"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.User == "" {
		return errResponse(req.ID, CodeInvalidParams, "user is required")
	}
	return h.view(req, func(state core.State) (any, error) {
		ptr, err := state.GetLootboxPointer(p.User)
		if err != nil {
			return nil, err
		}
		return LootboxView{LootboxPointer: ptr, Phase: ptr.Phase()}, nil
	})
}

func (h *Handler) getVrfUser(req Request) Response {
	var p struct {
		User string `json:"user"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.User == "" {
		return errResponse(req.ID, CodeInvalidParams, "user is required")
	}
	return h.view(req, func(state core.State) (any, error) { return state.GetVrfUser(p.User) })
}

func (h *Handler) getOracleRequest(req Request) Response {
	var p struct {
		ID string `json:"id"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	return h.view(req, func(state core.State) (any, error) { return state.GetVrfRequest(p.ID) })
}

func (h *Handler) getPendingRequests(req Request) Response {
	reqs, err := h.node.PendingRequests()
	if err != nil {
		return errFrom(req.ID, err)
	}
	if reqs == nil {
		reqs = []*core.VrfRequest{}
	}
	return okResponse(req.ID, reqs)
}

func (h *Handler) getParams(req Request) Response {
	return h.view(req, func(state core.State) (any, error) { return state.GetParams() })
}

func (h *Handler) getReceipt(req Request) Response {
	var p struct {
		TxID string `json:"tx_id"`
	}
	if resp := decodeParams(req, &p); resp != nil {
		return *resp
	}
	if p.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	rcpt, err := h.node.Receipt(p.TxID)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, rcpt)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	if !vm.Supported(tx.Type) {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unsupported tx type %q", tx.Type))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.node.SubmitTx(&tx); err != nil {
		return errResponse(req.ID, CodeTxRejected, err.Error())
	}
	return okResponse(req.ID, SendTxResult{TxID: tx.ID})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
