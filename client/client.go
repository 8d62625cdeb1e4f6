// Package client is a JSON-RPC client for a stakebox node. Besides typed
// getters it drives the asynchronous loot-box flow: open, wait for the
// oracle, claim.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/rpc"
	"github.com/tolelom/stakebox/wallet"
)

var (
	ErrOracleTimeout = errors.New("client: randomness not delivered before timeout")
	ErrTxFailed      = errors.New("client: transaction failed")
)

const defaultPoll = 500 * time.Millisecond

// Client talks to a node's RPC endpoint.
type Client struct {
	url   string
	c     *http.Client
	token string
	poll  time.Duration
	seq   atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithAuthToken sends token as a bearer token on every request.
func WithAuthToken(token string) Option { return func(c *Client) { c.token = token } }

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.c = hc } }

// WithTLS talks to an HTTPS endpoint with cfg, for example one built by
// config.LoadClientTLSConfig.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) {
		c.c = &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	}
}

// WithPollInterval sets how often the Wait helpers poll the node.
func WithPollInterval(d time.Duration) Option { return func(c *Client) { c.poll = d } }

// New creates a Client for the node at url.
func New(url string, opts ...Option) *Client {
	c := &Client{url: url, c: http.DefaultClient, poll: defaultPoll}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call invokes method with params and decodes the result into out.
// A not-found error from the node is returned wrapping core.ErrNotFound.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: raw})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.Error      `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		if envelope.Error.Code == rpc.CodeNotFound {
			return fmt.Errorf("%s: %w: %s", method, core.ErrNotFound, envelope.Error.Message)
		}
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// BlockHeight returns the height of the chain tip.
func (c *Client) BlockHeight(ctx context.Context) (int64, error) {
	var h int64
	err := c.Call(ctx, "getBlockHeight", struct{}{}, &h)
	return h, err
}

// Block returns the block at height.
func (c *Client) Block(ctx context.Context, height int64) (*core.Block, error) {
	var b core.Block
	if err := c.Call(ctx, "getBlock", map[string]any{"height": height}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Balance returns the native balance and committed nonce of address.
func (c *Client) Balance(ctx context.Context, address string) (*rpc.BalanceResult, error) {
	var r rpc.BalanceResult
	if err := c.Call(ctx, "getBalance", map[string]string{"address": address}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Nonce returns the nonce the next transaction from address must carry.
func (c *Client) Nonce(ctx context.Context, address string) (uint64, error) {
	var n uint64
	err := c.Call(ctx, "getNonce", map[string]string{"address": address}, &n)
	return n, err
}

// TokenBalance returns owner's holding of mint.
func (c *Client) TokenBalance(ctx context.Context, mint, owner string) (uint64, error) {
	var b core.TokenBalance
	if err := c.Call(ctx, "getTokenBalance", map[string]string{"mint": mint, "owner": owner}, &b); err != nil {
		return 0, err
	}
	return b.Amount, nil
}

// Asset returns an NFT by ID.
func (c *Client) Asset(ctx context.Context, id string) (*core.Asset, error) {
	var a core.Asset
	if err := c.Call(ctx, "getAsset", map[string]string{"id": id}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// AssetsByOwner lists the NFT IDs held by owner.
func (c *Client) AssetsByOwner(ctx context.Context, owner string) ([]string, error) {
	var ids []string
	err := c.Call(ctx, "getAssetsByOwner", map[string]string{"owner": owner}, &ids)
	return ids, err
}

// StakeRecord returns user's record for assetID with its pending reward.
func (c *Client) StakeRecord(ctx context.Context, user, assetID string) (*rpc.StakeView, error) {
	var v rpc.StakeView
	if err := c.Call(ctx, "getStakeRecord", map[string]string{"user": user, "asset_id": assetID}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// StakesByUser returns every stake record of user.
func (c *Client) StakesByUser(ctx context.Context, user string) ([]*rpc.StakeView, error) {
	var vs []*rpc.StakeView
	err := c.Call(ctx, "getStakesByUser", map[string]string{"user": user}, &vs)
	return vs, err
}

// LootboxPointer returns user's loot-box pointer.
func (c *Client) LootboxPointer(ctx context.Context, user string) (*rpc.LootboxView, error) {
	var v rpc.LootboxView
	if err := c.Call(ctx, "getLootboxPointer", map[string]string{"user": user}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// OracleRequest returns a randomness request by ID.
func (c *Client) OracleRequest(ctx context.Context, id string) (*core.VrfRequest, error) {
	var r core.VrfRequest
	if err := c.Call(ctx, "getOracleRequest", map[string]string{"id": id}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PendingRequests lists requests awaiting the oracle.
func (c *Client) PendingRequests(ctx context.Context) ([]*core.VrfRequest, error) {
	var rs []*core.VrfRequest
	err := c.Call(ctx, "getPendingRequests", struct{}{}, &rs)
	return rs, err
}

// Params returns the program parameters.
func (c *Client) Params(ctx context.Context) (*core.Params, error) {
	var p core.Params
	if err := c.Call(ctx, "getParams", struct{}{}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Receipt returns the receipt of txID.
func (c *Client) Receipt(ctx context.Context, txID string) (*core.Receipt, error) {
	var r core.Receipt
	if err := c.Call(ctx, "getReceipt", map[string]string{"tx_id": txID}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SendTx submits a signed transaction and returns its ID.
func (c *Client) SendTx(ctx context.Context, tx *core.Transaction) (string, error) {
	var r rpc.SendTxResult
	if err := c.Call(ctx, "sendTx", tx, &r); err != nil {
		return "", err
	}
	return r.TxID, nil
}

// Submit builds a transaction with w's next nonce, sends it and waits for
// its receipt. A failed transaction is reported as ErrTxFailed.
func (c *Client) Submit(ctx context.Context, w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) (*core.Receipt, error) {
	nonce, err := c.Nonce(ctx, w.PubKey())
	if err != nil {
		return nil, err
	}
	tx, err := build(nonce)
	if err != nil {
		return nil, err
	}
	id, err := c.SendTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	rcpt, err := c.WaitReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rcpt.Success {
		return rcpt, fmt.Errorf("%w: %s", ErrTxFailed, rcpt.Error)
	}
	return rcpt, nil
}

// WaitReceipt polls until txID has a receipt or ctx is done.
func (c *Client) WaitReceipt(ctx context.Context, txID string) (*core.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		rcpt, err := c.Receipt(ctx, txID)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AwaitRedeemable polls user's loot-box pointer until the oracle has
// resolved it. It returns ErrOracleTimeout if that takes longer than
// timeout; the box stays open and may still resolve later.
func (c *Client) AwaitRedeemable(ctx context.Context, user string, timeout time.Duration) (*rpc.LootboxView, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		v, err := c.LootboxPointer(ctx, user)
		switch {
		case err == nil && v.Phase == core.PhaseResolved:
			return v, nil
		case err != nil && ctx.Err() != nil:
			return nil, ErrOracleTimeout
		case err != nil && !errors.Is(err, core.ErrNotFound):
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ErrOracleTimeout
		case <-ticker.C:
		}
	}
}

// OpenLootbox burns cost reward tokens, waits for randomness and claims the
// selected item. It returns the claimed item mint.
func (c *Client) OpenLootbox(ctx context.Context, w *wallet.Wallet, cost uint64, timeout time.Duration) (string, error) {
	if _, err := c.Submit(ctx, w, func(n uint64) (*core.Transaction, error) { return w.OpenLootbox(cost, n, 0) }); err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	v, err := c.AwaitRedeemable(ctx, w.PubKey(), timeout)
	if err != nil {
		return "", err
	}
	if _, err := c.Submit(ctx, w, func(n uint64) (*core.Transaction, error) { return w.ClaimLootbox(n, 0) }); err != nil {
		return "", fmt.Errorf("claim: %w", err)
	}
	return v.Item, nil
}
