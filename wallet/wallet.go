package wallet

import (
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
)

// Wallet holds a key pair and builds signed transactions for one chain.
// Each program method has a builder; callers supply the account nonce.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
}

// New creates a Wallet from an existing private key.
func New(chainID string, priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(chainID, priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// ChainID returns the chain the wallet signs for.
func (w *Wallet) ChainID() string {
	return w.chainID
}

// NewTx creates a signed transaction.
func (w *Wallet) NewTx(typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer moves native tokens.
func (w *Wallet) Transfer(to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, fee, core.TransferPayload{To: to, Amount: amount})
}

// TokenTransfer moves fungible tokens of mint.
func (w *Wallet) TokenTransfer(mint, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTokenTransfer, nonce, fee, core.TokenTransferPayload{Mint: mint, To: to, Amount: amount})
}

// TransferAsset moves an NFT.
func (w *Wallet) TransferAsset(assetID, to string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransferAsset, nonce, fee, core.TransferAssetPayload{AssetID: assetID, To: to})
}

// Stake locks an NFT in the stake vault.
func (w *Wallet) Stake(assetID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxStake, nonce, fee, core.StakePayload{AssetID: assetID})
}

// Redeem mints the rewards accrued by a staked NFT.
func (w *Wallet) Redeem(assetID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRedeem, nonce, fee, core.StakePayload{AssetID: assetID})
}

// Unstake settles rewards and returns the NFT.
func (w *Wallet) Unstake(assetID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxUnstake, nonce, fee, core.StakePayload{AssetID: assetID})
}

// InitUser creates the sender's randomness account.
func (w *Wallet) InitUser(nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxInitUser, nonce, fee, struct{}{})
}

// OpenLootbox burns cost reward tokens and requests randomness.
func (w *Wallet) OpenLootbox(cost, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxOpenLootbox, nonce, fee, core.OpenLootboxPayload{Cost: cost})
}

// ConsumeRandomness delivers a VRF output for a request. Only the oracle
// account named in the request may send it.
func (w *Wallet) ConsumeRandomness(requestID, betaHex, proofHex string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxConsumeRandomness, nonce, fee, core.ConsumeRandomnessPayload{
		RequestID: requestID,
		Beta:      betaHex,
		Proof:     proofHex,
	})
}

// ClaimLootbox claims the resolved item, from the loot pool when stocked.
func (w *Wallet) ClaimLootbox(nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxClaimLootbox, nonce, fee, struct{}{})
}

// RetrieveItem claims the resolved item by minting it.
func (w *Wallet) RetrieveItem(nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRetrieveItem, nonce, fee, struct{}{})
}
