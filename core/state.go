package core

// Account holds a participant's native token balance and replay-protection
// nonce. Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Asset is a non-fungible asset such as a stakeable NFT.
// While staked the asset is owned by the stake vault and LockedBy names the
// stake cycle holding it; LockedFor is the owner it must be returned to.
type Asset struct {
	ID         string         `json:"id"`
	TemplateID string         `json:"template_id"`
	Owner      string         `json:"owner"` // pubkey hex or program address
	Properties map[string]any `json:"properties"`
	Tradeable  bool           `json:"tradeable"`
	MintedAt   int64          `json:"minted_at"`
	LockedBy   string         `json:"locked_by,omitempty"`
	LockedFor  string         `json:"locked_for,omitempty"`
}

// Locked reports whether the asset is held by the vault.
func (a *Asset) Locked() bool { return a.LockedBy != "" }

// AssetTemplate defines the schema and rules for a class of assets.
type AssetTemplate struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Schema    map[string]any `json:"schema"` // property key → type hint
	Tradeable bool           `json:"tradeable"`
	Creator   string         `json:"creator"`
}

// TokenMint is a fungible token definition. Only Authority may mint.
// The staking reward token and every loot item are mints.
type TokenMint struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Decimals  uint8  `json:"decimals"`
	Authority string `json:"authority"`
	Supply    uint64 `json:"supply"`
}

// TokenBalance is one owner's holding of one mint.
type TokenBalance struct {
	Mint   string `json:"mint"`
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

// Receipt records the outcome of a transaction included in, or dropped
// from, a block.
type Receipt struct {
	TxID        string `json:"tx_id"`
	Type        TxType `json:"type"`
	From        string `json:"from"`
	BlockHeight int64  `json:"block_height"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// State is the full chain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Assets
	GetAsset(id string) (*Asset, error)
	SetAsset(asset *Asset) error
	DeleteAsset(id string) error

	// Templates
	GetTemplate(id string) (*AssetTemplate, error)
	SetTemplate(t *AssetTemplate) error

	// Fungible tokens
	GetMint(id string) (*TokenMint, error)
	SetMint(m *TokenMint) error
	GetTokenBalance(mint, owner string) (*TokenBalance, error)
	SetTokenBalance(b *TokenBalance) error

	// Staking
	GetStakeRecord(user, assetID string) (*StakeRecord, error)
	SetStakeRecord(r *StakeRecord) error

	// Loot boxes and randomness
	GetLootboxPointer(user string) (*LootboxPointer, error)
	SetLootboxPointer(p *LootboxPointer) error
	GetVrfUser(user string) (*VrfUserState, error)
	SetVrfUser(u *VrfUserState) error
	GetVrfRequest(id string) (*VrfRequest, error)
	SetVrfRequest(r *VrfRequest) error

	// Program parameters
	GetParams() (*Params, error)
	SetParams(p *Params) error

	// Receipts
	GetReceipt(txID string) (*Receipt, error)
	SetReceipt(r *Receipt) error

	// Queries
	StakeRecordsByUser(user string) ([]*StakeRecord, error)
	PendingRequests() ([]*VrfRequest, error)

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
