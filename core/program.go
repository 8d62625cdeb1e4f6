package core

import "fmt"

// CustodyState is the custody side of a stake record.
type CustodyState string

const (
	CustodyUnstaked CustodyState = "unstaked"
	CustodyStaked   CustodyState = "staked"
)

// StakeRecord tracks one (user, NFT) pair across stake cycles. Records are
// never deleted; unstaking flips Custody back and the next stake reuses it.
type StakeRecord struct {
	User           string       `json:"user"`
	AssetID        string       `json:"asset_id"`
	Custody        CustodyState `json:"custody"`
	StakeStartTime int64        `json:"stake_start_time"` // unix seconds
	LastRedeemTime int64        `json:"last_redeem_time"` // unix seconds
	TotalEarned    uint64       `json:"total_earned"`
	Cycle          uint64       `json:"cycle"`
	Initialized    bool         `json:"initialized"`
}

// Staked reports whether the NFT is currently in the vault.
func (r *StakeRecord) Staked() bool {
	return r != nil && r.Initialized && r.Custody == CustodyStaked
}

// LockKey identifies the current stake cycle to the custody vault.
func (r *StakeRecord) LockKey() string {
	return fmt.Sprintf("stake:%s:%s#%d", r.User, r.AssetID, r.Cycle)
}

// LootboxPhase is the derived lifecycle position of a loot-box pointer.
type LootboxPhase string

const (
	PhaseIdle     LootboxPhase = "idle"
	PhaseAwaiting LootboxPhase = "awaiting_randomness"
	PhaseResolved LootboxPhase = "resolved"
	PhaseClaimed  LootboxPhase = "claimed"
)

// LootboxPointer is the per-user record of one randomness-driven reward
// selection, from request through claim.
type LootboxPointer struct {
	User        string `json:"user"`
	Initialized bool   `json:"initialized"`
	Redeemable  bool   `json:"redeemable"`
	Claimed     bool   `json:"claimed"`
	RequestID   string `json:"request_id"`
	Item        string `json:"item,omitempty"` // item mint id, empty until resolved
	Cost        uint64 `json:"cost"`
	Opens       uint64 `json:"opens"`
	OpenedAt    int64  `json:"opened_at"`
	ResolvedAt  int64  `json:"resolved_at,omitempty"`
	ClaimedAt   int64  `json:"claimed_at,omitempty"`
}

// Phase derives the state-machine position from the stored flags.
func (p *LootboxPointer) Phase() LootboxPhase {
	switch {
	case p == nil || !p.Initialized:
		return PhaseIdle
	case p.Claimed:
		return PhaseClaimed
	case p.Redeemable:
		return PhaseResolved
	default:
		return PhaseAwaiting
	}
}

// CanOpen reports whether a new loot box may be opened. A claimed pointer
// behaves as idle.
func (p *LootboxPointer) CanOpen() bool {
	ph := p.Phase()
	return ph == PhaseIdle || ph == PhaseClaimed
}

// VrfUserState binds a user to the randomness oracle. ResultBuffer holds the
// last consumed output so a replayed delivery can be recognised.
type VrfUserState struct {
	User         string `json:"user"`
	ResultBuffer string `json:"result_buffer"` // hex
	Requests     uint64 `json:"requests"`
	CreatedAt    int64  `json:"created_at"`
}

// RequestStatus is the oracle-side state of a randomness request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestFulfilled RequestStatus = "fulfilled"
)

// VrfRequest is a randomness request owned by the oracle adapter. The loot
// box pointer only keeps its ID.
type VrfRequest struct {
	ID          string        `json:"id"`
	User        string        `json:"user"`
	Alpha       string        `json:"alpha"`   // hex seed the proof is computed over
	Oracle      string        `json:"oracle"`  // account permitted to fulfil
	VRFKey      string        `json:"vrf_key"` // compressed secp256k1 key hex
	Escrow      uint64        `json:"escrow"`  // native tokens held for the oracle
	Status      RequestStatus `json:"status"`
	Beta        string        `json:"beta,omitempty"`
	Proof       string        `json:"proof,omitempty"`
	RequestedAt int64         `json:"requested_at"`
	FulfilledAt int64         `json:"fulfilled_at,omitempty"`
}

// Pending reports whether the request still awaits fulfilment.
func (r *VrfRequest) Pending() bool {
	return r != nil && r.Status == RequestPending
}
