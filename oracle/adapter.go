// Package oracle is the randomness-oracle adapter. Requests live in chain
// state; an off-chain Service proves them with an ECVRF key and answers by
// submitting consume_randomness transactions, which the loot box program
// verifies through this package.
package oracle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/tolelom/stakebox/core"
)

var (
	ErrUnauthorizedOracle = errors.New("oracle: sender is not the request's oracle")
	ErrInvalidProof       = errors.New("oracle: invalid vrf proof")
	ErrUnknownRequest     = errors.New("oracle: unknown request")
	ErrNotConfigured      = errors.New("oracle: no oracle configured")
	ErrInsufficientFee    = errors.New("oracle: insufficient balance for request fee")
	ErrUserNotInitialized = errors.New("oracle: randomness account not initialized")
	ErrDuplicateRequest   = errors.New("oracle: request already exists")
)

var requestNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("stakebox/oracle/request"))

// RequestID derives the deterministic request handle for the transaction
// that opened it.
func RequestID(txID string) string {
	return uuid.NewSHA1(requestNamespace, []byte(txID)).String()
}

// Alpha derives the VRF input for a request. It binds the opening
// transaction, the user and the user's request counter.
func Alpha(txID, user string, counter uint64) []byte {
	h := sha256.New()
	h.Write([]byte(txID))
	h.Write([]byte{0})
	h.Write([]byte(user))
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], counter)
	h.Write(n[:])
	return h.Sum(nil)
}

// Adapter manages randomness accounts and requests in state.
type Adapter struct {
	state core.State
}

// NewAdapter returns an Adapter over state.
func NewAdapter(state core.State) *Adapter {
	return &Adapter{state: state}
}

// User returns the randomness account of user.
func (a *Adapter) User(user string) (*core.VrfUserState, error) {
	u, err := a.state.GetVrfUser(user)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotInitialized, user)
	}
	return u, err
}

// CreateUser writes a fresh randomness account for user.
func (a *Adapter) CreateUser(user string, now int64) (*core.VrfUserState, error) {
	u := &core.VrfUserState{User: user, CreatedAt: now}
	if err := a.state.SetVrfUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns request id.
func (a *Adapter) Get(id string) (*core.VrfRequest, error) {
	r, err := a.state.GetVrfRequest(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	return r, err
}

// Request issues a pending randomness request for user on behalf of the
// transaction txID and escrows the oracle fee from the user's native
// balance. The user's randomness account must exist.
func (a *Adapter) Request(user, txID string, params *core.Params, now int64) (*core.VrfRequest, error) {
	if params.Oracle == "" || params.OracleVRFKey == "" {
		return nil, ErrNotConfigured
	}
	u, err := a.User(user)
	if err != nil {
		return nil, err
	}
	id := RequestID(txID)
	if _, err := a.state.GetVrfRequest(id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if u.Requests == math.MaxUint64 {
		return nil, errors.New("oracle: request counter overflow")
	}

	if params.OracleFee > 0 {
		if err := a.moveNative(user, core.OracleEscrow, params.OracleFee, ErrInsufficientFee); err != nil {
			return nil, err
		}
	}

	req := &core.VrfRequest{
		ID:          id,
		User:        user,
		Alpha:       hex.EncodeToString(Alpha(txID, user, u.Requests)),
		Oracle:      params.Oracle,
		VRFKey:      params.OracleVRFKey,
		Escrow:      params.OracleFee,
		Status:      core.RequestPending,
		RequestedAt: now,
	}
	u.Requests++
	if err := a.state.SetVrfUser(u); err != nil {
		return nil, err
	}
	if err := a.state.SetVrfRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Verify authenticates a delivery for request id sent by sender and returns
// the request with the verified VRF output. A request that is no longer
// pending comes back with a nil output and no error, so repeated deliveries
// are harmless. Nothing is written.
func (a *Adapter) Verify(id, sender, betaHex, proofHex string) (*core.VrfRequest, []byte, []byte, error) {
	req, err := a.Get(id)
	if err != nil {
		return nil, nil, nil, err
	}
	if sender != req.Oracle {
		return nil, nil, nil, ErrUnauthorizedOracle
	}
	if !req.Pending() {
		return req, nil, nil, nil
	}
	alpha, err := hex.DecodeString(req.Alpha)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("oracle: stored alpha: %w", err)
	}
	proof, err := hex.DecodeString(proofHex)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: proof encoding", ErrInvalidProof)
	}
	beta, err := Verify(req.VRFKey, alpha, proof)
	if err != nil {
		return nil, nil, nil, err
	}
	if betaHex != "" {
		claimed, err := hex.DecodeString(betaHex)
		if err != nil || !bytes.Equal(claimed, beta) {
			return nil, nil, nil, fmt.Errorf("%w: output does not match proof", ErrInvalidProof)
		}
	}
	return req, beta, proof, nil
}

// Complete marks req fulfilled with beta and pays its escrow to the oracle.
func (a *Adapter) Complete(req *core.VrfRequest, beta, proof []byte, now int64) error {
	if !req.Pending() {
		return fmt.Errorf("oracle: request %s already fulfilled", req.ID)
	}
	if req.Escrow > 0 {
		if err := a.moveNative(core.OracleEscrow, req.Oracle, req.Escrow, ErrInsufficientFee); err != nil {
			return err
		}
	}
	req.Status = core.RequestFulfilled
	req.Beta = hex.EncodeToString(beta)
	req.Proof = hex.EncodeToString(proof)
	req.FulfilledAt = now
	return a.state.SetVrfRequest(req)
}

func (a *Adapter) moveNative(from, to string, amount uint64, short error) error {
	src, err := a.state.GetAccount(from)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", short, src.Balance, amount)
	}
	dst, err := a.state.GetAccount(to)
	if err != nil {
		return err
	}
	if dst.Balance > math.MaxUint64-amount {
		return errors.New("oracle: native balance overflow")
	}
	src.Balance -= amount
	if err := a.state.SetAccount(src); err != nil {
		return err
	}
	// Re-read in case from == to.
	dst, err = a.state.GetAccount(to)
	if err != nil {
		return err
	}
	dst.Balance += amount
	return a.state.SetAccount(dst)
}
