package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. Every state prefix must be declared here.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

var statePrefixes []string

var (
	prefixAccount  = registerPrefix("acct:")
	prefixAsset    = registerPrefix("asset:")
	prefixTemplate = registerPrefix("tmpl:")
	prefixMint     = registerPrefix("mint:")
	prefixTokenBal = registerPrefix("tbal:")
	prefixStake    = registerPrefix("stake:")
	prefixLootbox  = registerPrefix("loot:")
	prefixVrfUser  = registerPrefix("vrfu:")
	prefixVrfReq   = registerPrefix("vrfr:")
	prefixParams   = registerPrefix("param:")
	prefixReceipt  = registerPrefix("rcpt:")
)

const keyProgramParams = "param:program"

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with an in-memory write
// buffer, snapshot/rollback, and deterministic state-root computation.
// It is safe for concurrent readers while the block producer writes.
type StateDB struct {
	mu        sync.RWMutex
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// merged returns persisted entries under prefix overlaid with the write
// buffer, minus deleted keys.
func (s *StateDB) merged(prefix string) map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte)
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		out[string(it.Key())] = v
	}
	it.Release()
	for k, v := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	for k := range s.deleted {
		delete(out, k)
	}
	return out
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Asset ----

func (s *StateDB) GetAsset(id string) (*core.Asset, error) {
	var asset core.Asset
	if err := s.getJSON(prefixAsset+id, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *StateDB) SetAsset(asset *core.Asset) error {
	return s.setJSON(prefixAsset+asset.ID, asset)
}

func (s *StateDB) DeleteAsset(id string) error {
	s.del(prefixAsset + id)
	return nil
}

// ---- Template ----

func (s *StateDB) GetTemplate(id string) (*core.AssetTemplate, error) {
	var t core.AssetTemplate
	if err := s.getJSON(prefixTemplate+id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetTemplate(t *core.AssetTemplate) error {
	return s.setJSON(prefixTemplate+t.ID, t)
}

// ---- Fungible tokens ----

func (s *StateDB) GetMint(id string) (*core.TokenMint, error) {
	var m core.TokenMint
	if err := s.getJSON(prefixMint+id, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *StateDB) SetMint(m *core.TokenMint) error {
	return s.setJSON(prefixMint+m.ID, m)
}

// GetTokenBalance returns a zero balance for an owner that never held mint.
func (s *StateDB) GetTokenBalance(mint, owner string) (*core.TokenBalance, error) {
	var b core.TokenBalance
	err := s.getJSON(prefixTokenBal+mint+":"+owner, &b)
	if errors.Is(err, core.ErrNotFound) {
		return &core.TokenBalance{Mint: mint, Owner: owner}, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *StateDB) SetTokenBalance(b *core.TokenBalance) error {
	return s.setJSON(prefixTokenBal+b.Mint+":"+b.Owner, b)
}

// ---- Staking ----

func (s *StateDB) GetStakeRecord(user, assetID string) (*core.StakeRecord, error) {
	var r core.StakeRecord
	if err := s.getJSON(prefixStake+user+":"+assetID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetStakeRecord(r *core.StakeRecord) error {
	return s.setJSON(prefixStake+r.User+":"+r.AssetID, r)
}

// StakeRecordsByUser lists every stake record of user, staked or not.
func (s *StateDB) StakeRecordsByUser(user string) ([]*core.StakeRecord, error) {
	entries := s.merged(prefixStake + user + ":")
	out := make([]*core.StakeRecord, 0, len(entries))
	for k, v := range entries {
		var r core.StakeRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

// ---- Loot boxes and randomness ----

func (s *StateDB) GetLootboxPointer(user string) (*core.LootboxPointer, error) {
	var p core.LootboxPointer
	if err := s.getJSON(prefixLootbox+user, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetLootboxPointer(p *core.LootboxPointer) error {
	return s.setJSON(prefixLootbox+p.User, p)
}

func (s *StateDB) GetVrfUser(user string) (*core.VrfUserState, error) {
	var u core.VrfUserState
	if err := s.getJSON(prefixVrfUser+user, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *StateDB) SetVrfUser(u *core.VrfUserState) error {
	return s.setJSON(prefixVrfUser+u.User, u)
}

func (s *StateDB) GetVrfRequest(id string) (*core.VrfRequest, error) {
	var r core.VrfRequest
	if err := s.getJSON(prefixVrfReq+id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetVrfRequest(r *core.VrfRequest) error {
	return s.setJSON(prefixVrfReq+r.ID, r)
}

// PendingRequests lists unfulfilled randomness requests ordered by request
// time, so an oracle restarting can pick up where it left off.
func (s *StateDB) PendingRequests() ([]*core.VrfRequest, error) {
	entries := s.merged(prefixVrfReq)
	var out []*core.VrfRequest
	for k, v := range entries {
		var r core.VrfRequest
		if err := json.Unmarshal(v, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		if r.Pending() {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt != out[j].RequestedAt {
			return out[i].RequestedAt < out[j].RequestedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ---- Params ----

func (s *StateDB) GetParams() (*core.Params, error) {
	var p core.Params
	if err := s.getJSON(keyProgramParams, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetParams(p *core.Params) error {
	return s.setJSON(keyProgramParams, p)
}

// ---- Receipts ----

func (s *StateDB) GetReceipt(txID string) (*core.Receipt, error) {
	var r core.Receipt
	if err := s.getJSON(prefixReceipt+txID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetReceipt(r *core.Receipt) error {
	return s.setJSON(prefixReceipt+r.TxID, r)
}

// ---- Snapshot / Rollback / Commit ----

func copyBuffer(dirty map[string][]byte, deleted map[string]bool) stateSnapshot {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(dirty)),
		deleted: make(map[string]bool, len(deleted)),
	}
	for k, v := range dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range deleted {
		snap.deleted[k] = v
	}
	return snap
}

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, copyBuffer(s.dirty, s.deleted))
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot
// and discards it and every later snapshot.
func (s *StateDB) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	restored := copyBuffer(s.snapshots[id].dirty, s.snapshots[id].deleted)
	s.dirty = restored.dirty
	s.deleted = restored.deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state:
// persisted entries under every registered prefix merged with the write
// buffer, sorted by key and length-prefix encoded. It does not flush.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		for k, v := range s.merged(prefix) {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB and
// clears it together with all snapshots.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
