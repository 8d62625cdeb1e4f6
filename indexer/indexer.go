// Package indexer maintains secondary indexes over committed blocks so
// clients can query NFTs by owner, stakes by depositor and loot-box claims
// by user without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/storage"
)

const (
	prefixOwnerAssets  = "idx:owner:asset:"
	prefixStakedAssets = "idx:staker:asset:"
	prefixUserClaims   = "idx:user:claim:"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
// Events are buffered per block and applied on block commit, so a block the
// producer abandons leaves no trace in the indexes.
type Indexer struct {
	db  storage.DB
	log *slog.Logger

	mu      sync.Mutex
	pending []events.Event
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, log: slog.With("component", "indexer")}
	for _, typ := range []events.EventType{
		events.EventAssetMinted,
		events.EventAssetTransfer,
		events.EventAssetBurned,
		events.EventAssetLocked,
		events.EventAssetReleased,
		events.EventLootboxClaimed,
	} {
		emitter.Subscribe(typ, idx.buffer)
	}
	emitter.Subscribe(events.EventBlockCommit, idx.onBlockCommit)
	emitter.Subscribe(events.EventBlockAborted, idx.onBlockAborted)
	return idx
}

// GetAssetsByOwner returns all asset IDs held by the given pubkey.
// Staked NFTs are listed under GetStakedAssets instead.
func (idx *Indexer) GetAssetsByOwner(owner string) ([]string, error) {
	return idx.getList(prefixOwnerAssets + owner)
}

// GetStakedAssets returns the IDs of NFTs user has locked in the vault.
func (idx *Indexer) GetStakedAssets(user string) ([]string, error) {
	return idx.getList(prefixStakedAssets + user)
}

// GetClaims returns the request IDs of every loot box user has claimed.
func (idx *Indexer) GetClaims(user string) ([]string, error) {
	return idx.getList(prefixUserClaims + user)
}

// Seed indexes the NFTs allocated at genesis, which no transaction mints.
func (idx *Indexer) Seed(g *config.GenesisConfig) error {
	for _, a := range g.Assets {
		if err := idx.addToList(prefixOwnerAssets+a.Owner, a.ID); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Indexer) buffer(ev events.Event) {
	idx.mu.Lock()
	idx.pending = append(idx.pending, ev)
	idx.mu.Unlock()
}

func (idx *Indexer) onBlockCommit(commit events.Event) {
	idx.mu.Lock()
	evs := idx.pending
	idx.pending = nil
	idx.mu.Unlock()

	for _, ev := range evs {
		if ev.BlockHeight != commit.BlockHeight {
			continue // from an abandoned block
		}
		if err := idx.apply(ev); err != nil {
			idx.log.Warn("index update failed", "type", ev.Type, "tx", ev.TxID, "err", err)
		}
	}
}

func (idx *Indexer) onBlockAborted(events.Event) {
	idx.mu.Lock()
	idx.pending = nil
	idx.mu.Unlock()
}

func (idx *Indexer) apply(ev events.Event) error {
	str := func(k string) string {
		s, _ := ev.Data[k].(string)
		return s
	}
	switch ev.Type {
	case events.EventAssetMinted:
		if str("owner") == "" || str("asset_id") == "" {
			return nil
		}
		return idx.addToList(prefixOwnerAssets+str("owner"), str("asset_id"))
	case events.EventAssetTransfer:
		return idx.move(prefixOwnerAssets+str("from"), prefixOwnerAssets+str("to"), str("asset_id"))
	case events.EventAssetBurned:
		return idx.removeFromList(prefixOwnerAssets+str("owner"), str("asset_id"))
	case events.EventAssetLocked:
		return idx.move(prefixOwnerAssets+str("from"), prefixStakedAssets+str("from"), str("asset_id"))
	case events.EventAssetReleased:
		return idx.move(prefixStakedAssets+str("to"), prefixOwnerAssets+str("to"), str("asset_id"))
	case events.EventLootboxClaimed:
		if str("user") == "" || str("request_id") == "" {
			return nil
		}
		return idx.addToList(prefixUserClaims+str("user"), str("request_id"))
	}
	return nil
}

func (idx *Indexer) move(fromKey, toKey, id string) error {
	if id == "" {
		return nil
	}
	if err := idx.removeFromList(fromKey, id); err != nil {
		return err
	}
	return idx.addToList(toKey, id)
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) removeFromList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	if len(filtered) == 0 {
		return idx.db.Delete([]byte(key))
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
