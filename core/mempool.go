package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultMempoolSize = 10_000
	maxTxAge           = int64(time.Hour)
	maxTxFuture        = int64(5 * time.Minute)
)

var (
	ErrMempoolFull  = errors.New("mempool full")
	ErrTxKnown      = errors.New("tx already in pool")
	ErrTxExpired    = errors.New("transaction expired")
	ErrTxFromFuture = errors.New("transaction timestamp too far in the future")
)

// Mempool is a thread-safe pending-transaction pool.
type Mempool struct {
	mu     sync.RWMutex
	limit  int
	txs    map[string]*Transaction
	ord    []string // insertion order, which is also execution order
	bySndr map[string]int
}

// NewMempool creates an empty mempool holding at most limit transactions.
// A limit <= 0 selects the default of 10000.
func NewMempool(limit int) *Mempool {
	if limit <= 0 {
		limit = defaultMempoolSize
	}
	return &Mempool{
		limit:  limit,
		txs:    make(map[string]*Transaction),
		bySndr: make(map[string]int),
	}
}

// Add validates and inserts a transaction. The timestamp must lie within
// one hour in the past and five minutes in the future.
func (m *Mempool) Add(tx *Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return ErrTxExpired
	}
	if tx.Timestamp-now > maxTxFuture {
		return ErrTxFromFuture
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= m.limit {
		return ErrMempoolFull
	}
	if _, exists := m.txs[tx.ID]; exists {
		return ErrTxKnown
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	m.bySndr[tx.From]++
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions in insertion order.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Transaction, 0, n)
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok {
			result = append(result, tx)
			if len(result) >= n {
				break
			}
		}
	}
	return result
}

// PendingFrom returns how many queued transactions were sent by from.
// Submitters add it to the account nonce to pick the next nonce.
func (m *Mempool) PendingFrom(from string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bySndr[from]
}

// Remove deletes transactions by ID (called after block production).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if tx, ok := m.txs[id]; ok {
			if m.bySndr[tx.From]--; m.bySndr[tx.From] <= 0 {
				delete(m.bySndr, tx.From)
			}
			delete(m.txs, id)
		}
		removed[id] = true
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Prune drops transactions that can no longer execute: their nonce is below
// the sender's account nonce, or they are older than the admission window.
// It returns the number removed.
func (m *Mempool) Prune(now time.Time, nonceOf func(from string) uint64) int {
	m.mu.RLock()
	var stale []string
	for _, id := range m.ord {
		tx := m.txs[id]
		if tx == nil {
			continue
		}
		if now.UnixNano()-tx.Timestamp > maxTxAge || tx.Nonce < nonceOf(tx.From) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()
	if len(stale) > 0 {
		m.Remove(stale)
	}
	return len(stale)
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
