package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tolelom/stakebox/core"
)

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// TxSubmitter admits a transaction to the local mempool.
type TxSubmitter interface {
	SubmitTx(tx *core.Transaction) error
}

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// Node listens for incoming peers and manages outgoing connections.
type Node struct {
	nodeID     string
	listenAddr string
	submitter  TxSubmitter
	maxPeers   int
	log        *slog.Logger

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler

	listener net.Listener
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNode creates a Node that will listen on listenAddr. Transactions
// received from peers are handed to submitter.
func NewNode(nodeID, listenAddr string, submitter TxSubmitter) *Node {
	n := &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		submitter:  submitter,
		maxPeers:   DefaultMaxPeers,
		log:        slog.With("component", "p2p"),
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		stopCh:     make(chan struct{}),
	}
	n.Handle(MsgTx, n.handleTx)
	return n
}

// Handle registers a handler for msg type.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start begins accepting connections.
func (n *Node) Start() error {
	ln, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	n.log.Info("p2p listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address once Start has succeeded.
func (n *Node) Addr() string {
	if n.listener == nil {
		return n.listenAddr
	}
	return n.listener.Addr().String()
}

// Stop shuts down the listener and every peer connection.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		if n.listener != nil {
			n.listener.Close()
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		for _, p := range n.peers {
			p.Close()
		}
	})
}

// AddPeer dials addr, registers the peer and sends hello.
func (n *Node) AddPeer(id, addr string) (*Peer, error) {
	peer, err := Connect(id, addr)
	if err != nil {
		return nil, err
	}
	n.register(peer)
	return peer, nil
}

func (n *Node) register(peer *Peer) {
	n.mu.Lock()
	n.peers[peer.ID] = peer
	n.mu.Unlock()
	go n.readLoop(peer)
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Broadcast sends msg to all connected peers.
func (n *Node) Broadcast(msg Message) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			n.log.Warn("broadcast failed", "peer", p.ID, "type", msg.Type, "err", err)
		}
	}
}

// BroadcastTx sends tx to all peers.
func (n *Node) BroadcastTx(tx *core.Transaction) {
	msg, err := NewMessage(MsgTx, tx)
	if err != nil {
		n.log.Error("encode tx", "err", err)
		return
	}
	n.Broadcast(msg)
}

// BroadcastBlock sends block to all peers.
func (n *Node) BroadcastBlock(block *core.Block) {
	msg, err := NewMessage(MsgBlock, block)
	if err != nil {
		n.log.Error("encode block", "err", err)
		return
	}
	n.Broadcast(msg)
}

// SubmitTx admits tx locally and relays it to peers. Replicas use it so a
// transaction sent to any node reaches the block producer.
func (n *Node) SubmitTx(tx *core.Transaction) error {
	if err := n.submitter.SubmitTx(tx); err != nil {
		return err
	}
	n.BroadcastTx(tx)
	return nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			n.log.Warn("accept error", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if n.PeerCount() >= n.maxPeers {
			n.log.Warn("max peers reached, rejecting", "max", n.maxPeers, "remote", conn.RemoteAddr().String())
			conn.Close()
			continue
		}
		addr := conn.RemoteAddr().String()
		n.register(NewPeer(addr, addr, conn))
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("read loop panic", "peer", peer.ID, "panic", r)
		}
		peer.Close()
		n.mu.Lock()
		if n.peers[peer.ID] == peer {
			delete(n.peers, peer.ID)
		}
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

func (n *Node) handleTx(peer *Peer, msg Message) {
	var tx core.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		n.log.Warn("decode tx", "peer", peer.ID, "err", err)
		return
	}
	if err := n.submitter.SubmitTx(&tx); err != nil && !errors.Is(err, core.ErrTxKnown) {
		n.log.Debug("relayed tx refused", "peer", peer.ID, "tx", tx.ID, "err", err)
	}
}
