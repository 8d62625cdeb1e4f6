package network

import (
	"encoding/json"
	"log/slog"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
)

const (
	syncBatch     = 50
	maxSyncBatch  = 200
	announceQueue = 64
)

// Hello is exchanged when a connection opens. Height is -1 for a node
// without blocks.
type Hello struct {
	NodeID  string `json:"node_id"`
	ChainID string `json:"chain_id"`
	Height  int64  `json:"height"`
}

// GetBlocksRequest asks a peer for blocks starting at FromHeight.
type GetBlocksRequest struct {
	FromHeight int64 `json:"from_height"`
	Limit      int   `json:"limit"`
}

// BlocksResponse carries a batch of blocks.
type BlocksResponse struct {
	Blocks []*core.Block `json:"blocks"`
}

// BlockImporter validates, re-executes and commits a block produced
// elsewhere.
type BlockImporter interface {
	ImportBlock(block *core.Block) error
}

// Syncer keeps the local chain in step with peers. Replicas pull missing
// blocks and import announced ones; the producer announces each block it
// commits.
type Syncer struct {
	node     *Node
	bc       *core.Blockchain
	importer BlockImporter
	chainID  string
	log      *slog.Logger

	announce chan int64
}

// NewSyncer wires block replication handlers into node.
func NewSyncer(node *Node, bc *core.Blockchain, importer BlockImporter, chainID string) *Syncer {
	s := &Syncer{
		node:     node,
		bc:       bc,
		importer: importer,
		chainID:  chainID,
		log:      slog.With("component", "sync"),
	}
	node.Handle(MsgHello, s.handleHello)
	node.Handle(MsgGetBlocks, s.handleGetBlocks)
	node.Handle(MsgBlocks, s.handleBlocks)
	node.Handle(MsgBlock, s.handleBlock)
	return s
}

// Connect dials a peer, introduces this node and requests the blocks it is
// missing.
func (s *Syncer) Connect(addr string) (*Peer, error) {
	peer, err := s.node.AddPeer(addr, addr)
	if err != nil {
		return nil, err
	}
	if err := s.sendHello(peer); err != nil {
		return peer, err
	}
	return peer, s.RequestBlocks(peer, s.next())
}

// next is the height of the first block the local chain lacks. A fresh
// chain still needs block #0.
func (s *Syncer) next() int64 {
	tip, height := s.bc.Head()
	if tip == nil {
		return 0
	}
	return height + 1
}

// AnnounceBlocks broadcasts every block committed locally. Blocks are
// queued so a slow peer never stalls block production; a replica that
// misses one fills the gap when the next arrives.
func (s *Syncer) AnnounceBlocks(emitter *events.Emitter) {
	s.announce = make(chan int64, announceQueue)
	emitter.Subscribe(events.EventBlockCommit, func(ev events.Event) {
		select {
		case s.announce <- ev.BlockHeight:
		default:
			s.log.Warn("announce queue full, dropping", "height", ev.BlockHeight)
		}
	})
	go func() {
		for {
			select {
			case <-s.node.stopCh:
				return
			case h := <-s.announce:
				b, err := s.bc.GetBlockByHeight(h)
				if err != nil {
					s.log.Warn("load block to announce", "height", h, "err", err)
					continue
				}
				s.node.BroadcastBlock(b)
			}
		}
	}()
}

func (s *Syncer) sendHello(peer *Peer) error {
	msg, err := NewMessage(MsgHello, Hello{NodeID: s.node.nodeID, ChainID: s.chainID, Height: s.next() - 1})
	if err != nil {
		return err
	}
	return peer.Send(msg)
}

// RequestBlocks asks peer for blocks starting at fromHeight.
func (s *Syncer) RequestBlocks(peer *Peer, fromHeight int64) error {
	msg, err := NewMessage(MsgGetBlocks, GetBlocksRequest{FromHeight: fromHeight, Limit: syncBatch})
	if err != nil {
		return err
	}
	return peer.Send(msg)
}

// handleHello drops peers on another chain and pulls blocks from peers
// that are ahead.
func (s *Syncer) handleHello(peer *Peer, msg Message) {
	var h Hello
	if err := json.Unmarshal(msg.Payload, &h); err != nil {
		s.log.Warn("decode hello", "peer", peer.ID, "err", err)
		peer.Close()
		return
	}
	if h.ChainID != s.chainID {
		s.log.Warn("peer on another chain", "peer", peer.ID, "chain_id", h.ChainID)
		peer.Close()
		return
	}
	if next := s.next(); h.Height >= next {
		if err := s.RequestBlocks(peer, next); err != nil {
			s.log.Warn("request blocks", "peer", peer.ID, "err", err)
		}
	}
}

func (s *Syncer) handleGetBlocks(peer *Peer, msg Message) {
	var req GetBlocksRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	if req.Limit <= 0 || req.Limit > maxSyncBatch {
		req.Limit = syncBatch
	}
	blocks := make([]*core.Block, 0, req.Limit)
	for h := req.FromHeight; h < req.FromHeight+int64(req.Limit); h++ {
		b, err := s.bc.GetBlockByHeight(h)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}
	resp, err := NewMessage(MsgBlocks, BlocksResponse{Blocks: blocks})
	if err != nil {
		s.log.Error("encode blocks", "err", err)
		return
	}
	if err := peer.Send(resp); err != nil {
		s.log.Warn("send blocks", "peer", peer.ID, "err", err)
	}
}

func (s *Syncer) handleBlocks(peer *Peer, msg Message) {
	var resp BlocksResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return
	}
	for _, b := range resp.Blocks {
		if b.Header.Height < s.next() {
			continue
		}
		if err := s.importer.ImportBlock(b); err != nil {
			s.log.Error("import synced block", "peer", peer.ID, "height", b.Header.Height, "err", err)
			return
		}
	}
	if len(resp.Blocks) >= syncBatch {
		if err := s.RequestBlocks(peer, s.next()); err != nil {
			s.log.Warn("follow-up request", "peer", peer.ID, "err", err)
		}
	}
}

// handleBlock imports an announced block, or requests the gap before it.
func (s *Syncer) handleBlock(peer *Peer, msg Message) {
	var b core.Block
	if err := json.Unmarshal(msg.Payload, &b); err != nil {
		return
	}
	next := s.next()
	switch {
	case b.Header.Height < next:
		return
	case b.Header.Height > next:
		if err := s.RequestBlocks(peer, next); err != nil {
			s.log.Warn("request gap", "peer", peer.ID, "err", err)
		}
		return
	}
	if err := s.importer.ImportBlock(&b); err != nil {
		s.log.Error("import announced block", "peer", peer.ID, "height", b.Header.Height, "err", err)
	}
}
