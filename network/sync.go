package network

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/tolelom/loopcore/chain"
	"github.com/tolelom/loopcore/core"
)

// GetBlocksRequest asks a peer for blocks starting at FromHeight, for a
// specific channel.
type GetBlocksRequest struct {
	Channel    string `json:"channel"`
	FromHeight uint64 `json:"from_height"`
	Limit      int    `json:"limit"`
}

// BlocksResponse carries a batch of confirmed blocks for a channel.
type BlocksResponse struct {
	Channel string        `json:"channel"`
	Blocks  []*core.Block `json:"blocks"`
}

// Executor applies a synced block's transactions, mirroring
// manager.Executor without importing package manager (sync only needs
// the one method).
type Executor interface {
	Invoke(tx *core.Transaction, block *core.Block) (*core.InvokeResult, error)
}

// Syncer recovers a channel's BlockChain from height desync by fetching
// missing confirmed blocks from a connected peer (spec.md §9 — the
// recoverable ErrBlockchainError path). It implements manager.PeerHeightSyncer.
type Syncer struct {
	node    *Node
	channel string
	bc      *chain.BlockChain
	exec    Executor
}

// NewSyncer creates a Syncer for one channel's chain, registering its
// request/response handlers on node.
func NewSyncer(node *Node, channel string, bc *chain.BlockChain, exec Executor) *Syncer {
	s := &Syncer{node: node, channel: channel, bc: bc, exec: exec}
	node.Handle(MsgGetBlocks, s.handleGetBlocks)
	node.Handle(MsgBlocks, s.handleBlocks)
	return s
}

// Sync asks every connected peer for blocks starting at fromHeight+1 and
// applies whatever comes back. It implements manager.PeerHeightSyncer.
func (s *Syncer) Sync(fromHeight uint64) error {
	req, err := json.Marshal(GetBlocksRequest{Channel: s.channel, FromHeight: fromHeight + 1, Limit: 100})
	if err != nil {
		return fmt.Errorf("network: marshal get_blocks: %w", err)
	}
	s.node.Broadcast(Message{Type: MsgGetBlocks, Payload: req})
	return nil
}

func (s *Syncer) handleGetBlocks(peer *Peer, msg Message) {
	var req GetBlocksRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	if req.Channel != s.channel {
		return
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 100
	}

	blocks := make([]*core.Block, 0, req.Limit)
	height := s.bc.Height()
	for h := req.FromHeight; h < req.FromHeight+uint64(req.Limit) && h <= height; h++ {
		b, err := s.bc.GetBlockByHeight(h)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}

	data, err := json.Marshal(BlocksResponse{Channel: s.channel, Blocks: blocks})
	if err != nil {
		return
	}
	_ = peer.Send(Message{Type: MsgBlocks, Payload: data})
}

func (s *Syncer) handleBlocks(_ *Peer, msg Message) {
	var resp BlocksResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return
	}
	if resp.Channel != s.channel {
		return
	}
	for _, b := range resp.Blocks {
		if err := b.VerifyIntegrity(); err != nil {
			log.Printf("[sync] %s: block %d failed integrity check: %v", s.channel, b.Header.Height, err)
			continue
		}
		invokeResults := make(map[string]*core.InvokeResult, len(b.ConfirmedTransactionList))
		for _, tx := range b.ConfirmedTransactionList {
			res, err := s.exec.Invoke(tx, b)
			if err != nil {
				log.Printf("[sync] %s: invoke %s failed: %v", s.channel, tx.TxHash, err)
				continue
			}
			invokeResults[tx.TxHash] = res
		}
		if err := s.bc.AddBlock(b, invokeResults); err != nil {
			log.Printf("[sync] %s: add block %d failed: %v", s.channel, b.Header.Height, err)
			continue
		}
	}
}
