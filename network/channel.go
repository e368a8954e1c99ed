package network

import (
	"encoding/json"
	"log"

	"github.com/tolelom/loopcore/core"
)

// InboundManager is the subset of manager.BlockManager's inbound API that
// network messages are dispatched into. Defined locally (rather than
// imported from package manager) so network has no dependency on manager —
// only manager depends on the Broadcaster/PeerRegistry/PeerHeightSyncer
// shapes that ChannelBroadcaster, Node, and Syncer satisfy.
type InboundManager interface {
	AddTx(tx *core.Transaction) error
	AddUnconfirmedBlock(block *core.Block)
	OnVote(blockHash, voterID string, approve bool)
	ConfirmBlock(blockHash string) error
}

type txPayload struct {
	Channel string            `json:"channel"`
	Tx      *core.Transaction `json:"tx"`
}

type unconfirmedBlockPayload struct {
	Channel string      `json:"channel"`
	Block   *core.Block `json:"block"`
}

type confirmedBlockPayload struct {
	Channel   string      `json:"channel"`
	BlockHash string      `json:"block_hash"`
	Block     *core.Block `json:"block,omitempty"`
}

type votePayload struct {
	Channel   string `json:"channel"`
	BlockHash string `json:"block_hash"`
	VoterID   string `json:"voter_id"`
	Validated bool   `json:"validated"`
}

type statusPayload struct {
	Channel string `json:"channel"`
}

// Wire registers node handlers that decode channel-scoped messages and
// dispatch them into mgr, ignoring messages addressed to other channels.
func Wire(node *Node, channel string, mgr InboundManager) {
	node.Handle(MsgTx, func(_ *Peer, msg Message) {
		var p txPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Channel != channel {
			return
		}
		if err := mgr.AddTx(p.Tx); err != nil {
			log.Printf("[network] %s: add tx: %v", channel, err)
		}
	})
	node.Handle(MsgUnconfirmedBlock, func(_ *Peer, msg Message) {
		var p unconfirmedBlockPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Channel != channel {
			return
		}
		mgr.AddUnconfirmedBlock(p.Block)
	})
	node.Handle(MsgConfirmedBlock, func(_ *Peer, msg Message) {
		var p confirmedBlockPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Channel != channel {
			return
		}
		if err := mgr.ConfirmBlock(p.BlockHash); err != nil {
			log.Printf("[network] %s: confirm %s: %v", channel, p.BlockHash, err)
		}
	})
	node.Handle(MsgVote, func(peer *Peer, msg Message) {
		var p votePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Channel != channel {
			return
		}
		voterID := p.VoterID
		if voterID == "" {
			voterID = peer.ID
		}
		mgr.OnVote(p.BlockHash, voterID, p.Validated)
	})
}

// ChannelBroadcaster implements manager.Broadcaster over a shared Node,
// scoping every message to one channel.
type ChannelBroadcaster struct {
	node    *Node
	channel string
}

// NewChannelBroadcaster returns a Broadcaster for channel over node.
func NewChannelBroadcaster(node *Node, channel string) *ChannelBroadcaster {
	return &ChannelBroadcaster{node: node, channel: channel}
}

// GetStatus broadcasts a liveness probe for the channel (original_source's
// broadcast_getstatus, spec.md §9). The request argument is accepted for
// interface symmetry with the Python original but is otherwise unused —
// a status probe carries no payload beyond the channel name.
func (b *ChannelBroadcaster) GetStatus(request string) error {
	return b.node.BroadcastJSON(MsgGetStatus, statusPayload{Channel: b.channel})
}

// AnnounceUnconfirmedBlock broadcasts a proposed block to the channel's peers.
func (b *ChannelBroadcaster) AnnounceUnconfirmedBlock(block *core.Block, channel string) error {
	return b.node.BroadcastJSON(MsgUnconfirmedBlock, unconfirmedBlockPayload{Channel: channel, Block: block})
}

// AnnounceConfirmedBlock broadcasts a confirmation notice, optionally
// carrying the full block (nil when peers are expected to already have it
// staged).
func (b *ChannelBroadcaster) AnnounceConfirmedBlock(blockHash string, channel string, block *core.Block) error {
	return b.node.BroadcastJSON(MsgConfirmedBlock, confirmedBlockPayload{Channel: channel, BlockHash: blockHash, Block: block})
}

// VoteUnconfirmedBlock broadcasts this node's vote on a candidate block.
func (b *ChannelBroadcaster) VoteUnconfirmedBlock(blockHash string, validated bool, channel string) error {
	return b.node.BroadcastJSON(MsgVote, votePayload{Channel: channel, BlockHash: blockHash, VoterID: b.node.SelfID(), Validated: validated})
}
