// Package consensus implements the pluggable quorum and confirmation
// policies selected by CONSENSUS_ALGORITHM (spec.md §4.4): none, default,
// siever, and lft. A Strategy answers the narrow set of policy questions
// manager.BlockManager needs; it does not own any block-building or
// networking logic itself.
package consensus

import "fmt"

// Strategy is the consensus policy in effect for a channel.
type Strategy interface {
	// Name identifies the strategy, matching config's ConsensusAlgorithm
	// value.
	Name() string

	// Quorum reports whether yes/no votes out of peerCount reach this
	// strategy's confirmation threshold.
	Quorum(yes, no, peerCount int) bool

	// SelfConfirm reports whether a leader's own proposal confirms
	// immediately, without waiting on peer votes.
	SelfConfirm() bool

	// Piggyback reports whether the arrival of a block carrying
	// PrevBlockConfirm should confirm its predecessor (and a peer_list
	// block should confirm itself) before the new block is queued.
	Piggyback() bool

	// ArmsVoteTimer reports whether a peer should arm a per-block timeout
	// after voting on a candidate; on expiry the tally is checked against
	// the quorum once more.
	ArmsVoteTimer() bool
}

// New returns the Strategy named by algorithm (one of "none", "default",
// "siever", "lft"), matching config.ConsensusAlgorithm.
func New(algorithm string) (Strategy, error) {
	switch algorithm {
	case "none":
		return None{}, nil
	case "default":
		return Default{}, nil
	case "siever":
		return Siever{}, nil
	case "lft":
		return LFT{}, nil
	default:
		return nil, fmt.Errorf("consensus: unknown algorithm %q", algorithm)
	}
}

// None is the single-node strategy: a leader's block self-confirms, no
// peer voting ever happens.
type None struct{}

func (None) Name() string                        { return "none" }
func (None) Quorum(yes, no, peerCount int) bool   { return true }
func (None) SelfConfirm() bool                    { return true }
func (None) Piggyback() bool                      { return false }
func (None) ArmsVoteTimer() bool                   { return false }

// Default requires a strict majority of peers to vote yes.
type Default struct{}

func (Default) Name() string { return "default" }
func (Default) Quorum(yes, no, peerCount int) bool {
	return yes*2 > peerCount
}
func (Default) SelfConfirm() bool    { return false }
func (Default) Piggyback() bool      { return false }
func (Default) ArmsVoteTimer() bool  { return false }

// Siever is Default's majority quorum plus piggyback confirmation: a
// block carrying PrevBlockConfirm confirms its predecessor on arrival (a
// peer_list block confirms itself), without waiting for that predecessor's
// own vote round to finish gathering stragglers.
type Siever struct{}

func (Siever) Name() string { return "siever" }
func (Siever) Quorum(yes, no, peerCount int) bool {
	return yes*2 > peerCount
}
func (Siever) SelfConfirm() bool   { return false }
func (Siever) Piggyback() bool     { return true }
func (Siever) ArmsVoteTimer() bool { return false }

// LFT requires a 2/3 supermajority (Byzantine fault-tolerant quorum),
// carries the same piggyback confirmation as Siever, and arms a
// per-block vote timeout after which a peer re-checks the tally against
// the quorum.
type LFT struct{}

func (LFT) Name() string { return "lft" }
func (LFT) Quorum(yes, no, peerCount int) bool {
	return yes*3 >= peerCount*2
}
func (LFT) SelfConfirm() bool   { return false }
func (LFT) Piggyback() bool     { return true }
func (LFT) ArmsVoteTimer() bool { return true }
