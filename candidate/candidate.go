// Package candidate implements CandidateBlocks: the registry that tallies
// votes on proposed blocks until a consensus.Strategy's quorum policy
// declares a winner (spec.md §4.3).
package candidate

import (
	"sync"

	"github.com/tolelom/loopcore/core"
)

// Tally holds one candidate block's accumulated votes.
type Tally struct {
	Block *core.Block
	Yes   int
	No    int
	// Voters records each peer id's most recent opinion, so a re-vote
	// (retry, duplicate gossip) updates the stored opinion — and the
	// Yes/No counters — instead of being silently dropped.
	Voters map[string]core.Vote
}

// CandidateBlocks tracks every block currently awaiting quorum, keyed by
// block hash. A block is evicted once its height is confirmed or
// superseded (EvictBelow).
type CandidateBlocks struct {
	mu    sync.RWMutex
	byHash map[string]*Tally
}

// New returns an empty CandidateBlocks registry.
func New() *CandidateBlocks {
	return &CandidateBlocks{byHash: make(map[string]*Tally)}
}

// Register adds block as a candidate if not already present. Registering
// twice is a no-op — it does not reset an in-progress tally.
func (c *CandidateBlocks) Register(block *core.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byHash[block.BlockHash]; ok {
		return
	}
	c.byHash[block.BlockHash] = &Tally{Block: block, Voters: make(map[string]core.Vote)}
}

// Vote records voterID's vote on blockHash. A second vote from the same
// voter is last-write-wins: if the opinion changed, the old bucket is
// decremented and the new one incremented, leaving the tally's magnitude
// (Yes+No) unchanged. Returns false if blockHash is not a registered
// candidate.
func (c *CandidateBlocks) Vote(blockHash, voterID string, vote core.Vote) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.byHash[blockHash]
	if !ok {
		return false
	}
	if prior, voted := t.Voters[voterID]; voted {
		if prior == vote {
			return true
		}
		if prior == core.VoteYes {
			t.Yes--
		} else {
			t.No--
		}
	}
	t.Voters[voterID] = vote
	if vote == core.VoteYes {
		t.Yes++
	} else {
		t.No++
	}
	return true
}

// Get returns the current tally for blockHash.
func (c *CandidateBlocks) Get(blockHash string) (*Tally, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byHash[blockHash]
	return t, ok
}

// Evict removes a single candidate, called once it has been confirmed or
// definitively rejected.
func (c *CandidateBlocks) Evict(blockHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byHash, blockHash)
}

// EvictBelow drops every candidate at or below height, called after a
// block at that height is confirmed so stale competing proposals don't
// linger in the registry.
func (c *CandidateBlocks) EvictBelow(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, t := range c.byHash {
		if t.Block.Header.Height <= height {
			delete(c.byHash, hash)
		}
	}
}

// Len returns the number of candidates currently tracked.
func (c *CandidateBlocks) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}
