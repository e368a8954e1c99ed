// Package chain implements the BlockChain component: the in-memory chain
// head plus a single unconfirmed-proposal slot, backed by a store.ChainStore
// for durability (spec.md §4.2).
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tolelom/loopcore/core"
	"github.com/tolelom/loopcore/store"
)

// ErrChainCorrupt is returned by Rebuild when a height is missing or a
// stored block's parent hash disagrees with the previous height's hash.
// Fatal per spec.md §7.
var ErrChainCorrupt = errors.New("chain: corrupt chain on rebuild")

// ErrChainDiverged is returned by AddBlock when the height/parent-hash
// constraints are violated. Fatal — indicates a programmer bug upstream.
var ErrChainDiverged = errors.New("chain: block diverges from chain tail")

// ErrBlockchainError is returned by ConfirmBlock when no staged
// unconfirmed block matches the given hash. Recoverable: the caller must
// react by triggering height-sync (spec.md §7).
var ErrBlockchainError = errors.New("chain: no staged block matches hash")

// stagedBlock is the singleton "latest proposal" slot: the unconfirmed
// block together with the invoke results computed for it (by the leader at
// mint time, or by a peer during validation), so that a later ConfirmBlock
// — possibly triggered by a piggyback signal on a different block — can
// still durably record them.
type stagedBlock struct {
	block         *core.Block
	invokeResults map[string]*core.InvokeResult
}

// BlockChain is the in-memory chain head plus unconfirmed staging, backed
// by a ChainStore.
type BlockChain struct {
	mu             sync.RWMutex
	store          *store.ChainStore
	genesis        *core.Block
	tip            *core.Block
	unconfirmed    *stagedBlock
	totalTx        uint64
	madeBlockCount uint64
}

// New returns a BlockChain backed by st. Call Rebuild to load any existing
// chain from the store before use.
func New(st *store.ChainStore) *BlockChain {
	return &BlockChain{store: st}
}

// Rebuild walks H:0..H:last_height, re-hydrating the in-memory genesis/tip
// pointers and the running transaction count. Returns the total
// transaction count across all confirmed blocks. Fails with ErrChainCorrupt
// if a height is missing or a stored block's parent hash disagrees with
// the previous height's hash.
func (bc *BlockChain) Rebuild() (uint64, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	lastHeight, ok, err := bc.store.GetLastHeight()
	if err != nil {
		return 0, fmt.Errorf("chain: read last height: %w", err)
	}
	if !ok {
		return 0, nil // fresh chain
	}

	var totalTx uint64
	var prev *core.Block
	for h := uint64(0); h <= lastHeight; h++ {
		hash, err := bc.store.GetBlockHashByHeight(h)
		if err != nil {
			return 0, fmt.Errorf("%w: missing height index %d: %v", ErrChainCorrupt, h, err)
		}
		block, err := bc.store.GetBlock(hash)
		if err != nil {
			return 0, fmt.Errorf("%w: missing block %s at height %d: %v", ErrChainCorrupt, hash, h, err)
		}
		if prev != nil && block.Header.PrevBlockHash != prev.BlockHash {
			return 0, fmt.Errorf("%w: height %d parent hash mismatch", ErrChainCorrupt, h)
		}
		if h == 0 {
			bc.genesis = block
		}
		totalTx += uint64(len(block.ConfirmedTransactionList))
		prev = block
	}
	bc.tip = prev
	bc.totalTx = totalTx
	return totalTx, nil
}

// Tip returns the current confirmed chain tail, or nil for a fresh chain.
func (bc *BlockChain) Tip() *core.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height returns the tip's height, or 0 if the chain is empty (matching
// genesis height 0 — callers distinguish the two cases via Tip() == nil).
func (bc *BlockChain) Height() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return 0
	}
	return bc.tip.Header.Height
}

// GetBlockByHeight returns the confirmed block at height, for serving
// peer height-sync requests.
func (bc *BlockChain) GetBlockByHeight(height uint64) (*core.Block, error) {
	hash, err := bc.store.GetBlockHashByHeight(height)
	if err != nil {
		return nil, err
	}
	return bc.store.GetBlock(hash)
}

// TotalTx returns the running transaction count across all confirmed
// blocks.
func (bc *BlockChain) TotalTx() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.totalTx
}

// AddBlock appends an already-confirmed block (used for genesis and for
// blocks pulled in via height-sync). Constraints: block.Height ==
// last_height+1 (or 0 for a fresh chain) and block.PrevBlockHash ==
// last.BlockHash. Fails with ErrChainDiverged otherwise.
func (bc *BlockChain) AddBlock(block *core.Block, invokeResults map[string]*core.InvokeResult) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.tip == nil {
		if block.Header.Height != 0 {
			return fmt.Errorf("%w: first block height %d != 0", ErrChainDiverged, block.Header.Height)
		}
	} else {
		if block.Header.Height != bc.tip.Header.Height+1 {
			return fmt.Errorf("%w: height %d does not follow tip %d", ErrChainDiverged, block.Header.Height, bc.tip.Header.Height)
		}
		if block.Header.PrevBlockHash != bc.tip.BlockHash {
			return fmt.Errorf("%w: prev_block_hash mismatch", ErrChainDiverged)
		}
	}

	if err := bc.store.InsertBlock(block, invokeResults); err != nil {
		return fmt.Errorf("chain: insert block: %w", err)
	}
	if block.Header.Height == 0 {
		bc.genesis = block
	}
	bc.tip = block
	bc.totalTx += uint64(len(block.ConfirmedTransactionList))
	return nil
}

// AddUnconfirmedBlock stages a proposal into the singleton unconfirmed
// slot, replacing any prior occupant. Returns (true, "ok") iff the parent
// matches the current tail and the height is contiguous; (false,
// "block_height") if height != last+1; (false, "hash") if the parent
// mismatches at the correct height.
func (bc *BlockChain) AddUnconfirmedBlock(block *core.Block, invokeResults map[string]*core.InvokeResult) (confirmed bool, reason string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	var wantHeight uint64
	if bc.tip != nil {
		wantHeight = bc.tip.Header.Height + 1
	}
	if block.Header.Height != wantHeight {
		return false, "block_height"
	}
	if bc.tip != nil && block.Header.PrevBlockHash != bc.tip.BlockHash {
		return false, "hash"
	}

	bc.unconfirmed = &stagedBlock{block: block, invokeResults: invokeResults}
	return true, "ok"
}

// ConfirmBlock promotes the staged unconfirmed block whose hash matches
// blockHash to confirmed, returning the number of transactions it added.
// Fails with ErrBlockchainError if no staged block matches; callers must
// react by triggering height-sync (spec.md §7).
func (bc *BlockChain) ConfirmBlock(blockHash string) (uint64, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.unconfirmed == nil || bc.unconfirmed.block.BlockHash != blockHash {
		return 0, ErrBlockchainError
	}
	staged := bc.unconfirmed

	if err := bc.store.InsertBlock(staged.block, staged.invokeResults); err != nil {
		return 0, fmt.Errorf("chain: insert confirmed block: %w", err)
	}
	if staged.block.Header.Height == 0 {
		bc.genesis = staged.block
	}
	bc.tip = staged.block
	bc.unconfirmed = nil
	added := uint64(len(staged.block.ConfirmedTransactionList))
	bc.totalTx += added
	return added, nil
}

// FindTxByHash looks up a confirmed transaction by hash.
func (bc *BlockChain) FindTxByHash(txHash string) (*core.Transaction, error) {
	blockHash, err := bc.store.FindTxByHash(txHash)
	if err != nil {
		return nil, err
	}
	block, err := bc.store.GetBlock(blockHash)
	if err != nil {
		return nil, err
	}
	for _, tx := range block.ConfirmedTransactionList {
		if tx.TxHash == txHash {
			return tx, nil
		}
	}
	return nil, core.ErrNotFound
}

// FindInvokeResultByTxHash looks up the invoke result recorded for txHash.
func (bc *BlockChain) FindInvokeResultByTxHash(txHash string) (*core.InvokeResult, error) {
	return bc.store.GetInvokeResult(txHash)
}

// IncreaseMadeBlockCount increments the leader-only counter used by
// rotation heuristics outside this package's scope (spec.md §4.2).
func (bc *BlockChain) IncreaseMadeBlockCount() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.madeBlockCount++
}

// MadeBlockCount returns the counter incremented by IncreaseMadeBlockCount.
func (bc *BlockChain) MadeBlockCount() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.madeBlockCount
}
