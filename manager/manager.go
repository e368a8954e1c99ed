// Package manager implements BlockManager: the per-channel driver loop
// that multiplexes client transactions, peer-proposed blocks, timers and
// role-change commands, dispatching to the installed consensus.Strategy
// (spec.md §4.4). BlockManager depends only on the interfaces declared
// here — Broadcaster, PeerRegistry, Authority, Executor, PeerHeightSyncer
// — never on their concrete implementations, so the core stays testable
// without a network.
package manager

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tolelom/loopcore/candidate"
	"github.com/tolelom/loopcore/chain"
	"github.com/tolelom/loopcore/consensus"
	"github.com/tolelom/loopcore/core"
	"github.com/tolelom/loopcore/crypto"
	"github.com/tolelom/loopcore/timer"
)

// Broadcaster is the outbound peer-facing surface (spec.md §6).
type Broadcaster interface {
	GetStatus(request string) error
	AnnounceUnconfirmedBlock(block *core.Block, channel string) error
	AnnounceConfirmedBlock(blockHash string, channel string, block *core.Block) error
	VoteUnconfirmedBlock(blockHash string, validated bool, channel string) error
}

// PeerRegistry reports the channel's current peer set.
type PeerRegistry interface {
	PeerCount() int
	SelfID() string
}

// Authority signs and verifies blocks/transactions on the node's behalf.
type Authority interface {
	Sign(data []byte) string
	Verify(pub crypto.PublicKey, data []byte, sig string) error
	PublicKey() crypto.PublicKey
}

// Executor applies a transaction's opaque payload and reports its result.
// The core never interprets Data itself (spec.md §1).
type Executor interface {
	Invoke(tx *core.Transaction, block *core.Block) (*core.InvokeResult, error)
}

// PeerHeightSyncer recovers from height desync by fetching and applying
// missing blocks up to the network's current tip.
type PeerHeightSyncer interface {
	Sync(fromHeight uint64) error
}

// ErrNotRunning reports that the block manager is not running. No
// BlockManager method returns it; inbound calls made after Stop are still
// accepted.
var ErrNotRunning = errors.New("manager: block manager is not running")

// Config bundles the tunables BlockManager needs from package config,
// kept narrow so this package does not import config directly.
type Config struct {
	ChannelName               string
	SleepSecondsInServiceLoop float64
	TimeoutForPeerVote        time.Duration
	MaxTxPerBlock             int
}

// BlockManager is the per-channel driver loop.
type BlockManager struct {
	cfg        Config
	chain      *chain.BlockChain
	candidates *candidate.CandidateBlocks
	timers     *timer.TimerService
	strategy   consensus.Strategy

	broadcaster Broadcaster
	peers       PeerRegistry
	authority   Authority
	executor    Executor
	syncer      PeerHeightSyncer

	roleMu sync.RWMutex
	role   core.Role

	txQueue          *fifo[*core.Transaction]
	unconfirmedQueue *fifo[*core.Block]

	runningMu sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New builds a BlockManager. Call Rebuild-equivalent (bc.Rebuild) on the
// supplied chain before Run if resuming an existing store.
func New(
	cfg Config,
	bc *chain.BlockChain,
	strategy consensus.Strategy,
	broadcaster Broadcaster,
	peers PeerRegistry,
	authority Authority,
	executor Executor,
	syncer PeerHeightSyncer,
) *BlockManager {
	return &BlockManager{
		cfg:              cfg,
		chain:            bc,
		candidates:       candidate.New(),
		timers:           timer.New(),
		strategy:         strategy,
		broadcaster:      broadcaster,
		peers:            peers,
		authority:        authority,
		executor:         executor,
		syncer:           syncer,
		role:             core.RolePeer,
		txQueue:          newFIFO[*core.Transaction](),
		unconfirmedQueue: newFIFO[*core.Block](),
	}
}

// SetPeerType switches the active role. Safe to call concurrently with
// Run: the new role takes effect starting with the next tick (spec.md §5).
func (bm *BlockManager) SetPeerType(role core.Role) {
	bm.roleMu.Lock()
	defer bm.roleMu.Unlock()
	if bm.role == role {
		return
	}
	log.Printf("[manager] %s: role change %s -> %s", bm.cfg.ChannelName, bm.role, role)
	bm.role = role
	if role == core.RolePeer {
		bm.timers.StopAll()
	}
}

func (bm *BlockManager) currentRole() core.Role {
	bm.roleMu.RLock()
	defer bm.roleMu.RUnlock()
	return bm.role
}

// AddTx validates tx's content hash and enqueues it for the next block
// this channel's leader builds.
func (bm *BlockManager) AddTx(tx *core.Transaction) error {
	if err := tx.VerifyHash(); err != nil {
		return fmt.Errorf("manager: reject tx %s: %w", tx.TxHash, err)
	}
	bm.txQueue.Push(tx)
	return nil
}

// AddTxUnloaded enqueues tx without re-verifying its hash, for transactions
// already validated upstream (e.g. replayed from a synced block).
func (bm *BlockManager) AddTxUnloaded(tx *core.Transaction) {
	bm.txQueue.Push(tx)
}

// AddUnconfirmedBlock implements the piggyback-confirmation preprocessing
// from spec.md §4.4 before queueing block for the peer tick to validate
// and vote on. Confirmation failures here are recoverable: they trigger
// height-sync and are logged, never returned to the caller as fatal.
func (bm *BlockManager) AddUnconfirmedBlock(block *core.Block) {
	if bm.strategy.Piggyback() {
		confirmHash := ""
		if block.Header.PrevBlockConfirm != nil && *block.Header.PrevBlockConfirm {
			confirmHash = block.Header.PrevBlockHash
		} else if block.Header.BlockType == core.BlockPeerList {
			confirmHash = block.BlockHash
		}
		if confirmHash != "" {
			if _, ok := bm.strategy.(consensus.LFT); ok {
				bm.timers.Stop(confirmHash)
			}
			bm.confirmOrSync(confirmHash)
		}
	}
	bm.unconfirmedQueue.Push(block)
}

// ConfirmBlock promotes the staged unconfirmed block matching blockHash.
// On ErrBlockchainError (no staged match) it triggers height-sync and
// returns the error to the caller, who logs and swallows it (spec.md §7).
func (bm *BlockManager) ConfirmBlock(blockHash string) error {
	return bm.confirmOrSync(blockHash)
}

func (bm *BlockManager) confirmOrSync(blockHash string) error {
	_, err := bm.chain.ConfirmBlock(blockHash)
	if err != nil {
		if errors.Is(err, chain.ErrBlockchainError) {
			log.Printf("[manager] %s: confirm %s failed, triggering height sync: %v", bm.cfg.ChannelName, blockHash, err)
			if syncErr := bm.syncer.Sync(bm.chain.Height()); syncErr != nil {
				log.Printf("[manager] %s: height sync failed: %v", bm.cfg.ChannelName, syncErr)
			}
		}
		return err
	}
	bm.candidates.EvictBelow(bm.chain.Height())
	if err := bm.broadcaster.AnnounceConfirmedBlock(blockHash, bm.cfg.ChannelName, nil); err != nil {
		log.Printf("[manager] %s: announce confirmed block: %v", bm.cfg.ChannelName, err)
	}
	return nil
}

// GetTotalTx returns the running confirmed transaction count.
func (bm *BlockManager) GetTotalTx() uint64 { return bm.chain.TotalTx() }

// GetTx looks up a confirmed transaction by hash.
func (bm *BlockManager) GetTx(txHash string) (*core.Transaction, error) {
	return bm.chain.FindTxByHash(txHash)
}

// GetInvokeResult looks up a confirmed transaction's invoke result.
func (bm *BlockManager) GetInvokeResult(txHash string) (*core.InvokeResult, error) {
	return bm.chain.FindInvokeResultByTxHash(txHash)
}

// BroadcastStatus asks the Broadcaster to announce liveness to the
// channel's peers (original_source's broadcast_getstatus, spec.md §9).
func (bm *BlockManager) BroadcastStatus() {
	if err := bm.broadcaster.GetStatus(bm.cfg.ChannelName); err != nil {
		log.Printf("[manager] %s: broadcast status: %v", bm.cfg.ChannelName, err)
	}
}

// Height returns the chain's current confirmed height.
func (bm *BlockManager) Height() uint64 { return bm.chain.Height() }
