package manager

import (
	"log"
	"time"

	"github.com/tolelom/loopcore/core"
)

// Run starts the channel's driver loop. It blocks until Stop is called.
// Tick dispatch: LEADER builds and proposes; PEER pops the unconfirmed
// queue and votes (spec.md §4.4).
func (bm *BlockManager) Run() error {
	bm.runningMu.Lock()
	if bm.running {
		bm.runningMu.Unlock()
		return nil
	}
	bm.running = true
	bm.stopCh = make(chan struct{})
	bm.doneCh = make(chan struct{})
	bm.runningMu.Unlock()
	defer close(bm.doneCh)

	sleep := time.Duration(bm.cfg.SleepSecondsInServiceLoop * float64(time.Second))
	if sleep <= 0 {
		sleep = 100 * time.Millisecond
	}

	for {
		select {
		case <-bm.stopCh:
			return nil
		default:
		}

		switch bm.currentRole() {
		case core.RoleLeader:
			bm.leaderTick()
		default:
			bm.peerTick()
		}

		if bm.unconfirmedQueue.Len() == 0 && bm.txQueue.Len() == 0 {
			time.Sleep(sleep)
		}
	}
}

// Stop halts the driver loop and waits for it to exit.
func (bm *BlockManager) Stop() {
	bm.runningMu.Lock()
	if !bm.running {
		bm.runningMu.Unlock()
		return
	}
	bm.running = false
	close(bm.stopCh)
	bm.runningMu.Unlock()

	<-bm.doneCh
	bm.timers.StopAll()
}

// leaderTick builds the next block from queued transactions (or a
// zero-tx vote block when the strategy piggybacks confirmation), invokes
// each transaction, stages it, registers it as a candidate, casts the
// leader's own yes vote, and broadcasts the proposal.
func (bm *BlockManager) leaderTick() {
	limit := bm.cfg.MaxTxPerBlock
	if limit <= 0 {
		limit = 500
	}
	txs := bm.txQueue.PopN(limit)
	if len(txs) == 0 && !bm.strategy.Piggyback() {
		return
	}

	tip := bm.chain.Tip()
	var prevHash string
	var height uint64
	if tip != nil {
		prevHash = tip.BlockHash
		height = tip.Header.Height + 1
	}

	var block *core.Block
	if len(txs) == 0 {
		block = core.NewVoteBlock(height, prevHash)
	} else {
		block = core.NewBlock(height, prevHash, txs)
	}

	invokeResults := make(map[string]*core.InvokeResult, len(txs))
	for _, tx := range txs {
		res, err := bm.executor.Invoke(tx, block)
		if err != nil {
			log.Printf("[manager] %s: invoke %s failed: %v", bm.cfg.ChannelName, tx.TxHash, err)
			continue
		}
		invokeResults[tx.TxHash] = res
	}

	block.BlockHash = block.ComputeHash()
	block.Signature = bm.authority.Sign([]byte(block.BlockHash))

	confirmed, reason := bm.chain.AddUnconfirmedBlock(block, invokeResults)
	if !confirmed {
		log.Printf("[manager] %s: leader could not stage own block at height %d: %s", bm.cfg.ChannelName, height, reason)
		return
	}
	bm.chain.IncreaseMadeBlockCount()
	bm.candidates.Register(block)
	bm.candidates.Vote(block.BlockHash, bm.peers.SelfID(), core.VoteYes)

	if err := bm.broadcaster.AnnounceUnconfirmedBlock(block, bm.cfg.ChannelName); err != nil {
		log.Printf("[manager] %s: announce unconfirmed block: %v", bm.cfg.ChannelName, err)
	}

	if bm.strategy.SelfConfirm() {
		if err := bm.confirmOrSync(block.BlockHash); err != nil {
			log.Printf("[manager] %s: self-confirm failed: %v", bm.cfg.ChannelName, err)
		}
	}
}

// peerTick pops the next proposal off the unconfirmed queue. A vote-only
// block (core.Block.IsVoteOnly) carries no content to validate or vote
// on — its confirmation signal was already handled by the piggyback
// preprocessing in AddUnconfirmedBlock — so it is dropped here without
// staging or broadcasting anything. Otherwise the block is validated,
// staged, voted on, and a timeout is armed if the strategy requires one.
func (bm *BlockManager) peerTick() {
	block, ok := bm.unconfirmedQueue.Pop()
	if !ok {
		return
	}

	if block.IsVoteOnly() {
		return
	}

	validated := true
	var invokeResults map[string]*core.InvokeResult
	if err := block.VerifyIntegrity(); err != nil {
		log.Printf("[manager] %s: block %s failed integrity check: %v", bm.cfg.ChannelName, block.BlockHash, err)
		validated = false
	} else {
		invokeResults = make(map[string]*core.InvokeResult, len(block.ConfirmedTransactionList))
		for _, tx := range block.ConfirmedTransactionList {
			if err := tx.VerifyHash(); err != nil {
				validated = false
				break
			}
			res, err := bm.executor.Invoke(tx, block)
			if err != nil {
				log.Printf("[manager] %s: invoke %s failed during validation: %v", bm.cfg.ChannelName, tx.TxHash, err)
				validated = false
				break
			}
			invokeResults[tx.TxHash] = res
		}
	}

	_, reason := bm.chain.AddUnconfirmedBlock(block, invokeResults)
	if reason == "block_height" {
		log.Printf("[manager] %s: block %s height mismatch, triggering height sync", bm.cfg.ChannelName, block.BlockHash)
		if err := bm.syncer.Sync(bm.chain.Height()); err != nil {
			log.Printf("[manager] %s: height sync failed: %v", bm.cfg.ChannelName, err)
		}
	}

	bm.candidates.Register(block)
	vote := core.VoteNo
	if validated {
		vote = core.VoteYes
	}
	bm.candidates.Vote(block.BlockHash, bm.peers.SelfID(), vote)

	if err := bm.broadcaster.VoteUnconfirmedBlock(block.BlockHash, validated, bm.cfg.ChannelName); err != nil {
		log.Printf("[manager] %s: vote broadcast: %v", bm.cfg.ChannelName, err)
	}

	if validated && bm.strategy.ArmsVoteTimer() {
		bm.timers.Start(block.BlockHash, bm.cfg.TimeoutForPeerVote, func() {
			log.Printf("[manager] %s: vote timeout on block %s, re-checking quorum", bm.cfg.ChannelName, block.BlockHash)
			bm.tryConfirmFromTally(block.BlockHash)
		})
	}

	if validated {
		bm.tryConfirmFromTally(block.BlockHash)
	}
}

// OnVote records a peer's vote on a candidate block and confirms it once
// the installed strategy's quorum is reached.
func (bm *BlockManager) OnVote(blockHash, voterID string, approve bool) {
	vote := core.VoteNo
	if approve {
		vote = core.VoteYes
	}
	if !bm.candidates.Vote(blockHash, voterID, vote) {
		return
	}
	bm.tryConfirmFromTally(blockHash)
}

func (bm *BlockManager) tryConfirmFromTally(blockHash string) {
	t, ok := bm.candidates.Get(blockHash)
	if !ok {
		return
	}
	if !bm.strategy.Quorum(t.Yes, t.No, bm.peers.PeerCount()) {
		return
	}
	if err := bm.confirmOrSync(blockHash); err != nil {
		log.Printf("[manager] %s: confirm %s after quorum: %v", bm.cfg.ChannelName, blockHash, err)
	}
}
