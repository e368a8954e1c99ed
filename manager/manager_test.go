package manager_test

import (
	"sync"
	"testing"
	"time"

	"github.com/tolelom/loopcore/chain"
	"github.com/tolelom/loopcore/consensus"
	"github.com/tolelom/loopcore/core"
	"github.com/tolelom/loopcore/crypto"
	"github.com/tolelom/loopcore/internal/testutil"
	"github.com/tolelom/loopcore/manager"
)

type fakeBroadcaster struct {
	mu           sync.Mutex
	unconfirmed  []*core.Block
	confirmed    []string
	votes        []string
}

func (f *fakeBroadcaster) GetStatus(string) error { return nil }
func (f *fakeBroadcaster) AnnounceUnconfirmedBlock(block *core.Block, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unconfirmed = append(f.unconfirmed, block)
	return nil
}
func (f *fakeBroadcaster) AnnounceConfirmedBlock(blockHash, _ string, _ *core.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, blockHash)
	return nil
}
func (f *fakeBroadcaster) VoteUnconfirmedBlock(blockHash string, _ bool, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, blockHash)
	return nil
}

type fakePeers struct {
	count int
	id    string
}

func (f *fakePeers) PeerCount() int  { return f.count }
func (f *fakePeers) SelfID() string  { return f.id }

type fakeAuthority struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return &fakeAuthority{priv: priv, pub: pub}
}
func (a *fakeAuthority) Sign(data []byte) string { return crypto.Sign(a.priv, data) }
func (a *fakeAuthority) Verify(pub crypto.PublicKey, data []byte, sig string) error {
	return crypto.Verify(pub, data, sig)
}
func (a *fakeAuthority) PublicKey() crypto.PublicKey { return a.pub }

type fakeExecutor struct{}

func (fakeExecutor) Invoke(tx *core.Transaction, _ *core.Block) (*core.InvokeResult, error) {
	return &core.InvokeResult{TxHash: tx.TxHash, Success: true}, nil
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSyncer) Sync(uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func newTestManager(t *testing.T, strategy consensus.Strategy, peerCount int) (*manager.BlockManager, *fakeBroadcaster, *chain.BlockChain) {
	t.Helper()
	cs := testutil.NewChainStore()
	bc := chain.New(cs)
	genesis := core.NewBlock(0, "", nil)
	genesis.BlockHash = genesis.ComputeHash()
	if err := bc.AddBlock(genesis, nil); err != nil {
		t.Fatalf("AddBlock genesis: %v", err)
	}

	bcast := &fakeBroadcaster{}
	cfg := manager.Config{
		ChannelName:               "test-channel",
		SleepSecondsInServiceLoop: 0.01,
		TimeoutForPeerVote:        50 * time.Millisecond,
		MaxTxPerBlock:             10,
	}
	bm := manager.New(cfg, bc, strategy, bcast, &fakePeers{count: peerCount, id: "self"}, newFakeAuthority(t), fakeExecutor{}, &fakeSyncer{})
	return bm, bcast, bc
}

func TestLeaderSelfConfirmsUnderNoneStrategy(t *testing.T) {
	bm, bcast, bc := newTestManager(t, consensus.None{}, 0)
	bm.SetPeerType(core.RoleLeader)

	tx, err := core.NewTransaction([]byte("payload"))
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	tx.TxHash = tx.ComputeHash()
	if err := bm.AddTx(tx); err != nil {
		t.Fatalf("AddTx: %v", err)
	}

	go bm.Run()
	defer bm.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bc.Height() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if bc.Height() != 1 {
		t.Fatalf("expected chain height 1 after self-confirm, got %d", bc.Height())
	}
	if len(bcast.confirmed) == 0 {
		t.Fatal("expected a confirmed-block announcement")
	}
}

func TestPeerTickDropsVoteOnlyBlockWithoutVoting(t *testing.T) {
	bm, bcast, bc := newTestManager(t, consensus.Siever{}, 3)
	bm.SetPeerType(core.RolePeer)

	tip := bc.Tip()
	// A staged proposal already occupies the unconfirmed slot; a
	// subsequent vote-only block must not clobber it.
	existing := core.NewBlock(1, tip.BlockHash, nil)
	existing.BlockHash = existing.ComputeHash()
	if confirmed, reason := bc.AddUnconfirmedBlock(existing, nil); !confirmed {
		t.Fatalf("expected existing proposal to stage, got reason %q", reason)
	}

	voteBlock := core.NewVoteBlock(2, existing.BlockHash)
	voteBlock.BlockHash = voteBlock.ComputeHash()
	bm.AddUnconfirmedBlock(voteBlock)

	go bm.Run()
	defer bm.Stop()

	time.Sleep(100 * time.Millisecond)

	bcast.mu.Lock()
	votes := len(bcast.votes)
	bcast.mu.Unlock()
	if votes != 0 {
		t.Fatalf("expected no vote broadcast for a vote-only block, got %d", votes)
	}
}

func TestAddTxRejectsBadHash(t *testing.T) {
	bm, _, _ := newTestManager(t, consensus.None{}, 0)
	tx := &core.Transaction{TxHash: "wrong", Data: []byte("x")}
	if err := bm.AddTx(tx); err == nil {
		t.Fatal("expected AddTx to reject a transaction with a mismatched hash")
	}
}

func TestOnVoteConfirmsAtQuorum(t *testing.T) {
	bm, bcast, bc := newTestManager(t, consensus.Default{}, 3)
	bm.SetPeerType(core.RolePeer)

	tx, err := core.NewTransaction([]byte("payload"))
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	tx.TxHash = tx.ComputeHash()

	tip := bc.Tip()
	proposal := core.NewBlock(1, tip.BlockHash, []*core.Transaction{tx})
	proposal.BlockHash = proposal.ComputeHash()
	bm.AddUnconfirmedBlock(proposal)

	go bm.Run()
	defer bm.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(bcast.votes) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(bcast.votes) == 0 {
		t.Fatal("expected the peer to cast a vote on the staged proposal")
	}

	bm.OnVote(proposal.BlockHash, "peer-b", true)
	bm.OnVote(proposal.BlockHash, "peer-c", true)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bc.Height() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if bc.Height() != 1 {
		t.Fatalf("expected quorum to confirm the block, chain height is %d", bc.Height())
	}
}
