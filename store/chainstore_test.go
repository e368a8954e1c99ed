package store_test

import (
	"errors"
	"testing"

	"github.com/tolelom/loopcore/core"
	"github.com/tolelom/loopcore/internal/testutil"
	"github.com/tolelom/loopcore/store"
)

func TestInsertBlockAndLookups(t *testing.T) {
	cs := testutil.NewChainStore()

	tx := &core.Transaction{TxHash: "tx1", Data: []byte("x")}
	block := core.NewBlock(0, "", []*core.Transaction{tx})
	block.BlockHash = block.ComputeHash()

	results := map[string]*core.InvokeResult{
		"tx1": {TxHash: "tx1", Success: true, Data: []byte("ok")},
	}
	if err := cs.InsertBlock(block, results); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	got, err := cs.GetBlock(block.BlockHash)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if got.BlockHash != block.BlockHash {
		t.Fatalf("block hash mismatch: got %s want %s", got.BlockHash, block.BlockHash)
	}

	hash, err := cs.GetBlockHashByHeight(0)
	if err != nil {
		t.Fatalf("GetBlockHashByHeight: %v", err)
	}
	if hash != block.BlockHash {
		t.Fatalf("height index mismatch: got %s want %s", hash, block.BlockHash)
	}

	blockHash, err := cs.FindTxByHash("tx1")
	if err != nil {
		t.Fatalf("FindTxByHash: %v", err)
	}
	if blockHash != block.BlockHash {
		t.Fatalf("tx index mismatch: got %s want %s", blockHash, block.BlockHash)
	}

	res, err := cs.GetInvokeResult("tx1")
	if err != nil {
		t.Fatalf("GetInvokeResult: %v", err)
	}
	if !res.Success {
		t.Fatal("expected invoke result success=true")
	}

	height, ok, err := cs.GetLastHeight()
	if err != nil {
		t.Fatalf("GetLastHeight: %v", err)
	}
	if !ok || height != 0 {
		t.Fatalf("expected last height 0, got %d (ok=%v)", height, ok)
	}
}

func TestGetBlockNotFound(t *testing.T) {
	cs := testutil.NewChainStore()
	if _, err := cs.GetBlock("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMakePeerIDPersistsOnce(t *testing.T) {
	cs := testutil.NewChainStore()

	id1, err := cs.MakePeerID("default", "default")
	if err != nil {
		t.Fatalf("MakePeerID: %v", err)
	}
	id2, err := cs.MakePeerID("default", "default")
	if err != nil {
		t.Fatalf("MakePeerID (second call): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("peer id must not change across calls: %s != %s", id1, id2)
	}
}

func TestMakePeerIDRejectsNonDefaultChannel(t *testing.T) {
	cs := testutil.NewChainStore()
	if _, err := cs.MakePeerID("other", "default"); !errors.Is(err, store.ErrNotDefaultChannel) {
		t.Fatalf("expected ErrNotDefaultChannel, got %v", err)
	}
}
