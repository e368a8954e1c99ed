package rpc_test

import (
	"encoding/json"
	"testing"

	"github.com/tolelom/loopcore/core"
	"github.com/tolelom/loopcore/rpc"
)

type fakeManager struct {
	txs    map[string]*core.Transaction
	height uint64
}

func newFakeManager() *fakeManager {
	return &fakeManager{txs: make(map[string]*core.Transaction)}
}

func (f *fakeManager) AddTx(tx *core.Transaction) error {
	f.txs[tx.TxHash] = tx
	return nil
}
func (f *fakeManager) GetTotalTx() uint64 { return uint64(len(f.txs)) }
func (f *fakeManager) GetTx(txHash string) (*core.Transaction, error) {
	tx, ok := f.txs[txHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	return tx, nil
}
func (f *fakeManager) GetInvokeResult(txHash string) (*core.InvokeResult, error) {
	return &core.InvokeResult{TxHash: txHash, Success: true}, nil
}
func (f *fakeManager) Height() uint64 { return f.height }

func TestDispatchGetPeerID(t *testing.T) {
	h := rpc.NewHandler(map[string]rpc.Manager{"default": newFakeManager()}, "peer-123")
	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "get_peer_id"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	h := rpc.NewHandler(map[string]rpc.Manager{"default": newFakeManager()}, "peer-123")
	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "nonexistent"})
	if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestDispatchUnknownChannel(t *testing.T) {
	h := rpc.NewHandler(map[string]rpc.Manager{"default": newFakeManager()}, "peer-123")
	params, _ := json.Marshal(map[string]string{"channel": "missing"})
	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "get_height", Params: params})
	if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidParams {
		t.Fatalf("expected invalid-params error for an unknown channel, got %+v", resp.Error)
	}
}

func TestDispatchAddTxAndGetTx(t *testing.T) {
	h := rpc.NewHandler(map[string]rpc.Manager{"default": newFakeManager()}, "peer-123")

	tx := core.Transaction{TxHash: "abc", Data: []byte("x")}
	addParams, _ := json.Marshal(map[string]any{"channel": "default", "tx": tx})
	addResp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "add_tx", Params: addParams})
	if addResp.Error != nil {
		t.Fatalf("add_tx failed: %v", addResp.Error)
	}

	getParams, _ := json.Marshal(map[string]string{"channel": "default", "tx_hash": "abc"})
	getResp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 2, Method: "get_tx", Params: getParams})
	if getResp.Error != nil {
		t.Fatalf("get_tx failed: %v", getResp.Error)
	}
}

func TestDispatchGetTxNotFound(t *testing.T) {
	h := rpc.NewHandler(map[string]rpc.Manager{"default": newFakeManager()}, "peer-123")
	getParams, _ := json.Marshal(map[string]string{"channel": "default", "tx_hash": "missing"})
	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "get_tx", Params: getParams})
	if resp.Error == nil {
		t.Fatal("expected an error looking up a missing transaction")
	}
}
