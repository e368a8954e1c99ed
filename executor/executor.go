// Package executor implements the Executor collaborator: a method-
// dispatch table over a transaction's opaque JSON payload, adapted from
// the teacher's vm.Executor/vm.Registry pattern. The core never
// interprets a transaction's Data itself — this package is where that
// interpretation happens, entirely outside the consensus core's scope.
package executor

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/loopcore/core"
)

// Context is passed to every Handler.
type Context struct {
	Block *core.Block
	Tx    *core.Transaction
}

// Handler applies one method call and returns its result payload.
type Handler func(ctx *Context, params json.RawMessage) (json.RawMessage, error)

// Registry maps method names to Handlers. Thread-safe for concurrent
// registration, matching the teacher's vm.Registry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates method with h. Panics on duplicate registration.
func (r *Registry) Register(method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[method]; exists {
		panic(fmt.Sprintf("executor: handler already registered for method %q", method))
	}
	r.handlers[method] = h
}

func (r *Registry) lookup(method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// invokeRequest is the envelope every transaction's Data must decode to.
type invokeRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Executor dispatches transactions to a Registry and reports their
// outcome as a core.InvokeResult, implementing manager.Executor.
type Executor struct {
	registry *Registry
}

// New wraps registry as an Executor.
func New(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Invoke decodes tx.Data as {"method","params"}, dispatches it through
// the registry, and reports the outcome. A dispatch failure is recorded
// on the InvokeResult rather than returned as an error — only a
// programmer-level misuse (e.g. a nil tx) returns a Go error, matching
// the teacher's convention that application-level failures are data, not
// control flow.
func (e *Executor) Invoke(tx *core.Transaction, block *core.Block) (*core.InvokeResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("executor: nil transaction")
	}

	var req invokeRequest
	if err := json.Unmarshal(tx.Data, &req); err != nil {
		return &core.InvokeResult{TxHash: tx.TxHash, Success: false, Error: fmt.Sprintf("decode request: %v", err)}, nil
	}

	h, ok := e.registry.lookup(req.Method)
	if !ok {
		return &core.InvokeResult{TxHash: tx.TxHash, Success: false, Error: fmt.Sprintf("no handler for method %q", req.Method)}, nil
	}

	result, err := h(&Context{Block: block, Tx: tx}, req.Params)
	if err != nil {
		return &core.InvokeResult{TxHash: tx.TxHash, Success: false, Error: err.Error()}, nil
	}
	return &core.InvokeResult{TxHash: tx.TxHash, Success: true, Data: result}, nil
}
