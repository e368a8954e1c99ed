package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/loopcore/core"
)

// Manager is the subset of manager.BlockManager's inbound API the JSON-RPC
// surface exposes for one channel.
type Manager interface {
	AddTx(tx *core.Transaction) error
	GetTotalTx() uint64
	GetTx(txHash string) (*core.Transaction, error)
	GetInvokeResult(txHash string) (*core.InvokeResult, error)
	Height() uint64
}

// Handler dispatches JSON-RPC 2.0 requests across every channel this node
// runs, matching the teacher's single-Handler-per-node convention.
type Handler struct {
	channels map[string]Manager
	peerID   string
}

// NewHandler creates a Handler serving the given channel name → Manager
// mapping, reporting peerID on the get_peer_id method.
func NewHandler(channels map[string]Manager, peerID string) *Handler {
	return &Handler{channels: channels, peerID: peerID}
}

// Dispatch routes req to the matching method, returning a well-formed
// JSON-RPC response in every case (never panics on malformed input).
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "get_peer_id":
		return okResponse(req.ID, map[string]string{"peer_id": h.peerID})
	case "add_tx":
		return h.addTx(req)
	case "get_total_tx":
		return h.getTotalTx(req)
	case "get_tx":
		return h.getTx(req)
	case "get_invoke_result":
		return h.getInvokeResult(req)
	case "get_height":
		return h.getHeight(req)
	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

type channelParams struct {
	Channel string `json:"channel"`
}

func (h *Handler) manager(req Request) (Manager, *channelParams, *Response) {
	var p channelParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			resp := errResponse(req.ID, CodeInvalidParams, err.Error())
			return nil, nil, &resp
		}
	}
	m, ok := h.channels[p.Channel]
	if !ok {
		resp := errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown channel %q", p.Channel))
		return nil, nil, &resp
	}
	return m, &p, nil
}

func (h *Handler) addTx(req Request) Response {
	m, _, errResp := h.manager(req)
	if errResp != nil {
		return *errResp
	}
	var params struct {
		Channel string          `json:"channel"`
		Tx      core.Transaction `json:"tx"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := m.AddTx(&params.Tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_hash": params.Tx.TxHash})
}

func (h *Handler) getTotalTx(req Request) Response {
	m, _, errResp := h.manager(req)
	if errResp != nil {
		return *errResp
	}
	return okResponse(req.ID, map[string]uint64{"total_tx": m.GetTotalTx()})
}

func (h *Handler) getTx(req Request) Response {
	m, _, errResp := h.manager(req)
	if errResp != nil {
		return *errResp
	}
	var params struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	tx, err := m.GetTx(params.TxHash)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, tx)
}

func (h *Handler) getInvokeResult(req Request) Response {
	m, _, errResp := h.manager(req)
	if errResp != nil {
		return *errResp
	}
	var params struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	result, err := m.GetInvokeResult(params.TxHash)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, result)
}

func (h *Handler) getHeight(req Request) Response {
	m, _, errResp := h.manager(req)
	if errResp != nil {
		return *errResp
	}
	return okResponse(req.ID, map[string]uint64{"height": m.Height()})
}
