package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/streamletproto/pricechain/config"
	"github.com/streamletproto/pricechain/consensus"
	"github.com/streamletproto/pricechain/core"
)

// Handler serves read-only consensus introspection over JSON-RPC. There is
// no write path: the network layer is the only way proposals and votes
// enter a replica, matching spec's "poll-only" RPC surface (no callbacks or
// exceptions raised through this endpoint).
type Handler struct {
	replica *consensus.Replica
	roster  []string
}

// NewHandler creates an RPC Handler over replica.
func NewHandler(replica *consensus.Replica, roster []string) *Handler {
	return &Handler{replica: replica, roster: roster}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getNotarized":
		return h.getNotarized(req)

	case "getFinalized":
		return okResponse(req.ID, hashSet(h.replica.Finalized()))

	case "getNotarization":
		return h.getNotarization(req)

	case "getLeaderForEpoch":
		return h.getLeaderForEpoch(req)

	case "getTip":
		return h.getTip(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getNotarized(req Request) Response {
	var params struct {
		BlockHash string `json:"block_hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if params.BlockHash == "" {
		return errResponse(req.ID, CodeInvalidParams, "block_hash is required")
	}
	return okResponse(req.ID, map[string]any{
		"block_hash": params.BlockHash,
		"notarized":  h.replica.Notarized(core.BlockHash(params.BlockHash)),
	})
}

func (h *Handler) getNotarization(req Request) Response {
	var params struct {
		BlockHash string `json:"block_hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if params.BlockHash == "" {
		return errResponse(req.ID, CodeInvalidParams, "block_hash is required")
	}
	notz, ok := h.replica.Notarization(core.BlockHash(params.BlockHash))
	if !ok {
		return errResponse(req.ID, CodeInternalError, "no notarization for block_hash")
	}
	voters := make([]string, 0, len(notz.Voters))
	for v := range notz.Voters {
		voters = append(voters, v)
	}
	return okResponse(req.ID, map[string]any{
		"block_hash": notz.BlockHash,
		"epoch":      notz.Epoch,
		"voters":     voters,
	})
}

func (h *Handler) getLeaderForEpoch(req Request) Response {
	var params struct {
		Epoch int64 `json:"epoch"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"epoch":  params.Epoch,
		"leader": h.replica.LeaderForEpoch(params.Epoch, h.roster),
	})
}

func (h *Handler) getTip(req Request) Response {
	var params struct {
		BlockHash string `json:"block_hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if params.BlockHash == "" {
		return errResponse(req.ID, CodeInvalidParams, "block_hash is required")
	}
	blk, ok := h.replica.Block(core.BlockHash(params.BlockHash))
	if !ok {
		return errResponse(req.ID, CodeInternalError, "unknown block_hash")
	}
	return okResponse(req.ID, map[string]any{
		"block":           blk,
		"extends_genesis": config.IsGenesisHash(blk.ParentHash),
	})
}

func hashSet(s map[core.BlockHash]struct{}) []string {
	out := make([]string, 0, len(s))
	for h := range s {
		out = append(out, string(h))
	}
	return out
}
