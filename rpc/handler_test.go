package rpc

import (
	"encoding/json"
	"testing"

	"github.com/streamletproto/pricechain/consensus"
	"github.com/streamletproto/pricechain/crypto"
)

func testReplica(t *testing.T) (*consensus.Replica, []string) {
	t.Helper()
	ids := []string{"node1", "node2", "node3", "node4"}
	pubs := make(map[string]crypto.PublicKey)
	var selfPriv crypto.PrivateKey
	for _, id := range ids {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		pubs[id] = pub
		if id == "node1" {
			selfPriv = priv
		}
	}
	r, err := consensus.NewReplica("node1", selfPriv, pubs, 1)
	if err != nil {
		t.Fatal(err)
	}
	return r, ids
}

func TestGetLeaderForEpoch(t *testing.T) {
	replica, ids := testReplica(t)
	h := NewHandler(replica, ids)

	params, _ := json.Marshal(map[string]int64{"epoch": 2})
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "getLeaderForEpoch", Params: params})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if result["leader"] != ids[2] {
		t.Errorf("leader = %v, want %v", result["leader"], ids[2])
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	replica, ids := testReplica(t)
	h := NewHandler(replica, ids)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "bogus"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestGetNotarizationMissingReturnsError(t *testing.T) {
	replica, ids := testReplica(t)
	h := NewHandler(replica, ids)
	params, _ := json.Marshal(map[string]string{"block_hash": "unknown"})
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "getNotarization", Params: params})
	if resp.Error == nil {
		t.Fatal("expected error for unknown block hash")
	}
}
