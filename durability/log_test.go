package durability

import (
	"encoding/json"
	"testing"

	"github.com/streamletproto/pricechain/consensus"
	"github.com/streamletproto/pricechain/core"
	"github.com/streamletproto/pricechain/crypto"
)

func TestAppendProposalAndReplayRestoresVotedEpochs(t *testing.T) {
	ids := []string{"node1", "node2", "node3"}
	privs := make(map[string]crypto.PrivateKey)
	pubs := make(map[string]crypto.PublicKey)
	for _, id := range ids {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		privs[id] = priv
		pubs[id] = pub
	}

	replica, err := consensus.NewReplica("node2", privs["node2"], pubs, 1)
	if err != nil {
		t.Fatal(err)
	}

	blk := core.New(core.GENESIS, 0, "node1", []byte("payload"))
	log := NewLog(NewMemDB())
	if err := log.AppendProposal(blk); err != nil {
		t.Fatalf("AppendProposal: %v", err)
	}

	if err := log.Replay(replica); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	// A second proposal in the same epoch must not be voted for again,
	// proving the replayed proposal already consumed this epoch's vote.
	other := core.New(core.GENESIS, 0, "node1", []byte("different-payload"))
	_, voted := replica.ObserveProposal(other)
	if voted {
		t.Error("replica should not vote twice in the same epoch after replay")
	}
}

func TestProposalsFromFiltersByEpoch(t *testing.T) {
	log := NewLog(NewMemDB())
	for epoch := int64(0); epoch < 5; epoch++ {
		blk := core.New(core.GENESIS, epoch, "node1", nil)
		if err := log.AppendProposal(blk); err != nil {
			t.Fatal(err)
		}
	}

	got, err := log.ProposalsFrom(3, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 proposals at or after epoch 3, got %d", len(got))
	}
	for _, b := range got {
		if b.Epoch < 3 {
			t.Errorf("proposal with epoch %d should have been filtered out", b.Epoch)
		}
	}
}

func TestAppendVotePersists(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	vote := core.SignVote(priv, "blockhash", 1, pub.Hex())

	db := NewMemDB()
	log := NewLog(db)
	if err := log.AppendVote(vote); err != nil {
		t.Fatalf("AppendVote: %v", err)
	}

	it := db.NewIterator([]byte(votePrefix))
	defer it.Release()
	if !it.Next() {
		t.Fatal("expected the appended vote to be stored under the vote prefix")
	}
	var stored core.Vote
	if err := json.Unmarshal(it.Value(), &stored); err != nil {
		t.Fatalf("decode stored vote: %v", err)
	}
	if stored.BlockHash != vote.BlockHash || stored.VoterID != vote.VoterID {
		t.Errorf("stored vote = %+v, want %+v", stored, vote)
	}
}
