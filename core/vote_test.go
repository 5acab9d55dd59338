package core

import (
	"testing"

	"github.com/streamletproto/pricechain/crypto"
)

func TestSignVoteVerifies(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	voterID := pub.Hex()
	v := SignVote(priv, "blockhash123", 5, voterID)
	if !v.Verify(pub) {
		t.Error("vote signed by priv must verify under pub")
	}
}

func TestVoteVerifyRejectsTamperedFields(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	voterID := pub.Hex()
	v := SignVote(priv, "blockhash123", 5, voterID)

	tampered := *v
	tampered.Epoch = 6
	if tampered.Verify(pub) {
		t.Error("vote with tampered epoch must not verify")
	}

	tampered2 := *v
	tampered2.BlockHash = "other-hash"
	if tampered2.Verify(pub) {
		t.Error("vote with tampered block hash must not verify")
	}

	_, otherPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if v.Verify(otherPub) {
		t.Error("vote must not verify under an unrelated public key")
	}
}

func TestNotarizationQuorum(t *testing.T) {
	n := NewNotarization("blockhash123", 5)
	f := 1 // tolerates 1 faulty replica out of 4: quorum = 3
	if n.HasQuorum(f) {
		t.Error("empty notarization must not have quorum")
	}
	if !n.AddVoter("v1") || !n.AddVoter("v2") {
		t.Fatal("first-time votes must be accepted")
	}
	if n.AddVoter("v1") {
		t.Error("duplicate voter must not be re-counted")
	}
	if n.HasQuorum(f) {
		t.Error("2 votes must not reach quorum of 3")
	}
	n.AddVoter("v3")
	if !n.HasQuorum(f) {
		t.Error("3 distinct votes must reach quorum of 3")
	}
}
