package core

import (
	"fmt"

	"github.com/streamletproto/pricechain/crypto"
)

// Vote is a single replica's endorsement of a block at the epoch it was
// proposed in. VoterID is the voter's roster ID (in streamletd, its
// hex-encoded Ed25519 public key).
type Vote struct {
	BlockHash BlockHash `json:"block_hash"`
	Epoch     int64     `json:"epoch"`
	VoterID   string    `json:"voter_id"`
	Signature []byte    `json:"signature"`
}

// VoteMessage returns the canonical byte string a vote signs:
// "{block_hash}:{epoch}:{voter_id}" (spec §6 signed-message format).
func VoteMessage(blockHash BlockHash, epoch int64, voterID string) []byte {
	return []byte(fmt.Sprintf("%s:%d:%s", blockHash, epoch, voterID))
}

// SignVote produces a Vote signed by priv on behalf of voterID.
func SignVote(priv crypto.PrivateKey, blockHash BlockHash, epoch int64, voterID string) *Vote {
	msg := VoteMessage(blockHash, epoch, voterID)
	return &Vote{
		BlockHash: blockHash,
		Epoch:     epoch,
		VoterID:   voterID,
		Signature: crypto.Sign(priv, msg),
	}
}

// Verify reports whether the vote's signature is valid under pub.
func (v *Vote) Verify(pub crypto.PublicKey) bool {
	msg := VoteMessage(v.BlockHash, v.Epoch, v.VoterID)
	return crypto.Verify(pub, msg, v.Signature)
}
