// Package core is the consensus engine's data model: blocks, votes, and the
// notarization aggregate derived from them. It is payload-agnostic — the
// engine built on top of it never inspects Block.Payload.
package core

import (
	"encoding/binary"

	"github.com/streamletproto/pricechain/crypto"
)

// BlockHash is a lowercase-hex SHA-256 digest, a block's primary key.
type BlockHash string

// GENESIS is the reserved sentinel for the implicit root of the block DAG.
// It is never stored in a Replica's blocks map, but is a legal ParentHash.
const GENESIS BlockHash = "GENESIS"

// Block is an immutable record in the append-only chain. Two Block values
// with identical fields are the same block by construction: Hash is a pure
// function of ParentHash, Epoch, ProposerID and Payload. Proposals are
// unsigned in this protocol — only votes carry a signature.
type Block struct {
	ParentHash BlockHash `json:"parent_hash"`
	Epoch      int64     `json:"epoch"`
	ProposerID string    `json:"proposer_id"`
	Payload    []byte    `json:"payload"`
}

// New constructs a Block.
func New(parentHash BlockHash, epoch int64, proposerID string, payload []byte) *Block {
	return &Block{
		ParentHash: parentHash,
		Epoch:      epoch,
		ProposerID: proposerID,
		Payload:    payload,
	}
}

// Hash computes the block's content hash:
// SHA256(utf8(parent_hash) || be64(epoch) || utf8(proposer_id) || payload),
// hex-encoded. This preimage is fixed by spec §6 so independent
// implementations derive identical hashes for identical blocks.
func (b *Block) Hash() BlockHash {
	var epochBE [8]byte
	binary.BigEndian.PutUint64(epochBE[:], uint64(b.Epoch))

	preimage := make([]byte, 0, len(b.ParentHash)+8+len(b.ProposerID)+len(b.Payload))
	preimage = append(preimage, []byte(b.ParentHash)...)
	preimage = append(preimage, epochBE[:]...)
	preimage = append(preimage, []byte(b.ProposerID)...)
	preimage = append(preimage, b.Payload...)

	return BlockHash(crypto.Hash(preimage))
}
