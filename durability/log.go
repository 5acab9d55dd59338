package durability

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/streamletproto/pricechain/consensus"
	"github.com/streamletproto/pricechain/core"
)

const (
	proposalPrefix = "proposal:"
	votePrefix     = "vote:"
)

// Log is the write-ahead log of every proposal this replica has observed
// and every vote it has emitted, appended before broadcasting (per the
// "prevent equivocation after crash" guidance). On restart, Replay feeds
// the log back through the replica's normal ObserveProposal/ObserveVote
// entrypoints, so a restarted replica never emits a second vote for an
// epoch it already voted in before the crash. Notarizations and
// finalization are never stored directly — they are always recomputed
// deterministically from the replayed evidence.
type Log struct {
	db DB
}

// NewLog wraps db as a write-ahead log.
func NewLog(db DB) *Log {
	return &Log{db: db}
}

func epochKey(prefix string, epoch int64, suffix string) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(epoch))
	return []byte(fmt.Sprintf("%s%x:%s", prefix, buf, suffix))
}

// AppendProposal durably records blk before it is broadcast or voted on.
func (l *Log) AppendProposal(blk *core.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("durability: marshal proposal: %w", err)
	}
	key := epochKey(proposalPrefix, blk.Epoch, string(blk.Hash()))
	return l.db.Set(key, data)
}

// AppendVote durably records vote before it is broadcast.
func (l *Log) AppendVote(vote *core.Vote) error {
	data, err := json.Marshal(vote)
	if err != nil {
		return fmt.Errorf("durability: marshal vote: %w", err)
	}
	key := epochKey(votePrefix, vote.Epoch, fmt.Sprintf("%s:%s", vote.BlockHash, vote.VoterID))
	return l.db.Set(key, data)
}

// Replay re-applies every logged proposal and then every logged vote, each
// in epoch order, to replica. Call this once at startup before the replica participates in
// any new epoch.
func (l *Log) Replay(replica *consensus.Replica) error {
	it := l.db.NewIterator([]byte(proposalPrefix))
	defer it.Release()
	for it.Next() {
		var blk core.Block
		if err := json.Unmarshal(it.Value(), &blk); err != nil {
			return fmt.Errorf("durability: replay proposal: %w", err)
		}
		replica.ObserveProposal(&blk)
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("durability: iterate proposals: %w", err)
	}

	vit := l.db.NewIterator([]byte(votePrefix))
	defer vit.Release()
	for vit.Next() {
		var vote core.Vote
		if err := json.Unmarshal(vit.Value(), &vote); err != nil {
			return fmt.Errorf("durability: replay vote: %w", err)
		}
		replica.ObserveVote(&vote)
	}
	return vit.Error()
}

// ProposalsFrom returns every logged proposal at or after fromEpoch, up to
// limit, in epoch order. It satisfies network.ProposalSource, letting a
// Syncer serve catch-up requests directly off the write-ahead log.
func (l *Log) ProposalsFrom(fromEpoch int64, limit int) ([]*core.Block, error) {
	it := l.db.NewIterator([]byte(proposalPrefix))
	defer it.Release()

	var out []*core.Block
	for it.Next() && len(out) < limit {
		var blk core.Block
		if err := json.Unmarshal(it.Value(), &blk); err != nil {
			return nil, fmt.Errorf("durability: decode proposal: %w", err)
		}
		if blk.Epoch >= fromEpoch {
			out = append(out, &blk)
		}
	}
	return out, it.Error()
}
