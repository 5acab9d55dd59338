// Package consensus implements the Streamlet-style replica state machine:
// proposal construction, voting, notarization aggregation and finalization.
// It is driven synchronously by a caller (network.Harness for tests, or
// network.Node in a deployed process) — it never blocks or spawns
// goroutines on its own.
package consensus

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/streamletproto/pricechain/core"
	"github.com/streamletproto/pricechain/crypto"
)

// Replica is one participant's local view of the protocol: the blocks it
// has observed, which ones are notarized, and which are finalized. Two
// replicas that have observed the same proposals and votes converge to the
// same notarized/finalized sets, but may lag each other in wall-clock time.
type Replica struct {
	nodeID     string
	privKey    crypto.PrivateKey
	publicKeys map[string]crypto.PublicKey
	f          int

	blocks          map[core.BlockHash]*core.Block
	parentOf        map[core.BlockHash]core.BlockHash // child -> parent; absent for GENESIS-rooted blocks
	notarizedBlocks map[core.BlockHash]struct{}
	votesSeen       map[voteKey]*core.Vote
	votedEpochs     map[int64]struct{} // epochs this replica has itself voted in
	notarizations   map[core.BlockHash]*core.Notarization
	finalized       map[core.BlockHash]struct{}

	log *logrus.Entry
}

// voteKey identifies a (block, voter) pair for duplicate-vote rejection.
type voteKey struct {
	blockHash core.BlockHash
	voterID   string
}

// NewReplica constructs a Replica for nodeID. publicKeys must contain an
// entry for nodeID itself. f is the number of Byzantine replicas the
// protocol tolerates; the roster (len(publicKeys)) must be at least 2f+1.
func NewReplica(nodeID string, privKey crypto.PrivateKey, publicKeys map[string]crypto.PublicKey, f int) (*Replica, error) {
	if len(publicKeys) == 0 {
		return nil, ErrEmptyRoster
	}
	if _, ok := publicKeys[nodeID]; !ok {
		return nil, ErrMissingSelfKey
	}
	if f < 1 || len(publicKeys) < core.Quorum(f) {
		return nil, ErrInvalidTolerance
	}

	return &Replica{
		nodeID:          nodeID,
		privKey:         privKey,
		publicKeys:      publicKeys,
		f:               f,
		blocks:          make(map[core.BlockHash]*core.Block),
		parentOf:        make(map[core.BlockHash]core.BlockHash),
		notarizedBlocks: make(map[core.BlockHash]struct{}),
		votesSeen:       make(map[voteKey]*core.Vote),
		votedEpochs:     make(map[int64]struct{}),
		notarizations:   make(map[core.BlockHash]*core.Notarization),
		finalized:       make(map[core.BlockHash]struct{}),
		log:             logrus.WithField("node_id", nodeID),
	}, nil
}

// NodeID returns the replica's own identifier (in streamletd, its hex
// public key; the harness uses plain labels such as "node1").
func (r *Replica) NodeID() string { return r.nodeID }

// LeaderForEpoch returns the deterministic round-robin leader for epoch,
// given the fixed roster ordering.
func (r *Replica) LeaderForEpoch(epoch int64, roster []string) string {
	return roster[epoch%int64(len(roster))]
}

// Propose builds and locally registers a new block for epoch if this
// replica is the leader for it. It returns (nil, false) otherwise.
func (r *Replica) Propose(epoch int64, roster []string, payload []byte) (*core.Block, bool) {
	if r.LeaderForEpoch(epoch, roster) != r.nodeID {
		return nil, false
	}

	parentHash := r.chainTip()
	blk := core.New(parentHash, epoch, r.nodeID, payload)
	bh := blk.Hash()
	r.blocks[bh] = blk
	if parentHash != core.GENESIS {
		r.parentOf[bh] = parentHash
	}

	r.log.WithFields(logrus.Fields{
		"epoch":  epoch,
		"block":  bh,
		"parent": parentHash,
	}).Debug("proposed block")

	return blk, true
}

// ObserveProposal registers blk in the local view and, if the voting rule
// allows it, returns a signed vote for it. The returned bool is false when
// the proposal is ignored (already voted this epoch, or does not extend a
// longest notarized chain tip).
func (r *Replica) ObserveProposal(blk *core.Block) (*core.Vote, bool) {
	bh := blk.Hash()
	r.blocks[bh] = blk
	if blk.ParentHash != core.GENESIS {
		r.parentOf[bh] = blk.ParentHash
	}

	if !r.canVoteFor(blk) {
		return nil, false
	}

	vote := core.SignVote(r.privKey, bh, blk.Epoch, r.nodeID)
	r.votesSeen[voteKey{bh, r.nodeID}] = vote
	r.votedEpochs[blk.Epoch] = struct{}{}

	r.log.WithFields(logrus.Fields{
		"epoch": blk.Epoch,
		"block": bh,
	}).Debug("voted for proposal")

	return vote, true
}

// canVoteFor applies the voting rule: vote for the first proposal seen in
// an epoch, iff it has a non-negative epoch and extends one of the replica's
// current longest-notarized-chain tips (or, before any block is notarized,
// extends genesis or an as-yet-unseen parent — the bootstrap concession).
func (r *Replica) canVoteFor(blk *core.Block) bool {
	if blk.Epoch < 0 {
		return false
	}
	if _, already := r.votedEpochs[blk.Epoch]; already {
		return false
	}

	tips := r.longestNotarizedTips()
	if len(tips) == 0 {
		if blk.ParentHash == core.GENESIS {
			return true
		}
		_, parentKnown := r.blocks[blk.ParentHash]
		return !parentKnown
	}
	_, ok := tips[blk.ParentHash]
	return ok
}

// ObserveVote verifies and registers vote, aggregating it toward the
// notarization of vote.BlockHash. It returns the notarization and true only
// on the call in which quorum is first reached. Malformed, forged, or
// duplicate votes are dropped silently.
func (r *Replica) ObserveVote(vote *core.Vote) (*core.Notarization, bool) {
	pub, ok := r.publicKeys[vote.VoterID]
	if !ok {
		return nil, false
	}
	if !vote.Verify(pub) {
		return nil, false
	}

	key := voteKey{vote.BlockHash, vote.VoterID}
	if _, dup := r.votesSeen[key]; dup {
		return nil, false
	}
	r.votesSeen[key] = vote

	notz, ok := r.notarizations[vote.BlockHash]
	if !ok {
		notz = core.NewNotarization(vote.BlockHash, vote.Epoch)
		r.notarizations[vote.BlockHash] = notz
	}
	notz.AddVoter(vote.VoterID)

	if !notz.HasQuorum(r.f) {
		return nil, false
	}
	if _, already := r.notarizedBlocks[vote.BlockHash]; already {
		// Already crossed quorum in an earlier call; this vote just
		// padded the voter set further, nothing new to report.
		return nil, false
	}

	r.notarizedBlocks[vote.BlockHash] = struct{}{}
	r.log.WithFields(logrus.Fields{
		"epoch": vote.Epoch,
		"block": vote.BlockHash,
		"votes": notz.Count(),
	}).Info("block notarized")

	r.tryFinalize(vote.BlockHash)

	return notz, true
}

// tryFinalize walks back from tip through up to three notarized blocks; if
// they occupy three consecutive epochs, the middle block and everything
// behind it is finalized.
func (r *Replica) tryFinalize(tip core.BlockHash) {
	chain := make([]core.BlockHash, 0, 3)
	cur := tip
	for len(chain) < 3 {
		if _, ok := r.blocks[cur]; !ok {
			return
		}
		if _, notarized := r.notarizedBlocks[cur]; !notarized {
			return
		}
		chain = append(chain, cur)
		parent, hasParent := r.parentOf[cur]
		if !hasParent {
			break
		}
		cur = parent
	}
	if len(chain) < 3 {
		return
	}

	newest, middle, oldest := r.blocks[chain[0]], r.blocks[chain[1]], r.blocks[chain[2]]
	if newest.Epoch != middle.Epoch+1 || middle.Epoch != oldest.Epoch+1 {
		return
	}

	finalizeFrom := chain[1]
	cur = finalizeFrom
	for {
		if _, ok := r.blocks[cur]; !ok {
			break
		}
		if _, done := r.finalized[cur]; done {
			break
		}
		r.finalized[cur] = struct{}{}
		r.log.WithFields(logrus.Fields{
			"epoch": r.blocks[cur].Epoch,
			"block": cur,
		}).Info("block finalized")
		parent, hasParent := r.parentOf[cur]
		if !hasParent {
			break
		}
		cur = parent
	}
}

// chainTip returns the parent hash a new proposal at the current view
// should extend: the tip of the (a, deterministically chosen) longest
// notarized chain, or GENESIS if none is notarized yet.
func (r *Replica) chainTip() core.BlockHash {
	tips := r.longestNotarizedTips()
	if len(tips) == 0 {
		return core.GENESIS
	}
	return largestHash(tips)
}

// longestNotarizedTips reconstructs every chain ending at a notarized block
// and returns the set of tip hashes among the longest such chains. A
// notarized hash can reach quorum before its proposal has been observed —
// votes and proposals may arrive in any order — so a notarization with no
// backing block, or with a broken parent chain, disqualifies that candidate
// rather than aborting the walk.
func (r *Replica) longestNotarizedTips() map[core.BlockHash]struct{} {
	maxLen := 0
	tips := make(map[core.BlockHash]struct{})

	for bh := range r.notarizedBlocks {
		length := 0
		cur := bh
		broken := false
		for {
			if _, ok := r.blocks[cur]; !ok {
				broken = true
				break
			}
			length++
			parent, hasParent := r.parentOf[cur]
			if !hasParent {
				break
			}
			cur = parent
		}
		if broken {
			continue
		}
		switch {
		case length > maxLen:
			maxLen = length
			tips = map[core.BlockHash]struct{}{bh: {}}
		case length == maxLen:
			tips[bh] = struct{}{}
		}
	}
	return tips
}

// largestHash returns the lexicographically largest key in tips, the
// deterministic tie-break for choosing among equally-long notarized chains.
func largestHash(tips map[core.BlockHash]struct{}) core.BlockHash {
	hashes := make([]string, 0, len(tips))
	for h := range tips {
		hashes = append(hashes, string(h))
	}
	sort.Strings(hashes)
	return core.BlockHash(hashes[len(hashes)-1])
}

// Finalized returns the set of block hashes this replica has finalized.
func (r *Replica) Finalized() map[core.BlockHash]struct{} {
	out := make(map[core.BlockHash]struct{}, len(r.finalized))
	for h := range r.finalized {
		out[h] = struct{}{}
	}
	return out
}

// Notarized reports whether blockHash has reached quorum in this replica's
// view.
func (r *Replica) Notarized(blockHash core.BlockHash) bool {
	_, ok := r.notarizedBlocks[blockHash]
	return ok
}

// Notarization returns the aggregated notarization for blockHash, if any.
func (r *Replica) Notarization(blockHash core.BlockHash) (*core.Notarization, bool) {
	n, ok := r.notarizations[blockHash]
	return n, ok
}

// Block returns a previously observed block by hash.
func (r *Replica) Block(blockHash core.BlockHash) (*core.Block, bool) {
	b, ok := r.blocks[blockHash]
	return b, ok
}
