package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamletproto/pricechain/core"
	"github.com/streamletproto/pricechain/crypto"
)

// roster builds n replicas sharing a public-key map, tolerating f faults.
func roster(t *testing.T, n, f int) ([]*Replica, []string) {
	t.Helper()
	ids := make([]string, n)
	privs := make([]crypto.PrivateKey, n)
	pubs := make(map[string]crypto.PublicKey, n)

	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		id := pub.Hex()
		ids[i] = id
		privs[i] = priv
		pubs[id] = pub
	}

	replicas := make([]*Replica, n)
	for i := 0; i < n; i++ {
		r, err := NewReplica(ids[i], privs[i], pubs, f)
		require.NoError(t, err)
		replicas[i] = r
	}
	return replicas, ids
}

func TestNewReplicaConstructionErrors(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = NewReplica("node1", priv, map[string]crypto.PublicKey{}, 1)
	require.ErrorIs(t, err, ErrEmptyRoster)

	_, err = NewReplica("node1", priv, map[string]crypto.PublicKey{"node2": pub}, 0)
	require.ErrorIs(t, err, ErrMissingSelfKey)

	_, err = NewReplica("node1", priv, map[string]crypto.PublicKey{"node1": pub}, 1)
	require.ErrorIs(t, err, ErrInvalidTolerance)
}

func TestLeaderForEpochRoundRobin(t *testing.T) {
	replicas, ids := roster(t, 4, 1)
	r := replicas[0]
	for epoch := int64(0); epoch < 8; epoch++ {
		got := r.LeaderForEpoch(epoch, ids)
		want := ids[epoch%int64(len(ids))]
		require.Equal(t, want, got)
	}
}

func TestProposeOnlyByLeader(t *testing.T) {
	replicas, ids := roster(t, 4, 1)
	leaderID := replicas[0].LeaderForEpoch(0, ids)

	for _, r := range replicas {
		blk, ok := r.Propose(0, ids, []byte("payload"))
		if r.NodeID() == leaderID {
			require.True(t, ok)
			require.NotNil(t, blk)
			require.Equal(t, core.GENESIS, blk.ParentHash)
		} else {
			require.False(t, ok)
			require.Nil(t, blk)
		}
	}
}

func TestObserveProposalVotesOnceExtendingGenesis(t *testing.T) {
	replicas, ids := roster(t, 4, 1)
	leader := replicas[0]
	blk, ok := leader.Propose(0, ids, []byte("p"))
	require.True(t, ok)

	follower := replicas[1]
	vote, voted := follower.ObserveProposal(blk)
	require.True(t, voted)
	require.Equal(t, blk.Hash(), vote.BlockHash)
	require.Equal(t, follower.NodeID(), vote.VoterID)

	// Re-delivering the same proposal in the same epoch must not vote again.
	_, votedAgain := follower.ObserveProposal(blk)
	require.False(t, votedAgain)
}

func TestNotarizationRequiresQuorum(t *testing.T) {
	replicas, ids := roster(t, 4, 1) // quorum = 3
	leader := replicas[0]
	blk, ok := leader.Propose(0, ids, []byte("p"))
	require.True(t, ok)

	var votes []*core.Vote
	for _, r := range replicas {
		v, voted := r.ObserveProposal(blk)
		require.True(t, voted)
		votes = append(votes, v)
	}

	observer := replicas[0]
	var gotQuorum bool
	for i, v := range votes {
		_, reached := observer.ObserveVote(v)
		if i < 2 {
			require.False(t, reached, "quorum must not be reached before 3 distinct votes")
		}
		if reached {
			gotQuorum = true
		}
	}
	require.True(t, gotQuorum)
	require.True(t, observer.Notarized(blk.Hash()))
}

func TestFinalizationAfterThreeConsecutiveEpochs(t *testing.T) {
	replicas, ids := roster(t, 4, 1)
	observer := replicas[0]

	var prevHash core.BlockHash = core.GENESIS
	for epoch := int64(0); epoch < 3; epoch++ {
		leaderIdx := int(epoch % int64(len(ids)))
		leader := replicas[leaderIdx]

		blk, ok := leader.Propose(epoch, ids, []byte("p"))
		require.True(t, ok)
		require.Equal(t, prevHash, blk.ParentHash)

		var votes []*core.Vote
		for _, r := range replicas {
			v, voted := r.ObserveProposal(blk)
			require.True(t, voted)
			votes = append(votes, v)
		}
		for _, v := range votes {
			for _, r := range replicas {
				r.ObserveVote(v)
			}
		}
		prevHash = blk.Hash()
	}

	require.True(t, observer.Notarized(prevHash))
	require.NotEmpty(t, observer.Finalized())
}

func TestObserveVoteDropsForgedSignature(t *testing.T) {
	replicas, ids := roster(t, 4, 1)
	leader := replicas[0]
	blk, _ := leader.Propose(0, ids, []byte("p"))

	forger, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	forgedVote := core.SignVote(forger, blk.Hash(), 0, replicas[1].NodeID())

	_, notarized := replicas[0].ObserveVote(forgedVote)
	require.False(t, notarized)
	require.False(t, replicas[0].Notarized(blk.Hash()))
}

func TestObserveVoteDropsDuplicate(t *testing.T) {
	replicas, ids := roster(t, 4, 1)
	leader := replicas[0]
	blk, _ := leader.Propose(0, ids, []byte("p"))

	vote, voted := replicas[1].ObserveProposal(blk)
	require.True(t, voted)

	observer := replicas[0]
	_, first := observer.ObserveVote(vote)
	require.False(t, first)
	_, second := observer.ObserveVote(vote)
	require.False(t, second)

	notz, ok := observer.Notarization(blk.Hash())
	require.True(t, ok)
	require.Equal(t, 1, notz.Count())
}

func TestObserveVoteFromUnknownVoterIsDropped(t *testing.T) {
	replicas, ids := roster(t, 4, 1)
	leader := replicas[0]
	blk, _ := leader.Propose(0, ids, []byte("p"))

	strangerPriv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	vote := core.SignVote(strangerPriv, blk.Hash(), 0, "stranger")

	_, ok := replicas[0].ObserveVote(vote)
	require.False(t, ok)
}

func TestNegativeEpochProposalNeverVotedFor(t *testing.T) {
	replicas, ids := roster(t, 4, 1)
	blk := core.New(core.GENESIS, -1, ids[0], []byte("p"))
	_, voted := replicas[1].ObserveProposal(blk)
	require.False(t, voted)
}
