package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamletproto/pricechain/core"
	"github.com/streamletproto/pricechain/crypto"
)

func fourNodeHarness(t *testing.T) (*Harness, []string) {
	t.Helper()
	ids := []string{"node1", "node2", "node3", "node4"}
	h, err := NewHarness(ids, 1) // quorum = 3
	require.NoError(t, err)
	return h, ids
}

// Scenario: one epoch produces a notarized block but nothing finalized yet
// (finalization needs three consecutive notarized epochs).
func TestOneEpochNotarizesButDoesNotFinalize(t *testing.T) {
	h, ids := fourNodeHarness(t)
	h.StepEpoch(0, []byte("epoch-0"))

	// The epoch-0 leader is ids[0], building on GENESIS.
	bh := core.New(core.GENESIS, 0, ids[0], []byte("epoch-0")).Hash()
	require.Empty(t, h.FinalizedByAll())
	for _, id := range ids {
		require.True(t, h.Replica(id).Notarized(bh))
		require.Equal(t, 0, len(h.Replica(id).Finalized()))
	}
}

// Scenario: three consecutive notarized epochs finalize the middle (and
// hence oldest) block, observed identically by every replica.
func TestThreeConsecutiveEpochsFinalize(t *testing.T) {
	h, ids := fourNodeHarness(t)
	for epoch := int64(0); epoch < 3; epoch++ {
		h.StepEpoch(epoch, []byte("payload"))
	}

	finalized := h.FinalizedByAll()
	require.NotEmpty(t, finalized)
	for _, id := range ids {
		require.Equal(t, finalized, h.Replica(id).Finalized())
	}
}

// Scenario: six consecutive epochs behave safely — every replica's
// finalized set only grows and stays identical across all replicas
// (safety across a longer run, not just the minimal 3-epoch case).
func TestSixEpochsRemainSafeAcrossReplicas(t *testing.T) {
	h, ids := fourNodeHarness(t)
	var prevCount int
	for epoch := int64(0); epoch < 6; epoch++ {
		h.StepEpoch(epoch, []byte("payload"))
		finalized := h.FinalizedByAll()
		require.GreaterOrEqual(t, len(finalized), prevCount, "finalized set must never shrink")
		for _, id := range ids {
			require.Equal(t, finalized, h.Replica(id).Finalized())
		}
		prevCount = len(finalized)
	}
	require.NotEmpty(t, h.FinalizedByAll())
}

// Scenario: a replica that is not the leader for an epoch never produces a
// proposal, and the epoch silently produces no block.
func TestNonLeaderStepSilence(t *testing.T) {
	h, ids := fourNodeHarness(t)
	for _, id := range ids {
		r := h.Replica(id)
		if r.LeaderForEpoch(0, ids) == id {
			continue
		}
		blk, ok := r.Propose(0, ids, []byte("p"))
		require.False(t, ok)
		require.Nil(t, blk)
	}
}

// Scenario: a forged vote (valid structure, signature from a non-roster or
// wrong key) never contributes to notarization.
func TestForgedVoteNeverNotarizes(t *testing.T) {
	h, ids := fourNodeHarness(t)
	leaderID := h.Replica(ids[0]).LeaderForEpoch(0, ids)
	leader := h.Replica(leaderID)
	blk, ok := leader.Propose(0, ids, []byte("p"))
	require.True(t, ok)

	forgerPriv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	forged := core.SignVote(forgerPriv, blk.Hash(), 0, ids[1])

	for _, id := range ids {
		_, notarized := h.Replica(id).ObserveVote(forged)
		require.False(t, notarized)
	}
	for _, id := range ids {
		require.False(t, h.Replica(id).Notarized(blk.Hash()))
	}
}

// Scenario: a duplicate vote delivered twice from the same voter never
// double-counts toward quorum.
func TestDuplicateVoteDoesNotDoubleCount(t *testing.T) {
	h, ids := fourNodeHarness(t)
	leaderID := h.Replica(ids[0]).LeaderForEpoch(0, ids)
	leader := h.Replica(leaderID)
	blk, ok := leader.Propose(0, ids, []byte("p"))
	require.True(t, ok)

	vote, voted := h.Replica(ids[1]).ObserveProposal(blk)
	require.True(t, voted)

	observer := h.Replica(ids[0])
	observer.ObserveVote(vote)
	observer.ObserveVote(vote)

	notz, ok := observer.Notarization(blk.Hash())
	require.True(t, ok)
	require.Equal(t, 1, notz.Count())
	require.False(t, observer.Notarized(blk.Hash()))
}
