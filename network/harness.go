// Package network drives the consensus replicas. Harness is the synchronous,
// reliable, single-process reference environment used by tests and demos;
// Node/Peer/Syncer (in node.go, peer.go, sync.go) are the production
// multi-process transport.
package network

import (
	"github.com/sirupsen/logrus"

	"github.com/streamletproto/pricechain/consensus"
	"github.com/streamletproto/pricechain/core"
	"github.com/streamletproto/pricechain/crypto"
	"github.com/streamletproto/pricechain/events"
)

// Harness owns a full replica set sharing a roster and drives them through
// epochs deterministically: every StepEpoch call delivers the leader's
// proposal and the resulting votes to every replica, including the
// proposer, in fixed roster order. There is no message loss, delay or
// reordering — this is the protocol's reference environment, not a network
// simulator.
type Harness struct {
	roster   []string
	replicas map[string]*consensus.Replica
	emitter  *events.Emitter // nil → no lifecycle events published
	log      *logrus.Entry
}

// NewHarness builds a Harness for the given node IDs, generating a fresh
// Ed25519 identity for each and wiring every replica with the full roster's
// public keys.
func NewHarness(nodeIDs []string, f int) (*Harness, error) {
	publicKeys := make(map[string]crypto.PublicKey, len(nodeIDs))
	privateKeys := make(map[string]crypto.PrivateKey, len(nodeIDs))
	for _, id := range nodeIDs {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		privateKeys[id] = priv
		publicKeys[id] = pub
	}

	replicas := make(map[string]*consensus.Replica, len(nodeIDs))
	for _, id := range nodeIDs {
		r, err := consensus.NewReplica(id, privateKeys[id], publicKeys, f)
		if err != nil {
			return nil, err
		}
		replicas[id] = r
	}

	return &Harness{
		roster:   nodeIDs,
		replicas: replicas,
		log:      logrus.WithField("component", "harness"),
	}, nil
}

// Replica returns the replica for nodeID, or nil if it is not part of the
// harness's roster.
func (h *Harness) Replica(nodeID string) *consensus.Replica {
	return h.replicas[nodeID]
}

// SetEmitter wires e to receive this Harness's consensus lifecycle events,
// published from the perspective of the epoch's leader replica.
func (h *Harness) SetEmitter(e *events.Emitter) { h.emitter = e }

func (h *Harness) emit(typ events.EventType, epoch int64, blockHash core.BlockHash, data map[string]any) {
	if h.emitter == nil {
		return
	}
	h.emitter.Emit(events.Event{Type: typ, Epoch: epoch, BlockHash: string(blockHash), Data: data})
}

// Roster returns the harness's fixed node-ID ordering.
func (h *Harness) Roster() []string {
	out := make([]string, len(h.roster))
	copy(out, h.roster)
	return out
}

// StepEpoch runs one full epoch: the leader for epoch proposes payload (if
// any replica isn't the leader, nothing happens for that replica), the
// proposal is delivered to every replica, and every vote produced is then
// delivered to every replica.
func (h *Harness) StepEpoch(epoch int64, payload []byte) {
	leaderID := h.roster[epoch%int64(len(h.roster))]
	leader := h.replicas[leaderID]

	blk, proposed := leader.Propose(epoch, h.roster, payload)
	if !proposed {
		h.log.WithField("epoch", epoch).Warn("configured leader failed to propose")
		return
	}
	bh := blk.Hash()
	h.emit(events.EventProposed, epoch, bh, map[string]any{"leader": leaderID})

	beforeFinalized := leader.Finalized()

	var votes []*core.Vote
	for _, id := range h.roster {
		if v, ok := h.replicas[id].ObserveProposal(blk); ok {
			votes = append(votes, v)
			if id == leaderID {
				h.emit(events.EventVoted, epoch, bh, map[string]any{"voter": id})
			}
		}
	}

	notarizedEmitted := false
	for _, v := range votes {
		for _, id := range h.roster {
			notz, notarized := h.replicas[id].ObserveVote(v)
			if notarized && id == leaderID && !notarizedEmitted {
				notarizedEmitted = true
				h.emit(events.EventNotarized, epoch, bh, map[string]any{"votes": notz.Count()})
			}
		}
	}

	for fh := range leader.Finalized() {
		if _, already := beforeFinalized[fh]; already {
			continue
		}
		finalizedEpoch := epoch
		if fblk, ok := leader.Block(fh); ok {
			finalizedEpoch = fblk.Epoch
		}
		h.emit(events.EventFinalized, finalizedEpoch, fh, nil)
	}

	h.log.WithFields(logrus.Fields{
		"epoch":  epoch,
		"leader": leaderID,
		"block":  blk.Hash(),
		"votes":  len(votes),
	}).Debug("stepped epoch")
}

// FinalizedByAll returns the intersection of every replica's finalized set:
// the blocks every participant agrees are final.
func (h *Harness) FinalizedByAll() map[core.BlockHash]struct{} {
	var common map[core.BlockHash]struct{}
	for _, id := range h.roster {
		f := h.replicas[id].Finalized()
		if common == nil {
			common = f
			continue
		}
		for h := range common {
			if _, ok := f[h]; !ok {
				delete(common, h)
			}
		}
	}
	if common == nil {
		return map[core.BlockHash]struct{}{}
	}
	return common
}
