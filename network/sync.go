package network

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/streamletproto/pricechain/consensus"
	"github.com/streamletproto/pricechain/core"
	"github.com/streamletproto/pricechain/events"
)

// GetProposalsRequest asks a peer for every proposal it has observed at or
// after FromEpoch.
type GetProposalsRequest struct {
	FromEpoch int64 `json:"from_epoch"`
	Limit     int   `json:"limit"`
}

// ProposalsResponse carries a batch of proposals in epoch order.
type ProposalsResponse struct {
	Blocks []*core.Block `json:"blocks"`
}

// ProposalSource lets a Syncer answer catch-up requests without depending on
// durability.Log directly; *durability.Log and a test double both satisfy it.
type ProposalSource interface {
	ProposalsFrom(epoch int64, limit int) ([]*core.Block, error)
}

// Syncer lets a newly joined or lagging replica pull missing proposals from
// a peer and replay them through its own Replica, instead of waiting to
// observe them live. There is no application state to replay — replaying a
// proposal through ObserveProposal/ObserveVote reconstructs exactly the same
// notarized/finalized view a replica that saw the messages live would have.
type Syncer struct {
	node    *Node
	replica *consensus.Replica
	roster  []string
	source  ProposalSource // may be nil on a node that only consumes catch-up, never serves it
	wal     WAL            // non-nil when source also satisfies WAL (e.g. *durability.Log)
	emitter *events.Emitter

	log *logrus.Entry
}

// NewSyncer creates a Syncer wired to node's message dispatch. When source
// also implements WAL (as *durability.Log does), replayed proposals and the
// votes they produce are durably logged before being rebroadcast, exactly
// as a live-observed proposal would be.
func NewSyncer(node *Node, replica *consensus.Replica, roster []string, source ProposalSource) *Syncer {
	s := &Syncer{
		node:    node,
		replica: replica,
		roster:  roster,
		source:  source,
		log:     logrus.WithField("component", "syncer"),
	}
	if wal, ok := source.(WAL); ok {
		s.wal = wal
	}
	node.Handle(MsgGetProposals, s.handleGetProposals)
	node.Handle(MsgProposals, s.handleProposals)
	return s
}

// SetEmitter wires e to receive this Syncer's catch-up lifecycle events.
func (s *Syncer) SetEmitter(e *events.Emitter) { s.emitter = e }

// RequestProposals asks peer for every proposal it has from fromEpoch on.
func (s *Syncer) RequestProposals(peer *Peer, fromEpoch int64) error {
	req, err := json.Marshal(GetProposalsRequest{FromEpoch: fromEpoch, Limit: 500})
	if err != nil {
		return err
	}
	return peer.Send(Message{Type: MsgGetProposals, Payload: req})
}

func (s *Syncer) handleGetProposals(peer *Peer, msg Message) {
	if s.source == nil {
		return
	}
	var req GetProposalsRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		s.log.WithError(err).Error("unmarshal get_proposals")
		return
	}
	if req.Limit <= 0 || req.Limit > 2000 {
		req.Limit = 500
	}
	blocks, err := s.source.ProposalsFrom(req.FromEpoch, req.Limit)
	if err != nil {
		s.log.WithError(err).Error("load proposals for catch-up")
		return
	}
	data, err := json.Marshal(ProposalsResponse{Blocks: blocks})
	if err != nil {
		s.log.WithError(err).Error("marshal proposals response")
		return
	}
	if err := peer.Send(Message{Type: MsgProposals, Payload: data}); err != nil {
		s.log.WithError(err).Error("send proposals response")
	}
}

// handleProposals replays every received proposal through the local replica
// exactly as if it had been observed live, voting where the voting rule
// allows it and broadcasting the resulting vote so the rest of the network
// benefits from this replica catching up. Each replayed proposal and every
// vote it produces is durably logged before broadcast, same as a live
// proposal arriving through Node.handleProposal.
func (s *Syncer) handleProposals(_ *Peer, msg Message) {
	var resp ProposalsResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		s.log.WithError(err).Error("unmarshal proposals response")
		return
	}
	for _, blk := range resp.Blocks {
		if s.wal != nil {
			if err := s.wal.AppendProposal(blk); err != nil {
				s.log.WithError(err).Error("append caught-up proposal to wal")
			}
		}
		vote, voted := s.replica.ObserveProposal(blk)
		if !voted {
			continue
		}
		if s.wal != nil {
			if err := s.wal.AppendVote(vote); err != nil {
				s.log.WithError(err).Error("append caught-up vote to wal")
			}
		}
		if s.emitter != nil {
			s.emitter.Emit(events.Event{Type: events.EventVoted, Epoch: blk.Epoch, BlockHash: string(vote.BlockHash)})
		}
		s.node.ObserveLocalVote(vote)
		s.node.BroadcastVote(vote)
	}
}
