package network

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamletproto/pricechain/consensus"
	"github.com/streamletproto/pricechain/core"
	"github.com/streamletproto/pricechain/events"
)

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// WAL is the durable write path a Node logs through before a proposal is
// voted on or a vote is gossiped, so a restarted replica can recover its
// state via durability.Log.Replay instead of re-deriving it from peers.
// *durability.Log satisfies this.
type WAL interface {
	AppendProposal(*core.Block) error
	AppendVote(*core.Vote) error
}

// Node gossips proposals and votes between streamletd processes and feeds
// them into the local replica's state machine. It is the production
// counterpart of Harness: where Harness calls ObserveProposal/ObserveVote
// directly in-process, Node does the same thing driven by messages received
// over the wire.
type Node struct {
	nodeID     string
	listenAddr string
	replica    *consensus.Replica
	roster     []string
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int
	wal        WAL             // nil → no durability, votes/proposals are gossip-only
	emitter    *events.Emitter // nil → no lifecycle events published

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler

	finalizedMu   sync.Mutex
	finalizedSeen map[core.BlockHash]struct{}

	listener net.Listener
	stopCh   chan struct{}

	log *logrus.Entry
}

// NewNode creates a Node that will listen on listenAddr and drive replica.
// If tlsCfg is non-nil the listener and outgoing connections use TLS.
func NewNode(nodeID, listenAddr string, replica *consensus.Replica, roster []string, tlsCfg *tls.Config) *Node {
	n := &Node{
		nodeID:        nodeID,
		listenAddr:    listenAddr,
		replica:       replica,
		roster:        roster,
		tlsConfig:     tlsCfg,
		maxPeers:      DefaultMaxPeers,
		peers:         make(map[string]*Peer),
		handlers:      make(map[MsgType]MessageHandler),
		finalizedSeen: make(map[core.BlockHash]struct{}),
		stopCh:        make(chan struct{}),
		log:           logrus.WithField("node_id", nodeID),
	}
	n.Handle(MsgProposal, n.handleProposal)
	n.Handle(MsgVote, n.handleVote)
	return n
}

// SetWAL wires w as the Node's durable write path. Call before Start.
func (n *Node) SetWAL(w WAL) { n.wal = w }

// SetEmitter wires e to receive this Node's consensus lifecycle events.
// Call before Start.
func (n *Node) SetEmitter(e *events.Emitter) { n.emitter = e }

func (n *Node) emit(typ events.EventType, epoch int64, blockHash core.BlockHash, data map[string]any) {
	if n.emitter == nil {
		return
	}
	n.emitter.Emit(events.Event{Type: typ, Epoch: epoch, BlockHash: string(blockHash), Data: data})
}

// emitNewFinalizations reports every block in the replica's finalized set
// this Node has not already reported, since Replica.tryFinalize finalizes
// silently and a three-block walk can finalize more than one block at once.
func (n *Node) emitNewFinalizations() {
	if n.emitter == nil {
		return
	}
	n.finalizedMu.Lock()
	defer n.finalizedMu.Unlock()
	for bh := range n.replica.Finalized() {
		if _, seen := n.finalizedSeen[bh]; seen {
			continue
		}
		n.finalizedSeen[bh] = struct{}{}
		var epoch int64
		if blk, ok := n.replica.Block(bh); ok {
			epoch = blk.Epoch
		}
		n.emit(events.EventFinalized, epoch, bh, nil)
	}
}

// Handle registers a handler for msg type.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr and registers the peer.
func (n *Node) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)

	hello, err := json.Marshal(map[string]string{"node_id": n.nodeID})
	if err != nil {
		n.log.WithError(err).Error("marshal hello")
		return nil
	}
	if err := peer.Send(Message{Type: MsgHello, Payload: hello}); err != nil {
		n.log.WithError(err).WithField("peer", id).Error("send hello")
	}
	return nil
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// Broadcast sends msg to all connected peers.
func (n *Node) Broadcast(msg Message) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			n.log.WithError(err).WithField("peer", p.ID).Error("broadcast")
		}
	}
}

// BroadcastProposal serialises blk and sends it to all peers.
func (n *Node) BroadcastProposal(blk *core.Block) {
	data, err := json.Marshal(blk)
	if err != nil {
		n.log.WithError(err).Error("marshal proposal")
		return
	}
	n.Broadcast(Message{Type: MsgProposal, Payload: data})
}

// BroadcastVote serialises vote and sends it to all peers.
func (n *Node) BroadcastVote(vote *core.Vote) {
	data, err := json.Marshal(vote)
	if err != nil {
		n.log.WithError(err).Error("marshal vote")
		return
	}
	n.Broadcast(Message{Type: MsgVote, Payload: data})
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.log.WithError(err).Error("accept")
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			n.log.WithField("max_peers", n.maxPeers).Warn("rejecting connection, peer limit reached")
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			n.log.WithField("peer", peer.ID).Errorf("readLoop panic: %v", r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

// handleProposal decodes an incoming block proposal, durably logs it,
// applies the voting rule via the local replica, and — if it voted —
// durably logs the vote before gossiping it to every peer, per the
// crash-safety guidance: nothing is broadcast before it is on disk.
func (n *Node) handleProposal(_ *Peer, msg Message) {
	var blk core.Block
	if err := json.Unmarshal(msg.Payload, &blk); err != nil {
		n.log.WithError(err).Error("unmarshal proposal")
		return
	}
	if n.wal != nil {
		if err := n.wal.AppendProposal(&blk); err != nil {
			n.log.WithError(err).Error("append proposal to wal")
		}
	}
	n.emit(events.EventProposed, blk.Epoch, blk.Hash(), nil)

	vote, voted := n.replica.ObserveProposal(&blk)
	if voted {
		if n.wal != nil {
			if err := n.wal.AppendVote(vote); err != nil {
				n.log.WithError(err).Error("append vote to wal")
			}
		}
		n.emit(events.EventVoted, blk.Epoch, vote.BlockHash, nil)
		n.ObserveLocalVote(vote)
		n.BroadcastVote(vote)
	}
}

// handleVote decodes an incoming vote and feeds it into the local replica's
// notarization aggregation, publishing notarized/finalized events as the
// replica crosses those thresholds.
func (n *Node) handleVote(_ *Peer, msg Message) {
	var vote core.Vote
	if err := json.Unmarshal(msg.Payload, &vote); err != nil {
		n.log.WithError(err).Error("unmarshal vote")
		return
	}
	n.observeVote(&vote)
}

// ObserveLocalVote feeds a vote this replica itself just cast into its own
// notarization aggregation. A node never receives its own broadcasts back
// over the wire, so without this call a replica's own vote would never
// count toward its own view of quorum — every peer that received the vote
// would see it, but the voter itself never would. Call this once, right
// after producing a vote and before or alongside broadcasting it.
func (n *Node) ObserveLocalVote(vote *core.Vote) {
	n.observeVote(vote)
}

func (n *Node) observeVote(vote *core.Vote) {
	notz, notarized := n.replica.ObserveVote(vote)
	if !notarized {
		return
	}
	n.emit(events.EventNotarized, vote.Epoch, vote.BlockHash, map[string]any{"votes": notz.Count()})
	n.emitNewFinalizations()
}
