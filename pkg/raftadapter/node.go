package raftadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"widerow/pkg/config"
	"widerow/pkg/family"
	"widerow/pkg/store"
)

var ErrNodeStopped = errors.New("raft node stopped")

type iTransport interface {
	Send(msg raftpb.Message) error
	AddPeer(id uint64, addr string)
	RemovePeer(id uint64)
	UpdatePeer(id uint64, addr string)
}

// Node replicates column-family mutations through etcd raft and applies
// committed ones to the local family.
type Node struct {
	ID uint64

	peersMu sync.RWMutex
	peers   map[uint64]string

	underlying   raft.Node
	target       family.Writer
	jr           *raft.MemoryStorage
	conf         *raftpb.ConfState
	tickInterval time.Duration
	transport    iTransport
	applyFilter  atomic.Pointer[func(row string) bool]

	ctx  context.Context
	stop context.CancelFunc
	once sync.Once

	proposalsMu sync.RWMutex
	proposals   map[uuid.UUID]chan proposeResult
}

func NewNode(cfg *config.RaftConfig, target family.Writer) (*Node, error) {
	rc := toRaftConfig(cfg)
	storage := raft.NewMemoryStorage()
	rc.Storage = storage

	var (
		confState raftpb.ConfState
		peers     = make(map[uint64]string, len(cfg.Peers))
		raftPeers = make([]raft.Peer, 0, len(cfg.Peers))
	)
	for _, p := range cfg.Peers {
		if _, ok := peers[p.ID]; ok {
			return nil, fmt.Errorf("duplicate peer ID %d", p.ID)
		}
		peers[p.ID] = p.Address
		confState.Voters = append(confState.Voters, p.ID)
		raftPeers = append(raftPeers, raft.Peer{
			ID:      p.ID,
			Context: []byte(p.Address),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		ID:           cfg.ID,
		peers:        peers,
		conf:         &confState,
		underlying:   raft.StartNode(rc, raftPeers),
		target:       target,
		jr:           storage,
		tickInterval: tickInterval(cfg),
		transport:    NewTransport(peers),
		proposals:    make(map[uuid.UUID]chan proposeResult),
		ctx:          ctx,
		stop:         cancel,
	}, nil
}

func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return nil
		case <-ctx.Done():
			_ = n.Stop()
			return ctx.Err()
		case <-ticker.C:
			n.underlying.Tick()
		case rd := <-n.underlying.Ready():
			if err := n.handleReady(rd); err != nil {
				return err
			}
		}
	}
}

func (n *Node) handleReady(rd raft.Ready) error {
	if !raft.IsEmptyHardState(rd.HardState) {
		if err := n.jr.SetHardState(rd.HardState); err != nil {
			return fmt.Errorf("set hard state: %w", err)
		}
	}
	if err := n.jr.Append(rd.Entries); err != nil {
		return fmt.Errorf("append entries: %w", err)
	}

	n.sendMessages(rd.Messages)

	for _, entry := range rd.CommittedEntries {
		switch entry.Type {
		case raftpb.EntryNormal:
			n.applyEntry(entry)
		case raftpb.EntryConfChange:
			var cc raftpb.ConfChange
			if err := cc.Unmarshal(entry.Data); err != nil {
				return fmt.Errorf("unmarshal conf change: %w", err)
			}
			n.conf = n.underlying.ApplyConfChange(cc)
			n.updateTransport(cc)
		}
	}

	n.underlying.Advance()
	return nil
}

func (n *Node) updateTransport(cc raftpb.ConfChange) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()

	switch cc.Type {
	case raftpb.ConfChangeAddNode:
		addr := string(cc.Context)
		n.peers[cc.NodeID] = addr
		n.transport.AddPeer(cc.NodeID, addr)
		slog.Info("added peer", "id", cc.NodeID, "addr", addr)
	case raftpb.ConfChangeRemoveNode:
		delete(n.peers, cc.NodeID)
		n.transport.RemovePeer(cc.NodeID)
		slog.Info("removed peer", "id", cc.NodeID)
	case raftpb.ConfChangeUpdateNode:
		addr := string(cc.Context)
		n.peers[cc.NodeID] = addr
		n.transport.UpdatePeer(cc.NodeID, addr)
		slog.Info("updated peer", "id", cc.NodeID, "addr", addr)
	}
}

func (n *Node) sendMessages(msgs []raftpb.Message) {
	for _, msg := range msgs {
		if msg.To == n.ID {
			continue
		}

		go func(m raftpb.Message) {
			if err := n.transport.Send(m); err != nil {
				slog.Error("failed to send raft message",
					"from", m.From,
					"to", m.To,
					"type", m.Type,
					"error", err)
				n.underlying.ReportUnreachable(m.To)
			}
		}(msg)
	}
}

// applyEntry never fails the raft loop: a command error belongs to its
// proposer, not to the log.
func (n *Node) applyEntry(entry raftpb.Entry) {
	if len(entry.Data) == 0 {
		return
	}

	var cmd Cmd
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		slog.Error("skipping undecodable raft entry", "index", entry.Index, "error", err)
		return
	}

	if filter := n.applyFilter.Load(); filter != nil && !(*filter)(cmd.Row) {
		n.notifyProposalResult(cmd.ID, proposeResult{})
		return
	}

	res, err := n.apply(cmd)
	if err != nil {
		slog.Warn("raft command failed", "op", cmd.Op, "row", cmd.Row, "error", err)
	}
	n.notifyProposalResult(cmd.ID, proposeResult{Counter: res, Err: err})
}

func (n *Node) apply(cmd Cmd) (int64, error) {
	// entries come from peers' logs, not only from this node's Execute
	if err := cmd.validate(); err != nil {
		return 0, err
	}
	ctx := n.ctx
	switch cmd.Op {
	case store.UpdateOp:
		return 0, n.target.Update(ctx, cmd.Row, cmd.Columns)
	case store.DeleteColumnOp:
		return 0, n.target.DeleteColumns(ctx, cmd.Row, cmd.Names)
	case store.DeleteRowOp:
		return 0, n.target.DeleteRow(ctx, cmd.Row)
	case store.IncrementOp:
		return n.target.Increment(ctx, cmd.Row, cmd.Names[0], cmd.Delta)
	default:
		return 0, fmt.Errorf("unknown command operation: %v", cmd.Op)
	}
}

func (n *Node) IsLeader() bool {
	return n.underlying.Status().Lead == n.ID
}

func (n *Node) LeaderID() uint64 {
	return n.underlying.Status().Lead
}

// LeaderAddr returns the leader's address, or "" while there is none.
func (n *Node) LeaderAddr() string {
	lead := n.underlying.Status().Lead
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	return n.peers[lead]
}

type proposeResult struct {
	Counter int64
	Err     error
}

func (n *Node) notifyProposalResult(id uuid.UUID, result proposeResult) {
	n.proposalsMu.RLock()
	resultChan, ok := n.proposals[id]
	n.proposalsMu.RUnlock()

	if !ok {
		// applied on a follower, or the proposer already gave up
		slog.Debug("proposal result channel not found (ignored)", "cmd_id", id)
		return
	}

	select {
	case resultChan <- result:
	default:
		slog.Debug("proposal result channel is full (ignored)", "cmd_id", id)
	}
}

// Execute proposes cmd and waits until this node has applied it. For
// increments the returned value is the new counter.
func (n *Node) Execute(ctx context.Context, cmd Cmd) (int64, error) {
	if err := cmd.validate(); err != nil {
		return 0, err
	}
	if n.ctx.Err() != nil {
		return 0, ErrNodeStopped
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return 0, fmt.Errorf("marshal command: %w", err)
	}

	resultChan := make(chan proposeResult, 1)
	n.proposalsMu.Lock()
	n.proposals[cmd.ID] = resultChan
	n.proposalsMu.Unlock()

	defer func() {
		n.proposalsMu.Lock()
		delete(n.proposals, cmd.ID)
		n.proposalsMu.Unlock()
	}()

	if err := n.underlying.Propose(ctx, data); err != nil {
		return 0, fmt.Errorf("propose: %w", err)
	}

	select {
	case result := <-resultChan:
		return result.Counter, result.Err
	case <-n.ctx.Done():
		return 0, ErrNodeStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Handle steps a message received from a peer.
func (n *Node) Handle(ctx context.Context, msg raftpb.Message) error {
	return n.underlying.Step(ctx, msg)
}

func (n *Node) Stop() error {
	n.once.Do(func() {
		slog.Info("stopping raft node", "id", n.ID)
		n.stop()
		n.underlying.Stop()
		slog.Info("raft node stopped", "id", n.ID)
	})
	return nil
}

// SetApplyFilter limits which rows this node applies. nil applies all.
func (n *Node) SetApplyFilter(fn func(row string) bool) {
	if fn == nil {
		n.applyFilter.Store(nil)
		return
	}
	n.applyFilter.Store(&fn)
}
