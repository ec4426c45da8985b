package raftadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"widerow/pkg/config"
	"widerow/pkg/store"
	"widerow/pkg/types"
)

// inprocTransport routes raft messages between nodes in memory
type inprocTransport struct {
	nodesMu sync.RWMutex
	nodes   map[uint64]*Node
}

func newInprocTransport() *inprocTransport {
	return &inprocTransport{nodes: make(map[uint64]*Node)}
}

func (t *inprocTransport) Send(msg raftpb.Message) error {
	t.nodesMu.RLock()
	target, ok := t.nodes[msg.To]
	t.nodesMu.RUnlock()
	if !ok {
		return nil
	}
	go func() {
		_ = target.Handle(context.Background(), msg)
	}()
	return nil
}

func (t *inprocTransport) AddPeer(uint64, string)    {}
func (t *inprocTransport) RemovePeer(uint64)         {}
func (t *inprocTransport) UpdatePeer(uint64, string) {}

func testRaftConfig(id uint64, peers ...uint64) *config.RaftConfig {
	cfg := config.DefaultRaft(id, "")
	cfg.TickInterval = 10 * time.Millisecond
	cfg.Peers = nil
	for _, p := range peers {
		cfg.Peers = append(cfg.Peers, config.RaftPeerConfig{ID: p, Address: fmt.Sprintf("n%d", p)})
	}
	return cfg
}

func waitForLeader(t *testing.T, nodes []*Node, timeout time.Duration) *Node {
	t.Helper()
	var leader *Node
	require.Eventually(t, func() bool {
		leader = nil
		count := 0
		for _, n := range nodes {
			if n.IsLeader() {
				leader = n
				count++
			}
		}
		return count == 1
	}, timeout, 20*time.Millisecond, "leader not elected")
	return leader
}

type cluster struct {
	nodes  []*Node
	stores []*store.Store
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func startCluster(t *testing.T, size int) *cluster {
	t.Helper()

	ids := make([]uint64, size)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}

	c := &cluster{}
	transport := newInprocTransport()
	for _, id := range ids {
		s := store.New()
		n, err := NewNode(testRaftConfig(id, ids...), s)
		require.NoError(t, err)
		n.transport = transport
		c.nodes = append(c.nodes, n)
		c.stores = append(c.stores, s)

		transport.nodesMu.Lock()
		transport.nodes[id] = n
		transport.nodesMu.Unlock()
	}

	var ctx context.Context
	ctx, c.cancel = context.WithCancel(context.Background())
	for _, n := range c.nodes {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_ = n.Run(ctx)
		}()
	}

	t.Cleanup(func() {
		c.cancel()
		for _, n := range c.nodes {
			_ = n.Stop()
		}
		c.wg.Wait()
	})
	return c
}

func TestReplication_3Nodes(t *testing.T) {
	c := startCluster(t, 3)
	leader := waitForLeader(t, c.nodes, 5*time.Second)
	ctx := context.Background()

	_, err := leader.Execute(ctx, UpdateCmd("r", []types.Column{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, s := range c.stores {
			if n, _ := s.ColumnCount(ctx, "r", types.Slice{}); n != 2 {
				return false
			}
		}
		return true
	}, 3*time.Second, 20*time.Millisecond, "replication did not reach all nodes")
}

func TestReplicated_Family(t *testing.T) {
	c := startCluster(t, 1)
	leader := waitForLeader(t, c.nodes, 5*time.Second)
	ctx := context.Background()

	fam := NewReplicated(c.stores[0], leader)

	require.NoError(t, fam.Update(ctx, "r", []types.Column{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}))
	require.NoError(t, fam.DeleteColumns(ctx, "r", [][]byte{[]byte("b")}))

	got, err := fam.GetRow(ctx, "r", types.Slice{})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("c")}, got.MustGet().Keys())

	v, err := fam.Increment(ctx, "n", []byte("hits"), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	v, err = fam.Increment(ctx, "n", []byte("hits"), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	require.NoError(t, fam.DeleteRow(ctx, "r"))
	ok, err := fam.RowExists(ctx, "r")
	require.NoError(t, err)
	assert.False(t, ok)

	// apply errors come back to the proposer
	require.NoError(t, fam.Update(ctx, "n", []types.Column{{Key: []byte("bad"), Value: []byte("xyz")}}))
	_, err = fam.Increment(ctx, "n", []byte("bad"), 1)
	require.Error(t, err)
}

func TestExecute_Validation(t *testing.T) {
	c := startCluster(t, 1)
	leader := waitForLeader(t, c.nodes, 5*time.Second)

	_, err := leader.Execute(context.Background(), UpdateCmd("", nil))
	require.ErrorIs(t, err, store.ErrEmptyKey)
	_, err = leader.Execute(context.Background(), UpdateCmd("r", nil))
	require.Error(t, err)
	_, err = leader.Execute(context.Background(), Cmd{Op: 99, Row: "r"})
	require.Error(t, err)
}

func TestApplyEntry_MalformedCommand(t *testing.T) {
	st := store.New()
	n := &Node{target: st, ctx: context.Background()}

	_, err := n.apply(Cmd{Op: store.IncrementOp, Row: "r"})
	require.Error(t, err)

	data, err := json.Marshal(Cmd{Op: store.IncrementOp, Row: "r", ID: uuid.New()})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		n.applyEntry(raftpb.Entry{Index: 1, Data: data})
	})
	ok, err := st.RowExists(context.Background(), "r")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecute_AfterStop(t *testing.T) {
	c := startCluster(t, 1)
	leader := waitForLeader(t, c.nodes, 5*time.Second)
	require.NoError(t, leader.Stop())

	_, err := leader.Execute(context.Background(), DeleteRowCmd("r"))
	require.ErrorIs(t, err, ErrNodeStopped)
}

func TestApplyFilter(t *testing.T) {
	c := startCluster(t, 1)
	leader := waitForLeader(t, c.nodes, 5*time.Second)
	leader.SetApplyFilter(func(row string) bool { return row != "skip" })
	ctx := context.Background()

	_, err := leader.Execute(ctx, UpdateCmd("skip", []types.Column{{Key: []byte("a")}}))
	require.NoError(t, err)
	ok, err := c.stores[0].RowExists(ctx, "skip")
	require.NoError(t, err)
	assert.False(t, ok)
}
