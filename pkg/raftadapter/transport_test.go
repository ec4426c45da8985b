package raftadapter

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

func TestTransport_Send(t *testing.T) {
	var (
		calls atomic.Int32
		got   raftpb.Message
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RaftEndpoint, r.URL.Path)
		assert.Equal(t, ContentTypeRaft, r.Header.Get("Content-Type"))
		// first attempt fails
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, got.Unmarshal(body))
	}))
	defer srv.Close()

	tr := NewTransport(map[uint64]string{2: srv.URL}, WithSendRetry(3, time.Millisecond))
	msg := raftpb.Message{From: 1, To: 2, Type: raftpb.MsgApp, Term: 4,
		Entries: []raftpb.Entry{{Term: 4, Index: 9, Data: []byte("cmd")}}}
	require.NoError(t, tr.Send(msg))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(4), got.Term)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, []byte("cmd"), got.Entries[0].Data)
}

func TestTransport_Failures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewTransport(nil, WithSendRetry(2, time.Millisecond))
	require.Error(t, tr.Send(raftpb.Message{To: 7}))

	tr.AddPeer(7, srv.URL)
	err := tr.Send(raftpb.Message{To: 7, Type: raftpb.MsgHeartbeat})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(2), calls.Load())

	tr.RemovePeer(7)
	require.Error(t, tr.Send(raftpb.Message{To: 7}))
	assert.Equal(t, int32(2), calls.Load())
}
