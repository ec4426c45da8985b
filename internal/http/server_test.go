package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"widerow/pkg/compression"
	"widerow/pkg/config"
	"widerow/pkg/metrics"
	"widerow/pkg/raftadapter"
	"widerow/pkg/store"
	"widerow/pkg/types"
)

type fakeRaftNode struct {
	leader     bool
	leaderAddr string
	handled    []raftpb.Message
}

func (n *fakeRaftNode) IsLeader() bool     { return n.leader }
func (n *fakeRaftNode) LeaderAddr() string { return n.leaderAddr }
func (n *fakeRaftNode) Handle(_ context.Context, m raftpb.Message) error {
	n.handled = append(n.handled, m)
	return nil
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *store.Store) {
	t.Helper()
	s := store.New()
	srv := httptest.NewServer(NewServer(s, config.Default().Server, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, s
}

func do(t *testing.T, method, u string, body any) (int, Response) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, u, rd)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	if method != http.MethodHead {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func keys(cols []types.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = string(c.Key)
	}
	return out
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	code, resp := do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestServer_RowLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	rowURL := srv.URL + "/api/rows/users"

	code, _ := do(t, http.MethodHead, rowURL, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp := do(t, http.MethodPut, rowURL, UpdateRequest{Columns: []types.Column{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}})
	require.Equal(t, http.StatusOK, code, resp.Error)

	code, _ = do(t, http.MethodHead, rowURL, nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp = do(t, http.MethodGet, rowURL+"?from=b", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"b", "c"}, keys(resp.Columns))

	code, resp = do(t, http.MethodGet, rowURL+"/count", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 3, *resp.Count)

	code, resp = do(t, http.MethodGet, rowURL+"/columns/b", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []byte("2"), resp.Value)

	code, _ = do(t, http.MethodGet, rowURL+"/columns/zz", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodDelete, rowURL+"/columns", DeleteColumnsRequest{Names: [][]byte{[]byte("a")}})
	require.Equal(t, http.StatusOK, code)

	code, resp = do(t, http.MethodGet, rowURL, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"b", "c"}, keys(resp.Columns))

	code, _ = do(t, http.MethodDelete, rowURL, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, http.MethodGet, rowURL, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_Page(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.Update(context.Background(), "r", []types.Column{
		{Key: []byte("a")}, {Key: []byte("b")}, {Key: []byte("c")}, {Key: []byte("d")},
	}))

	q := url.Values{"from": {"\x00"}, "count": {"3"}}
	code, resp := do(t, http.MethodGet, srv.URL+"/api/rows/r/columns?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"a", "b", "c"}, keys(resp.Columns))

	q = url.Values{"from": {"c"}, "count": {"3"}, "reversed": {"true"}}
	code, resp = do(t, http.MethodGet, srv.URL+"/api/rows/r/columns?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"c", "b", "a"}, keys(resp.Columns))

	// present row, nothing past the bound
	q = url.Values{"from": {"z"}, "count": {"3"}}
	code, resp = do(t, http.MethodGet, srv.URL+"/api/rows/r/columns?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp.Columns)

	code, _ = do(t, http.MethodGet, srv.URL+"/api/rows/missing/columns?count=3", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = do(t, http.MethodGet, srv.URL+"/api/rows/r/columns?count=0", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, StatusError, resp.Status)

	code, _ = do(t, http.MethodGet, srv.URL+"/api/rows/r/columns?count=3&reversed=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_EscapedKeys(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.Update(context.Background(), "a/b c", []types.Column{{Key: []byte("x/y"), Value: []byte("v")}}))

	code, resp := do(t, http.MethodGet, srv.URL+"/api/rows/"+url.PathEscape("a/b c")+"/columns/"+url.PathEscape("x/y"), nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, []byte("v"), resp.Value)
}

func TestServer_Increment(t *testing.T) {
	srv, _ := newTestServer(t)

	code, resp := do(t, http.MethodPost, srv.URL+"/api/rows/stats/columns/hits/increment", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, resp.Counter)
	assert.Equal(t, int64(1), *resp.Counter)

	code, resp = do(t, http.MethodPost, srv.URL+"/api/rows/stats/columns/hits/increment?delta=10", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(11), *resp.Counter)

	code, _ = do(t, http.MethodPost, srv.URL+"/api/rows/stats/columns/hits/increment?delta=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_BadBodies(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/rows/r", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	code, _ := do(t, http.MethodPut, srv.URL+"/api/rows/r", UpdateRequest{Columns: []types.Column{{Key: nil}}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_LeaderRedirect(t *testing.T) {
	leaderSrv, leaderStore := newTestServer(t)
	node := &fakeRaftNode{leaderAddr: leaderSrv.URL}
	followerSrv, followerStore := newTestServer(t, WithRaft(node))

	code, resp := do(t, http.MethodPut, followerSrv.URL+"/api/rows/r", UpdateRequest{Columns: []types.Column{{Key: []byte("k"), Value: []byte("v")}}})
	require.Equal(t, http.StatusOK, code, resp.Error)

	ok, err := leaderStore.RowExists(context.Background(), "r")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = followerStore.RowExists(context.Background(), "r")
	require.NoError(t, err)
	assert.False(t, ok)

	// reads stay local
	code, _ = do(t, http.MethodGet, followerSrv.URL+"/api/rows/r", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_NoRedirectWithoutLeader(t *testing.T) {
	srv, s := newTestServer(t, WithRaft(&fakeRaftNode{}))

	code, _ := do(t, http.MethodPut, srv.URL+"/api/rows/r", UpdateRequest{Columns: []types.Column{{Key: []byte("k")}}})
	require.Equal(t, http.StatusOK, code)
	ok, err := s.RowExists(context.Background(), "r")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestServer_RaftEndpoint(t *testing.T) {
	node := &fakeRaftNode{leader: true}
	srv, _ := newTestServer(t, WithRaft(node))

	msg := raftpb.Message{From: 2, To: 1, Type: raftpb.MsgHeartbeat}
	body, err := msg.Marshal()
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/internal/raft", raftadapter.ContentTypeRaft, bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, node.handled, 1)
	assert.Equal(t, uint64(2), node.handled[0].From)

	resp, err = http.Post(srv.URL+"/api/internal/raft", raftadapter.ContentTypeRaft, strings.NewReader("\xff\xff"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	plain, _ := newTestServer(t)
	resp, err = http.Post(plain.URL+"/api/internal/raft", raftadapter.ContentTypeRaft, bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, WithMetrics(metrics.New()))

	code, _ := do(t, http.MethodGet, srv.URL+"/api/rows/none/columns?count=5", nil)
	require.Equal(t, http.StatusNotFound, code)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `widerow_pages_served_total{row_state="absent"} 1`)
	assert.Contains(t, string(body), `route="/api/rows/{row}/columns"`)
}

func TestServer_ZstdPages(t *testing.T) {
	srv, s := newTestServer(t)
	var cols []types.Column
	for i := range 50 {
		cols = append(cols, types.Column{Key: []byte{'k', byte('a' + i%26), byte(i)}, Value: bytes.Repeat([]byte("v"), 64)})
	}
	require.NoError(t, s.Update(context.Background(), "wide", cols))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/rows/wide/columns?count=50", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", compression.AcceptEncoding)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, compression.Zstd, resp.Header.Get("Content-Encoding"))

	body, err := compression.NewReader(resp.Header.Get("Content-Encoding"), resp.Body)
	require.NoError(t, err)
	defer body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	assert.Len(t, out.Columns, 50)
}
