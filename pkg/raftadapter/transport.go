package raftadapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.etcd.io/etcd/raft/v3/raftpb"
)

const (
	RaftEndpoint = "/api/internal/raft"

	// ContentTypeRaft marks a body holding one protobuf-encoded raftpb.Message.
	ContentTypeRaft = "application/x-protobuf"

	defaultSendTimeout = 3 * time.Second
	defaultAttempts    = 3
	defaultBackoff     = 100 * time.Millisecond
)

type TransportOption func(*Transport)

func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithSendRetry sets how many times a message is posted before the peer is
// reported unreachable, and the base wait between posts.
func WithSendRetry(attempts int, backoff time.Duration) TransportOption {
	return func(t *Transport) {
		if attempts > 0 {
			t.attempts = attempts
		}
		if backoff > 0 {
			t.backoff = backoff
		}
	}
}

// Transport posts raft messages to peers over HTTP.
type Transport struct {
	mu    sync.RWMutex
	peers map[uint64]string

	client   *http.Client
	attempts int
	backoff  time.Duration
}

func NewTransport(peers map[uint64]string, opts ...TransportOption) *Transport {
	t := &Transport{
		peers:    make(map[uint64]string, len(peers)),
		client:   &http.Client{Timeout: defaultSendTimeout},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for id, addr := range peers {
		t.peers[id] = addr
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) AddPeer(id uint64, addr string) {
	t.mu.Lock()
	t.peers[id] = addr
	t.mu.Unlock()
}

func (t *Transport) RemovePeer(id uint64) {
	t.mu.Lock()
	delete(t.peers, id)
	t.mu.Unlock()
}

func (t *Transport) UpdatePeer(id uint64, addr string) {
	t.AddPeer(id, addr)
}

func (t *Transport) peer(id uint64) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.peers[id]
	return addr, ok
}

// Send delivers msg, retrying with a linear backoff.
func (t *Transport) Send(msg raftpb.Message) error {
	addr, ok := t.peer(msg.To)
	if !ok {
		return fmt.Errorf("unknown raft peer %d", msg.To)
	}
	body, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encode raft message: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		if lastErr = t.post(addr+RaftEndpoint, body); lastErr == nil {
			return nil
		}
		if attempt == t.attempts {
			break
		}
		slog.Debug("raft send failed, retrying",
			"to", msg.To, "type", msg.Type, "attempt", attempt, "error", lastErr)
		time.Sleep(t.backoff * time.Duration(attempt))
	}
	return fmt.Errorf("send %s to %d after %d attempts: %w", msg.Type, msg.To, t.attempts, lastErr)
}

func (t *Transport) post(url string, body []byte) error {
	timeout := t.client.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentTypeRaft)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("peer answered %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
