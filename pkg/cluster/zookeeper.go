package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const (
	nodesDir       = "nodes"
	connectTimeout = 10 * time.Second
	watchRetry     = 2 * time.Second
)

// ZKMembership registers this node in ZooKeeper and tracks live members.
type ZKMembership struct {
	conn     *zk.Conn
	rootPath string
	local    string
}

func NewZKMembership(servers []string, rootPath, localAddr string, sessionTimeout time.Duration) (*ZKMembership, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return &ZKMembership{
		conn:     conn,
		rootPath: rootPath,
		local:    localAddr,
	}, nil
}

func (m *ZKMembership) Close() error {
	m.conn.Close()
	return nil
}

func (m *ZKMembership) nodesPath() string {
	return path.Join(m.rootPath, nodesDir)
}

func (m *ZKMembership) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		exists, _, err := m.conn.Exists(cur)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		_, err = m.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

// RegisterSelf creates the ephemeral znode of this node.
func (m *ZKMembership) RegisterSelf(ctx context.Context) error {
	if err := m.waitConnected(ctx, connectTimeout); err != nil {
		return err
	}
	if err := m.ensurePath(m.nodesPath()); err != nil {
		return fmt.Errorf("ensure nodes path: %w", err)
	}

	nodePath := path.Join(m.nodesPath(), m.local)
	_, err := m.conn.Create(nodePath, nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	slog.Info("registered in zookeeper", "path", nodePath)
	return nil
}

// BuildRing builds a ring from the current members.
func (m *ZKMembership) BuildRing(replicas int) (*HashRing, error) {
	children, _, err := m.conn.Children(m.nodesPath())
	if err != nil {
		return nil, fmt.Errorf("zk children: %w", err)
	}
	return ringOf(children, replicas), nil
}

// Watch rebuilds the router's ring on every membership change until ctx
// is done.
func (m *ZKMembership) Watch(ctx context.Context, r *Router, replicas int) error {
	for {
		children, _, ch, err := m.conn.ChildrenW(m.nodesPath())
		if err != nil {
			slog.Warn("zk children watch failed", "error", err)
			select {
			case <-time.After(watchRetry):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		r.UpdateRing(ringOf(children, replicas))

		select {
		case ev := <-ch:
			slog.Debug("zk membership event", "type", ev.Type, "path", ev.Path)
		case <-ctx.Done():
			slog.Info("zk watch stopped")
			return nil
		}
	}
}

func ringOf(members []string, replicas int) *HashRing {
	ring := NewHashRing(replicas)
	for _, n := range members {
		ring.AddNode(n)
	}
	return ring
}

func (m *ZKMembership) waitConnected(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := m.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
	}
}
