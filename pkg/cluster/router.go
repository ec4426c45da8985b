package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"widerow/pkg/family"
	"widerow/pkg/types"
)

var ErrEmptyRing = errors.New("ring is empty")

// ClientFactory builds a family served by a remote node.
type ClientFactory func(target string) (family.Family, error)

// Router is a Family that sends each row to the node owning it on the ring.
type Router struct {
	localAddr string
	local     family.Family
	newClient ClientFactory

	mu   sync.RWMutex
	ring *HashRing

	clientsMu sync.Mutex
	clients   map[string]family.Family
}

var _ family.Family = (*Router)(nil)

func NewRouter(localAddr string, local family.Family, ring *HashRing, newClient ClientFactory) *Router {
	return &Router{
		localAddr: localAddr,
		local:     local,
		newClient: newClient,
		ring:      ring,
		clients:   make(map[string]family.Family),
	}
}

func (r *Router) UpdateRing(ring *HashRing) {
	r.mu.Lock()
	r.ring = ring
	r.mu.Unlock()
	slog.Info("router ring updated", "nodes", ring.ListNodes())
}

func (r *Router) owner(row string) (string, error) {
	r.mu.RLock()
	ring := r.ring
	r.mu.RUnlock()

	if ring == nil {
		return "", ErrEmptyRing
	}
	node, ok := ring.GetNode(row)
	if !ok {
		return "", ErrEmptyRing
	}
	return node, nil
}

func (r *Router) familyFor(target string) (family.Family, error) {
	if target == r.localAddr {
		return r.local, nil
	}

	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	if c, ok := r.clients[target]; ok {
		return c, nil
	}
	c, err := r.newClient(target)
	if err != nil {
		return nil, fmt.Errorf("router: create client for %s: %w", target, err)
	}
	r.clients[target] = c
	return c, nil
}

func (r *Router) route(op, row string) (family.Family, error) {
	target, err := r.owner(row)
	if err != nil {
		return nil, err
	}
	slog.Debug("router", "op", op, "row", row, "target", target, "local", target == r.localAddr)
	return r.familyFor(target)
}

func (r *Router) FetchPage(ctx context.Context, req types.PageRequest) (mo.Option[types.Page], error) {
	f, err := r.route("page", req.Row)
	if err != nil {
		return mo.None[types.Page](), err
	}
	return f.FetchPage(ctx, req)
}

func (r *Router) GetRow(ctx context.Context, row string, sl types.Slice) (mo.Option[types.Page], error) {
	f, err := r.route("get", row)
	if err != nil {
		return mo.None[types.Page](), err
	}
	return f.GetRow(ctx, row, sl)
}

// GetRows asks every owning node once, in parallel.
func (r *Router) GetRows(ctx context.Context, rows []string, sl types.Slice) (map[string]types.Page, error) {
	byTarget := make(map[string][]string)
	for _, row := range rows {
		target, err := r.owner(row)
		if err != nil {
			return nil, err
		}
		byTarget[target] = append(byTarget[target], row)
	}

	var (
		mu  sync.Mutex
		res = make(map[string]types.Page, len(rows))
	)
	g, gctx := errgroup.WithContext(ctx)
	for target, group := range byTarget {
		g.Go(func() error {
			f, err := r.familyFor(target)
			if err != nil {
				return err
			}
			part, err := f.GetRows(gctx, group, sl)
			if err != nil {
				return fmt.Errorf("router: get rows from %s: %w", target, err)
			}
			mu.Lock()
			maps.Copy(res, part)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Router) GetColumn(ctx context.Context, row string, column []byte) ([]byte, bool, error) {
	f, err := r.route("get_column", row)
	if err != nil {
		return nil, false, err
	}
	return f.GetColumn(ctx, row, column)
}

func (r *Router) ColumnCount(ctx context.Context, row string, sl types.Slice) (int, error) {
	f, err := r.route("count", row)
	if err != nil {
		return 0, err
	}
	return f.ColumnCount(ctx, row, sl)
}

func (r *Router) RowExists(ctx context.Context, row string) (bool, error) {
	f, err := r.route("exists", row)
	if err != nil {
		return false, err
	}
	return f.RowExists(ctx, row)
}

func (r *Router) Update(ctx context.Context, row string, columns []types.Column) error {
	f, err := r.route("update", row)
	if err != nil {
		return err
	}
	return f.Update(ctx, row, columns)
}

func (r *Router) DeleteRow(ctx context.Context, row string) error {
	f, err := r.route("delete_row", row)
	if err != nil {
		return err
	}
	return f.DeleteRow(ctx, row)
}

func (r *Router) DeleteColumns(ctx context.Context, row string, columns [][]byte) error {
	f, err := r.route("delete_columns", row)
	if err != nil {
		return err
	}
	return f.DeleteColumns(ctx, row, columns)
}

func (r *Router) Increment(ctx context.Context, row string, column []byte, delta int64) (int64, error) {
	f, err := r.route("increment", row)
	if err != nil {
		return 0, err
	}
	return f.Increment(ctx, row, column, delta)
}
