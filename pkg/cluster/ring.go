package cluster

import (
	"slices"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// HashRing is a consistent-hash ring with virtual nodes.
type HashRing struct {
	replicas int

	mu      sync.RWMutex
	hashes  []uint64          // sorted
	owners  map[uint64]string // hash -> node
	members map[string]struct{}
}

func NewHashRing(replicas int) *HashRing {
	if replicas < 1 {
		replicas = 1
	}
	return &HashRing{
		replicas: replicas,
		owners:   make(map[uint64]string),
		members:  make(map[string]struct{}),
	}
}

func vnodeHash(node string, i int) uint64 {
	return xxhash.Sum64String(node + "#" + strconv.Itoa(i))
}

func (h *HashRing) AddNode(node string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.members[node]; ok {
		return
	}
	h.members[node] = struct{}{}
	for i := 0; i < h.replicas; i++ {
		hash := vnodeHash(node, i)
		if _, taken := h.owners[hash]; taken {
			continue
		}
		h.owners[hash] = node
		h.hashes = append(h.hashes, hash)
	}
	slices.Sort(h.hashes)
}

func (h *HashRing) RemoveNode(node string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.members[node]; !ok {
		return
	}
	delete(h.members, node)
	h.hashes = slices.DeleteFunc(h.hashes, func(hash uint64) bool {
		if h.owners[hash] != node {
			return false
		}
		delete(h.owners, hash)
		return true
	})
}

// GetNode returns the node owning key, or false on an empty ring.
func (h *HashRing) GetNode(key string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.hashes) == 0 {
		return "", false
	}

	hash := xxhash.Sum64String(key)
	idx, _ := slices.BinarySearch(h.hashes, hash)
	if idx == len(h.hashes) {
		idx = 0
	}
	return h.owners[h.hashes[idx]], true
}

// ListNodes returns the member nodes sorted by name.
func (h *HashRing) ListNodes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	nodes := make([]string, 0, len(h.members))
	for n := range h.members {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	return nodes
}
