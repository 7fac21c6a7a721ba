// Package history archives snapshot generations so past topologies can
// be inspected after the fact.
//
// Two backends implement the [Store] interface:
//   - memory: bounded in-process ring, for development and tests
//   - mongo: MongoDB-backed archive for durable multi-instance deployments
//
// History is off by default. When enabled, the refresh cycle appends
// every changed snapshot after it is published; archiving failures are
// logged and never block serving.
package history

import (
	"context"
	"errors"
	"sync"

	"github.com/siostam/siostam/pkg/topo"
)

// ErrNotFound is returned when no archived snapshot has the requested
// generation.
var ErrNotFound = errors.New("snapshot not found")

// DefaultRetention is how many snapshots the memory backend keeps when
// the config does not specify a limit.
const DefaultRetention = 100

// Store is the interface for snapshot archive backends.
type Store interface {
	// Append archives a snapshot. Appending the same generation twice
	// is idempotent.
	Append(ctx context.Context, s *topo.Snapshot) error

	// Get retrieves an archived snapshot by generation.
	// Returns ErrNotFound if the generation was never archived or has
	// been evicted.
	Get(ctx context.Context, generation uint64) (*topo.Snapshot, error)

	// Generations lists archived generations in ascending order.
	Generations(ctx context.Context) ([]uint64, error)

	// Close releases backend resources.
	Close() error
}

// MemoryStore keeps the most recent snapshots in process memory.
// It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	retention int
	order     []uint64
	snapshots map[uint64]*topo.Snapshot
}

// NewMemoryStore creates a memory archive keeping at most retention
// snapshots. retention <= 0 selects DefaultRetention.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		retention: retention,
		snapshots: make(map[uint64]*topo.Snapshot),
	}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, s *topo.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snapshots[s.Generation]; ok {
		return nil
	}
	m.snapshots[s.Generation] = s
	m.order = append(m.order, s.Generation)

	for len(m.order) > m.retention {
		evict := m.order[0]
		m.order = m.order[1:]
		delete(m.snapshots, evict)
	}
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, generation uint64) (*topo.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[generation]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Generations implements Store.
func (m *MemoryStore) Generations(_ context.Context) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]uint64, len(m.order))
	copy(out, m.order)
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
