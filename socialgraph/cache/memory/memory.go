package memory

import (
	"sync"

	"Friend_Path/socialgraph/graph"
)

// InMemoryCache is a cache.Cache backed by a map. Writers take an exclusive
// lock only for the duration of the map assignment; there is no per-id
// fetch guarantee.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[graph.NodeID]graph.EdgeList
}

// NewInMemoryCache creates a new empty edge cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[graph.NodeID]graph.EdgeList),
	}
}

// Get implements cache.Cache.
func (s *InMemoryCache) Get(id graph.NodeID) (graph.EdgeList, bool) {
	s.mu.RLock()
	edges, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneNonNil(edges), true
}

// Put implements cache.Cache.
func (s *InMemoryCache) Put(id graph.NodeID, edges graph.EdgeList) {
	eCopy := cloneNonNil(edges)
	s.mu.Lock()
	s.entries[id] = eCopy
	s.mu.Unlock()
}

// Len implements cache.Cache.
func (s *InMemoryCache) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot implements cache.Cache.
func (s *InMemoryCache) Snapshot() map[graph.NodeID]graph.EdgeList {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[graph.NodeID]graph.EdgeList, len(s.entries))
	for id, edges := range s.entries {
		snap[id] = cloneNonNil(edges)
	}
	return snap
}

// Restore implements cache.Cache.
func (s *InMemoryCache) Restore(entries map[graph.NodeID]graph.EdgeList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, edges := range entries {
		s.entries[id] = cloneNonNil(edges)
	}
}

// cloneNonNil copies edges, keeping an empty list distinguishable from a
// miss.
func cloneNonNil(edges graph.EdgeList) graph.EdgeList {
	out := make(graph.EdgeList, len(edges))
	copy(out, edges)
	return out
}
