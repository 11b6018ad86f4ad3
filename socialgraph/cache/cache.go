package cache

import "Friend_Path/socialgraph/graph"

// Cache is implemented by process-wide stores that map a member to its
// expanded friend list. A cache is an accelerator: a miss only costs a
// remote fetch, and two concurrent writers for the same id are allowed to
// race since they store the same remote state.
type Cache interface {
	// Get returns a copy of the cached friend list for id.
	Get(id graph.NodeID) (graph.EdgeList, bool)

	// Put stores edges for id, replacing any existing entry.
	Put(id graph.NodeID, edges graph.EdgeList)

	// Len returns the number of cached members.
	Len() int

	// Snapshot returns a copy of every cache entry.
	Snapshot() map[graph.NodeID]graph.EdgeList

	// Restore bulk-loads entries into the cache, overwriting existing ones.
	Restore(entries map[graph.NodeID]graph.EdgeList)
}
