package snapshot

import (
	"context"
	"encoding/json"

	"Friend_Path/socialgraph/graph"
	"golang.org/x/xerrors"
)

// Store is implemented by durable backends that persist full edge cache
// snapshots.
type Store interface {
	// Save atomically replaces the stored snapshot with entries. On failure
	// the previously stored snapshot is left intact.
	Save(ctx context.Context, entries map[graph.NodeID]graph.EdgeList) error

	// Load returns the latest stored snapshot, or an empty map if none has
	// been saved yet.
	Load(ctx context.Context) (map[graph.NodeID]graph.EdgeList, error)

	// Close releases any resources held by the store.
	Close() error
}

// EncodeEdges serializes a friend list for storage.
func EncodeEdges(edges graph.EdgeList) ([]byte, error) {
	if edges == nil {
		edges = graph.EdgeList{}
	}
	data, err := json.Marshal(edges)
	if err != nil {
		return nil, xerrors.Errorf("encode edges: %w", err)
	}
	return data, nil
}

// DecodeEdges is the inverse of EncodeEdges.
func DecodeEdges(data []byte) (graph.EdgeList, error) {
	edges := graph.EdgeList{}
	if err := json.Unmarshal(data, &edges); err != nil {
		return nil, xerrors.Errorf("decode edges: %w", err)
	}
	if edges == nil {
		edges = graph.EdgeList{}
	}
	return edges, nil
}
