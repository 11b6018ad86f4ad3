package graph

import (
	"strconv"
	"strings"
)

// NodeID is the stable numeric identity of a member of the social graph.
type NodeID int64

// String returns the decimal form of the id.
func (id NodeID) String() string { return strconv.FormatInt(int64(id), 10) }

// Handle is the human-readable name a user supplies to identify a member.
type Handle string

// NormalizeHandle trims surrounding whitespace and lowercases h. Handles are
// case-insensitive so every lookup goes through this first.
func NormalizeHandle(h string) Handle {
	return Handle(strings.ToLower(strings.TrimSpace(h)))
}

// Friend is one outbound friend relation of a member.
type Friend struct {
	ID     NodeID `json:"id"`
	Handle Handle `json:"name"`
}

// EdgeList is the ordered list of friends of a member, in the order the
// remote API returned them.
type EdgeList []Friend

// Clone returns a copy of the list that shares no backing storage with l.
func (l EdgeList) Clone() EdgeList {
	if l == nil {
		return nil
	}
	out := make(EdgeList, len(l))
	copy(out, l)
	return out
}

// Contains reports whether id appears in the list.
func (l EdgeList) Contains(id NodeID) bool {
	for _, f := range l {
		if f.ID == id {
			return true
		}
	}
	return false
}

// Path is the ordered sequence of handles from a search origin to its
// destination, both endpoints included.
type Path []Handle

// String renders the path the way the front end displays it.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, h := range p {
		parts[i] = string(h)
	}
	return strings.Join(parts, " -> ")
}
