package pathfinder

import (
	"Friend_Path/progress"
	"Friend_Path/socialgraph/graph"
)

// visit records how one side of the search first reached a member.
type visit struct {
	friend graph.Friend
	parent graph.NodeID
	depth  int
}

// frontier holds the per-side state of a bidirectional search: a FIFO queue
// of members still to expand and the visited map. A member is inserted into
// visited at most once, on first reach, which is at its BFS depth since the
// queue is consumed in non-decreasing depth order.
type frontier struct {
	side    progress.Side
	origin  graph.NodeID
	queue   []graph.NodeID
	visited map[graph.NodeID]visit
}

func newFrontier(side progress.Side, origin graph.Friend) *frontier {
	return &frontier{
		side:    side,
		origin:  origin.ID,
		queue:   []graph.NodeID{origin.ID},
		visited: map[graph.NodeID]visit{origin.ID: {friend: origin, parent: origin.ID}},
	}
}

func (f *frontier) empty() bool { return len(f.queue) == 0 }

// headDepth returns the depth of the next member to expand.
func (f *frontier) headDepth() int {
	return f.visited[f.queue[0]].depth
}

func (f *frontier) pop() (graph.NodeID, visit) {
	id := f.queue[0]
	f.queue[0] = 0
	f.queue = f.queue[1:]
	return id, f.visited[id]
}

// discover records friend as reached through parent. It returns false if
// this side had already reached it.
func (f *frontier) discover(friend graph.Friend, parent graph.NodeID, depth int) bool {
	if _, seen := f.visited[friend.ID]; seen {
		return false
	}
	f.visited[friend.ID] = visit{friend: friend, parent: parent, depth: depth}
	return true
}

func (f *frontier) enqueue(id graph.NodeID) {
	f.queue = append(f.queue, id)
}

// trail returns the members on this side's path from its origin to id,
// both included.
func (f *frontier) trail(id graph.NodeID) []graph.Friend {
	var rev []graph.Friend
	for {
		v := f.visited[id]
		rev = append(rev, v.friend)
		if id == f.origin {
			break
		}
		id = v.parent
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}
