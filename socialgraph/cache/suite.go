package cache

import (
	"fmt"
	"sync"

	"Friend_Path/socialgraph/graph"
	gc "gopkg.in/check.v1"
)

// SuiteBase defines a re-usable set of cache-related tests that can be
// executed against any type that implements cache.Cache.
type SuiteBase struct {
	c Cache
}

// SetCache configures the test-suite to run all tests against c.
func (s *SuiteBase) SetCache(c Cache) {
	s.c = c
}

// TestGetMiss verifies that unknown ids report a miss.
func (s *SuiteBase) TestGetMiss(c *gc.C) {
	edges, ok := s.c.Get(42)
	c.Assert(ok, gc.Equals, false)
	c.Assert(edges, gc.IsNil)
}

// TestPutGet verifies that stored lists are returned in order.
func (s *SuiteBase) TestPutGet(c *gc.C) {
	in := graph.EdgeList{{ID: 2, Handle: "b"}, {ID: 3, Handle: "c"}, {ID: 1, Handle: "a"}}
	s.c.Put(1, in)

	out, ok := s.c.Get(1)
	c.Assert(ok, gc.Equals, true)
	c.Assert(out, gc.DeepEquals, in)
	c.Assert(s.c.Len(), gc.Equals, 1)

	// An empty (but non-nil) list is still a hit.
	s.c.Put(5, graph.EdgeList{})
	out, ok = s.c.Get(5)
	c.Assert(ok, gc.Equals, true)
	c.Assert(out, gc.HasLen, 0)
}

// TestPutOverwrites verifies last-writer-wins semantics.
func (s *SuiteBase) TestPutOverwrites(c *gc.C) {
	s.c.Put(1, graph.EdgeList{{ID: 2, Handle: "b"}})
	s.c.Put(1, graph.EdgeList{{ID: 3, Handle: "c"}})

	out, ok := s.c.Get(1)
	c.Assert(ok, gc.Equals, true)
	c.Assert(out, gc.DeepEquals, graph.EdgeList{{ID: 3, Handle: "c"}})
	c.Assert(s.c.Len(), gc.Equals, 1)
}

// TestReturnedListsAreCopies verifies that callers cannot mutate cached state.
func (s *SuiteBase) TestReturnedListsAreCopies(c *gc.C) {
	in := graph.EdgeList{{ID: 2, Handle: "b"}}
	s.c.Put(1, in)
	in[0].Handle = "changed-after-put"

	out, _ := s.c.Get(1)
	c.Assert(out[0].Handle, gc.Equals, graph.Handle("b"))

	out[0].Handle = "changed-after-get"
	again, _ := s.c.Get(1)
	c.Assert(again[0].Handle, gc.Equals, graph.Handle("b"))
}

// TestSnapshotRestore verifies that a snapshot can hydrate another cache.
func (s *SuiteBase) TestSnapshotRestore(c *gc.C) {
	s.c.Put(1, graph.EdgeList{{ID: 2, Handle: "b"}})
	s.c.Put(2, graph.EdgeList{{ID: 1, Handle: "a"}, {ID: 3, Handle: "c"}})

	snap := s.c.Snapshot()
	c.Assert(snap, gc.HasLen, 2)

	// Mutating the snapshot must not leak into the cache.
	snap[1][0].Handle = "mutated"
	delete(snap, 2)
	out, _ := s.c.Get(1)
	c.Assert(out[0].Handle, gc.Equals, graph.Handle("b"))
	c.Assert(s.c.Len(), gc.Equals, 2)

	s.c.Restore(map[graph.NodeID]graph.EdgeList{
		2: {{ID: 9, Handle: "z"}},
		7: {},
	})
	c.Assert(s.c.Len(), gc.Equals, 3)
	out, _ = s.c.Get(2)
	c.Assert(out, gc.DeepEquals, graph.EdgeList{{ID: 9, Handle: "z"}})
}

// TestConcurrentAccess verifies that multiple clients can concurrently
// read and write the cache.
func (s *SuiteBase) TestConcurrentAccess(c *gc.C) {
	var (
		wg         sync.WaitGroup
		numWriters = 10
		numIDs     = 100
	)

	wg.Add(numWriters)
	for w := 0; w < numWriters; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < numIDs; i++ {
				id := graph.NodeID(i)
				s.c.Put(id, graph.EdgeList{{ID: id + 1, Handle: graph.Handle(fmt.Sprint(i))}})
				_, _ = s.c.Get(id)
			}
		}(w)
	}
	wg.Wait()

	c.Assert(s.c.Len(), gc.Equals, numIDs)
	for i := 0; i < numIDs; i++ {
		out, ok := s.c.Get(graph.NodeID(i))
		c.Assert(ok, gc.Equals, true)
		c.Assert(out, gc.DeepEquals, graph.EdgeList{{ID: graph.NodeID(i) + 1, Handle: graph.Handle(fmt.Sprint(i))}})
	}
}
