package snapshot

import (
	"context"
	"fmt"

	"Friend_Path/socialgraph/graph"
	gc "gopkg.in/check.v1"
)

// SuiteBase defines a re-usable set of tests that can be executed against
// any type that implements snapshot.Store.
type SuiteBase struct {
	store Store
}

// SetStore configures the test-suite to run all tests against store.
func (s *SuiteBase) SetStore(store Store) {
	s.store = store
}

// TestLoadWithoutSnapshot verifies that a fresh store loads as empty.
func (s *SuiteBase) TestLoadWithoutSnapshot(c *gc.C) {
	entries, err := s.store.Load(context.TODO())
	c.Assert(err, gc.IsNil)
	c.Assert(entries, gc.NotNil)
	c.Assert(entries, gc.HasLen, 0)
}

// TestSaveLoad verifies that a saved snapshot is replayed verbatim.
func (s *SuiteBase) TestSaveLoad(c *gc.C) {
	in := map[graph.NodeID]graph.EdgeList{
		1: {{ID: 3, Handle: "c"}, {ID: 2, Handle: "b"}},
		2: {{ID: 1, Handle: "a"}},
		9: {},
	}
	c.Assert(s.store.Save(context.TODO(), in), gc.IsNil)

	out, err := s.store.Load(context.TODO())
	c.Assert(err, gc.IsNil)
	c.Assert(out, gc.DeepEquals, in)
}

// TestSaveReplacesPreviousSnapshot verifies that entries missing from a
// newer snapshot do not survive.
func (s *SuiteBase) TestSaveReplacesPreviousSnapshot(c *gc.C) {
	first := make(map[graph.NodeID]graph.EdgeList)
	for i := 0; i < 50; i++ {
		first[graph.NodeID(i)] = graph.EdgeList{{ID: graph.NodeID(i + 1), Handle: graph.Handle(fmt.Sprint(i + 1))}}
	}
	c.Assert(s.store.Save(context.TODO(), first), gc.IsNil)

	second := map[graph.NodeID]graph.EdgeList{
		100: {{ID: 101, Handle: "x"}},
	}
	c.Assert(s.store.Save(context.TODO(), second), gc.IsNil)

	out, err := s.store.Load(context.TODO())
	c.Assert(err, gc.IsNil)
	c.Assert(out, gc.DeepEquals, second)
}

// TestSaveNilList verifies that nil lists are stored as empty lists.
func (s *SuiteBase) TestSaveNilList(c *gc.C) {
	c.Assert(s.store.Save(context.TODO(), map[graph.NodeID]graph.EdgeList{4: nil}), gc.IsNil)

	out, err := s.store.Load(context.TODO())
	c.Assert(err, gc.IsNil)
	c.Assert(out, gc.DeepEquals, map[graph.NodeID]graph.EdgeList{4: {}})
}
