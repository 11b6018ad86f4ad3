package graph

import (
	"testing"

	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(GraphTestSuite))

func Test(t *testing.T) { gc.TestingT(t) }

type GraphTestSuite struct{}

func (s *GraphTestSuite) TestNormalizeHandle(c *gc.C) {
	c.Assert(NormalizeHandle("  Builderman "), gc.Equals, Handle("builderman"))
	c.Assert(NormalizeHandle(""), gc.Equals, Handle(""))
}

func (s *GraphTestSuite) TestEdgeListClone(c *gc.C) {
	orig := EdgeList{{ID: 1, Handle: "a"}, {ID: 2, Handle: "b"}}
	clone := orig.Clone()
	c.Assert(clone, gc.DeepEquals, orig)

	clone[0].Handle = "mutated"
	c.Assert(orig[0].Handle, gc.Equals, Handle("a"), gc.Commentf("clone shares storage with original"))
	c.Assert(EdgeList(nil).Clone(), gc.IsNil)
}

func (s *GraphTestSuite) TestEdgeListContains(c *gc.C) {
	l := EdgeList{{ID: 1}, {ID: 7}}
	c.Assert(l.Contains(7), gc.Equals, true)
	c.Assert(l.Contains(3), gc.Equals, false)
}

func (s *GraphTestSuite) TestPathString(c *gc.C) {
	c.Assert(Path{"a", "b", "c"}.String(), gc.Equals, "a -> b -> c")
}
