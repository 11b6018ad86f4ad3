package resolver

import (
	"context"
	"errors"
	"testing"

	"Friend_Path/socialgraph/graph"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ResolverTestSuite))

func Test(t *testing.T) { gc.TestingT(t) }

type ResolverTestSuite struct{}

type fakeLookup struct {
	members map[graph.Handle]graph.Friend
	err     error
	calls   []graph.Handle
}

func (f *fakeLookup) LookupUsername(_ context.Context, h graph.Handle) (graph.Friend, error) {
	f.calls = append(f.calls, h)
	if f.err != nil {
		return graph.Friend{}, f.err
	}
	m, ok := f.members[h]
	if !ok {
		return graph.Friend{}, graph.ErrNotFound
	}
	return m, nil
}

func (s *ResolverTestSuite) TestResolveNormalizesHandle(c *gc.C) {
	api := &fakeLookup{members: map[graph.Handle]graph.Friend{
		"builderman": {ID: 156, Handle: "builderman"},
	}}
	r, err := New(Config{LookupAPI: api})
	c.Assert(err, gc.IsNil)

	f, err := r.Resolve(context.TODO(), "  BuilderMan ")
	c.Assert(err, gc.IsNil)
	c.Assert(f.ID, gc.Equals, graph.NodeID(156))
	c.Assert(api.calls, gc.DeepEquals, []graph.Handle{"builderman"})
}

func (s *ResolverTestSuite) TestResolveRemembersSuccess(c *gc.C) {
	api := &fakeLookup{members: map[graph.Handle]graph.Friend{
		"a": {ID: 1, Handle: "a"},
	}}
	r, err := New(Config{LookupAPI: api})
	c.Assert(err, gc.IsNil)

	for i := 0; i < 3; i++ {
		_, err = r.Resolve(context.TODO(), "A")
		c.Assert(err, gc.IsNil)
	}
	c.Assert(api.calls, gc.HasLen, 1)
}

func (s *ResolverTestSuite) TestResolveNotFoundIsNotRemembered(c *gc.C) {
	api := &fakeLookup{}
	r, err := New(Config{LookupAPI: api})
	c.Assert(err, gc.IsNil)

	for i := 0; i < 2; i++ {
		_, err = r.Resolve(context.TODO(), "ghost")
		c.Assert(xerrors.Is(err, graph.ErrNotFound), gc.Equals, true)
	}
	c.Assert(api.calls, gc.HasLen, 2)
}

func (s *ResolverTestSuite) TestRemoteFailureFailsClosed(c *gc.C) {
	api := &fakeLookup{err: errors.New("connection reset by peer")}
	r, err := New(Config{LookupAPI: api})
	c.Assert(err, gc.IsNil)

	_, err = r.Resolve(context.TODO(), "a")
	c.Assert(xerrors.Is(err, graph.ErrNotFound), gc.Equals, true)
}

func (s *ResolverTestSuite) TestEmptyHandle(c *gc.C) {
	api := &fakeLookup{}
	r, err := New(Config{LookupAPI: api})
	c.Assert(err, gc.IsNil)

	_, err = r.Resolve(context.TODO(), "   ")
	c.Assert(xerrors.Is(err, graph.ErrNotFound), gc.Equals, true)
	c.Assert(api.calls, gc.HasLen, 0)
}

func (s *ResolverTestSuite) TestConfigValidation(c *gc.C) {
	_, err := New(Config{})
	c.Assert(err, gc.ErrorMatches, "(?s).*lookup API has not been provided.*")
}
