package robloxapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"Friend_Path/socialgraph/graph"
	"github.com/sony/gobreaker"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ClientTestSuite))

func Test(t *testing.T) { gc.TestingT(t) }

type ClientTestSuite struct {
	srv     *httptest.Server
	handler http.HandlerFunc
}

func (s *ClientTestSuite) SetUpTest(c *gc.C) {
	s.handler = nil
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handler(w, r)
	}))
}

func (s *ClientTestSuite) TearDownTest(c *gc.C) {
	s.srv.Close()
}

func (s *ClientTestSuite) newClient(c *gc.C, breaker *BreakerConfig) *Client {
	cli, err := NewClient(Config{
		UsersURL:   s.srv.URL,
		FriendsURL: s.srv.URL,
		Credential: "secret-cookie",
		PageSize:   25,
		Breaker:    breaker,
	})
	c.Assert(err, gc.IsNil)
	return cli
}

func (s *ClientTestSuite) TestLookupUsername(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.Method, gc.Equals, http.MethodPost)
		c.Check(r.URL.Path, gc.Equals, "/v1/usernames/users")

		var req lookupRequest
		c.Check(json.NewDecoder(r.Body).Decode(&req), gc.IsNil)
		c.Check(req.Usernames, gc.DeepEquals, []string{"builderman"})
		c.Check(req.ExcludeBannedUsers, gc.Equals, true)
		_, _ = w.Write([]byte(`{"data":[{"requestedUsername":"builderman","id":156,"name":"builderman","displayName":"Builderman"}]}`))
	}

	f, err := s.newClient(c, nil).LookupUsername(context.TODO(), "builderman")
	c.Assert(err, gc.IsNil)
	c.Assert(f, gc.DeepEquals, graph.Friend{ID: 156, Handle: "builderman"})
}

func (s *ClientTestSuite) TestLookupUsernameNoMatch(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}

	_, err := s.newClient(c, nil).LookupUsername(context.TODO(), "nobody")
	c.Assert(xerrors.Is(err, graph.ErrNotFound), gc.Equals, true)
}

func (s *ClientTestSuite) TestFriendsPage(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.URL.Path, gc.Equals, "/v1/users/156/friends")
		c.Check(r.URL.Query().Get("limit"), gc.Equals, "25")
		c.Check(r.URL.Query().Get("cursor"), gc.Equals, "abc")

		cookie, err := r.Cookie(".ROBLOSECURITY")
		c.Check(err, gc.IsNil)
		if err == nil {
			c.Check(cookie.Value, gc.Equals, "secret-cookie")
		}
		_, _ = w.Write([]byte(`{"data":[{"id":2,"name":"b"},{"id":3,"name":"c"}],"nextPageCursor":"def"}`))
	}

	page, err := s.newClient(c, nil).FriendsPage(context.TODO(), 156, "abc")
	c.Assert(err, gc.IsNil)
	c.Assert(page.Friends, gc.DeepEquals, graph.EdgeList{{ID: 2, Handle: "b"}, {ID: 3, Handle: "c"}})
	c.Assert(page.NextCursor, gc.Equals, "def")
}

func (s *ClientTestSuite) TestFriendsPageLastPage(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.URL.Query().Has("cursor"), gc.Equals, false)
		_, _ = w.Write([]byte(`{"data":[],"nextPageCursor":null}`))
	}

	page, err := s.newClient(c, nil).FriendsPage(context.TODO(), 1, "")
	c.Assert(err, gc.IsNil)
	c.Assert(page.Friends, gc.HasLen, 0)
	c.Assert(page.NextCursor, gc.Equals, "")
}

func (s *ClientTestSuite) TestThrottled(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}

	_, err := s.newClient(c, nil).FriendsPage(context.TODO(), 1, "")
	c.Assert(xerrors.Is(err, ErrThrottled), gc.Equals, true)
}

func (s *ClientTestSuite) TestStatusError(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}

	_, err := s.newClient(c, nil).FriendsPage(context.TODO(), 1, "")
	var statusErr *StatusError
	c.Assert(xerrors.As(err, &statusErr), gc.Equals, true)
	c.Assert(statusErr.StatusCode, gc.Equals, http.StatusForbidden)
	c.Assert(statusErr.ServerSide(), gc.Equals, false)
}

func (s *ClientTestSuite) TestMalformedBody(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":`))
	}

	_, err := s.newClient(c, nil).FriendsPage(context.TODO(), 1, "")
	c.Assert(err, gc.ErrorMatches, "friends of 1: decode response: .*")
}

func (s *ClientTestSuite) TestBreakerOpensOnServerErrors(c *gc.C) {
	var hits int32
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}

	cli := s.newClient(c, &BreakerConfig{ConsecutiveFailures: 3, Timeout: time.Minute})
	for i := 0; i < 3; i++ {
		_, err := cli.FriendsPage(context.TODO(), 1, "")
		c.Assert(err, gc.NotNil)
	}
	_, err := cli.FriendsPage(context.TODO(), 1, "")
	c.Assert(xerrors.Is(err, gobreaker.ErrOpenState), gc.Equals, true)
	c.Assert(atomic.LoadInt32(&hits), gc.Equals, int32(3))
}

func (s *ClientTestSuite) TestBreakerIgnoresThrottling(c *gc.C) {
	var hits int32
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}

	cli := s.newClient(c, &BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute})
	for i := 0; i < 5; i++ {
		_, err := cli.FriendsPage(context.TODO(), 1, "")
		c.Assert(xerrors.Is(err, ErrThrottled), gc.Equals, true)
	}
	c.Assert(atomic.LoadInt32(&hits), gc.Equals, int32(5))
}

func (s *ClientTestSuite) TestConfigValidation(c *gc.C) {
	_, err := NewClient(Config{
		UsersURL: "::not-a-url",
		Breaker:  &BreakerConfig{},
	})
	c.Assert(err, gc.ErrorMatches, "(?s)api client: config validation failed: .*invalid API URL.*breaker consecutive failures.*")
}
