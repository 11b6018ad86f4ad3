package fetcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Friend_Path/robloxapi"
	"Friend_Path/socialgraph/cache/memory"
	"Friend_Path/socialgraph/graph"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(FetcherTestSuite))

func Test(t *testing.T) { gc.TestingT(t) }

type FetcherTestSuite struct {
	api   *fakeAPI
	cache *memory.InMemoryCache
	clk   *recordingClock
}

func (s *FetcherTestSuite) SetUpTest(c *gc.C) {
	s.api = newFakeAPI()
	s.cache = memory.NewInMemoryCache()
	s.clk = &recordingClock{Clock: clock.WallClock}
}

func (s *FetcherTestSuite) newFetcher(c *gc.C, cfg Config) *Fetcher {
	cfg.API = s.api
	cfg.Cache = s.cache
	cfg.Clock = s.clk
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.PageDelay == 0 {
		cfg.PageDelay = 7 * time.Millisecond
	}
	f, err := New(cfg)
	c.Assert(err, gc.IsNil)
	return f
}

func (s *FetcherTestSuite) TestWarmCacheIssuesNoRemoteCalls(c *gc.C) {
	s.api.setFriends(1, 3, 10)
	f := s.newFetcher(c, Config{})

	first := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(first, gc.HasLen, 3)
	c.Assert(s.api.callCount(1), gc.Equals, 1)

	second := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(second, gc.DeepEquals, first)
	c.Assert(s.api.callCount(1), gc.Equals, 1, gc.Commentf("second fetch hit the remote API"))
}

func (s *FetcherTestSuite) TestThrottledTwiceThenSucceeds(c *gc.C) {
	s.api.setFriends(1, 2, 10)
	s.api.throttle[1] = 2
	f := s.newFetcher(c, Config{})

	edges := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(edges, gc.HasLen, 2)
	c.Assert(s.api.callCount(1), gc.Equals, 3)

	delays := s.clk.recorded()
	c.Assert(delays, gc.DeepEquals, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond})
	c.Assert(delays[1] >= delays[0], gc.Equals, true)
}

func (s *FetcherTestSuite) TestRetryBudgetExhausted(c *gc.C) {
	s.api.setFriends(1, 2, 10)
	s.api.throttle[1] = 100
	f := s.newFetcher(c, Config{MaxRetries: 2})

	edges := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(edges, gc.HasLen, 0)
	c.Assert(s.api.callCount(1), gc.Equals, 3)
	c.Assert(s.clk.recorded(), gc.DeepEquals, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond})

	_, cached := s.cache.Get(1)
	c.Assert(cached, gc.Equals, false, gc.Commentf("failed fetch should not be cached"))
}

func (s *FetcherTestSuite) TestRemoteErrorYieldsEmptyList(c *gc.C) {
	s.api.fail[1] = &robloxapi.StatusError{StatusCode: 403, URL: "/v1/users/1/friends"}
	f := s.newFetcher(c, Config{})

	edges := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(edges, gc.NotNil)
	c.Assert(edges, gc.HasLen, 0)
	c.Assert(s.clk.recorded(), gc.HasLen, 0, gc.Commentf("non-throttling errors must not be retried"))
	c.Assert(s.cache.Len(), gc.Equals, 0)
}

func (s *FetcherTestSuite) TestPaginationStopsAtCap(c *gc.C) {
	s.api.setFriends(1, 15, 5)
	f := s.newFetcher(c, Config{MaxFriends: 12})

	edges := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(edges, gc.HasLen, 12)
	c.Assert(edges[0].ID, gc.Equals, graph.NodeID(1000))
	c.Assert(edges[11].ID, gc.Equals, graph.NodeID(1011))
	c.Assert(s.api.callCount(1), gc.Equals, 3)
	c.Assert(s.clk.recorded(), gc.DeepEquals, []time.Duration{7 * time.Millisecond, 7 * time.Millisecond})

	cached, ok := s.cache.Get(1)
	c.Assert(ok, gc.Equals, true)
	c.Assert(cached, gc.DeepEquals, edges)
}

func (s *FetcherTestSuite) TestCapReachedOnFirstPage(c *gc.C) {
	s.api.setFriends(1, 15, 10)
	f := s.newFetcher(c, Config{MaxFriends: 4})

	edges := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(edges, gc.HasLen, 4)
	c.Assert(s.api.callCount(1), gc.Equals, 1)
	c.Assert(s.clk.recorded(), gc.HasLen, 0)
}

func (s *FetcherTestSuite) TestUncapped(c *gc.C) {
	s.api.setFriends(1, 15, 5)
	f := s.newFetcher(c, Config{MaxFriends: -1})

	c.Assert(f.FetchNeighbors(context.TODO(), 1), gc.HasLen, 15)
	c.Assert(s.api.callCount(1), gc.Equals, 3)
}

func (s *FetcherTestSuite) TestEmptyPageWithCursorStopsPagination(c *gc.C) {
	s.api.endless[1] = func(string) robloxapi.Page {
		return robloxapi.Page{Friends: graph.EdgeList{}, NextCursor: "same"}
	}
	f := s.newFetcher(c, Config{MaxFriends: 200})

	edges := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(edges, gc.HasLen, 0)
	c.Assert(s.api.callCount(1), gc.Equals, 1)
	c.Assert(s.clk.recorded(), gc.HasLen, 0)

	_, cached := s.cache.Get(1)
	c.Assert(cached, gc.Equals, true)
}

func (s *FetcherTestSuite) TestRepeatedCursorStopsPagination(c *gc.C) {
	s.api.endless[1] = func(string) robloxapi.Page {
		return robloxapi.Page{
			Friends:    graph.EdgeList{{ID: 1000, Handle: "user1000"}},
			NextCursor: "same",
		}
	}
	f := s.newFetcher(c, Config{MaxFriends: -1})

	edges := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(edges, gc.HasLen, 2)
	c.Assert(s.api.callCount(1), gc.Equals, 2)
}

func (s *FetcherTestSuite) TestPageLimit(c *gc.C) {
	s.api.endless[1] = func(cursor string) robloxapi.Page {
		n, _ := strconv.Atoi(cursor)
		return robloxapi.Page{
			Friends:    graph.EdgeList{{ID: graph.NodeID(1000 + n), Handle: graph.Handle(fmt.Sprintf("user%d", 1000+n))}},
			NextCursor: strconv.Itoa(n + 1),
		}
	}
	f := s.newFetcher(c, Config{MaxFriends: -1, MaxPages: 5})

	edges := f.FetchNeighbors(context.TODO(), 1)
	c.Assert(edges, gc.HasLen, 5)
	c.Assert(edges[4].ID, gc.Equals, graph.NodeID(1004))
	c.Assert(s.api.callCount(1), gc.Equals, 5)
	c.Assert(s.clk.recorded(), gc.HasLen, 4)
}

func (s *FetcherTestSuite) TestBackoffSaturates(c *gc.C) {
	s.api.setFriends(1, 1, 10)
	s.api.throttle[1] = 100
	f := s.newFetcher(c, Config{MaxRetries: 40, MaxBackoff: time.Second})

	_ = f.FetchNeighbors(context.TODO(), 1)
	delays := s.clk.recorded()
	c.Assert(delays, gc.HasLen, 40)
	c.Assert(delays[:5], gc.DeepEquals, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second,
	})
	for i := 1; i < len(delays); i++ {
		c.Assert(delays[i] >= delays[i-1], gc.Equals, true, gc.Commentf("delay %d = %s", i, delays[i]))
		c.Assert(delays[i] <= time.Second, gc.Equals, true, gc.Commentf("delay %d = %s", i, delays[i]))
	}
}

func (s *FetcherTestSuite) TestCancelledContextStillPopulatesCache(c *gc.C) {
	s.api.setFriends(1, 3, 10)
	f := s.newFetcher(c, Config{})

	ctx, cancel := context.WithCancel(context.TODO())
	cancel()
	c.Assert(f.FetchNeighbors(ctx, 1), gc.HasLen, 3)

	_, ok := s.cache.Get(1)
	c.Assert(ok, gc.Equals, true)
}

func (s *FetcherTestSuite) TestConcurrencyBound(c *gc.C) {
	const limit = 3
	ids := make([]graph.NodeID, 40)
	for i := range ids {
		ids[i] = graph.NodeID(i + 1)
		s.api.setFriends(ids[i], 2, 10)
	}
	s.api.latency = 5 * time.Millisecond
	f := s.newFetcher(c, Config{MaxInFlight: limit})

	// Drive the fetcher from more goroutines than the limiter allows.
	var wg sync.WaitGroup
	wg.Add(len(ids))
	for _, id := range ids {
		go func(id graph.NodeID) {
			defer wg.Done()
			_ = f.FetchNeighbors(context.TODO(), id)
		}(id)
	}
	wg.Wait()

	peak := atomic.LoadInt32(&s.api.peak)
	c.Assert(peak <= limit, gc.Equals, true, gc.Commentf("observed %d concurrent calls", peak))
	c.Assert(s.cache.Len(), gc.Equals, len(ids))
}

func (s *FetcherTestSuite) TestWarm(c *gc.C) {
	const limit = 4
	ids := make([]graph.NodeID, 30)
	for i := range ids {
		ids[i] = graph.NodeID(i + 1)
		s.api.setFriends(ids[i], 1, 10)
	}
	s.api.latency = 2 * time.Millisecond
	s.cache.Put(1, graph.EdgeList{})
	f := s.newFetcher(c, Config{MaxInFlight: limit})

	n, err := f.Warm(context.TODO(), ids)
	c.Assert(err, gc.IsNil)
	c.Assert(n, gc.Equals, len(ids)-1)
	c.Assert(s.api.callCount(1), gc.Equals, 0, gc.Commentf("cached id was fetched"))
	c.Assert(s.cache.Len(), gc.Equals, len(ids))

	peak := atomic.LoadInt32(&s.api.peak)
	c.Assert(peak <= limit, gc.Equals, true, gc.Commentf("observed %d concurrent calls", peak))
}

func (s *FetcherTestSuite) TestMetrics(c *gc.C) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	c.Assert(err, gc.IsNil)

	s.api.setFriends(1, 2, 10)
	s.api.throttle[1] = 1
	f := s.newFetcher(c, Config{Metrics: m})

	_ = f.FetchNeighbors(context.TODO(), 1)
	_ = f.FetchNeighbors(context.TODO(), 1)

	c.Assert(testutil.ToFloat64(m.requests.WithLabelValues("throttled")), gc.Equals, 1.0)
	c.Assert(testutil.ToFloat64(m.requests.WithLabelValues("ok")), gc.Equals, 1.0)
	c.Assert(testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")), gc.Equals, 1.0)
	c.Assert(testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")), gc.Equals, 1.0)
	c.Assert(testutil.ToFloat64(m.inFlight), gc.Equals, 0.0)

	// Registering twice on the same registry must fail.
	_, err = NewMetrics(reg)
	c.Assert(err, gc.NotNil)
}

func (s *FetcherTestSuite) TestConfigValidation(c *gc.C) {
	_, err := New(Config{MaxInFlight: -1, BaseBackoff: time.Minute, MaxBackoff: time.Second, MaxPages: -1})
	c.Assert(err, gc.ErrorMatches, "(?s)fetcher: config validation failed: .*friends API.*edge cache.*max in-flight.*max backoff.*max pages.*")
}

// recordingClock returns immediately from After while recording each
// requested delay.
type recordingClock struct {
	clock.Clock

	mu     sync.Mutex
	delays []time.Duration
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *recordingClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// fakeAPI serves paginated friend lists and tracks call counts and peak
// concurrency.
type fakeAPI struct {
	mu       sync.Mutex
	pages    map[graph.NodeID][]robloxapi.Page
	throttle map[graph.NodeID]int
	fail     map[graph.NodeID]error
	calls    map[graph.NodeID]int
	latency  time.Duration

	// endless serves every page of an id from a function of the cursor,
	// never running out of pages.
	endless map[graph.NodeID]func(cursor string) robloxapi.Page

	cur, peak int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:    make(map[graph.NodeID][]robloxapi.Page),
		throttle: make(map[graph.NodeID]int),
		fail:     make(map[graph.NodeID]error),
		calls:    make(map[graph.NodeID]int),
		endless:  make(map[graph.NodeID]func(string) robloxapi.Page),
	}
}

// setFriends gives id total friends with ids 1000.., split into pages of
// perPage entries.
func (a *fakeAPI) setFriends(id graph.NodeID, total, perPage int) {
	var pages []robloxapi.Page
	for start := 0; start < total || len(pages) == 0; start += perPage {
		var page robloxapi.Page
		page.Friends = graph.EdgeList{}
		for i := start; i < total && i < start+perPage; i++ {
			page.Friends = append(page.Friends, graph.Friend{
				ID:     graph.NodeID(1000 + i),
				Handle: graph.Handle(fmt.Sprintf("user%d", 1000+i)),
			})
		}
		if start+perPage < total {
			page.NextCursor = "p" + strconv.Itoa(len(pages)+1)
		}
		pages = append(pages, page)
	}
	a.pages[id] = pages
}

func (a *fakeAPI) FriendsPage(_ context.Context, id graph.NodeID, cursor string) (robloxapi.Page, error) {
	n := atomic.AddInt32(&a.cur, 1)
	defer atomic.AddInt32(&a.cur, -1)
	for {
		old := atomic.LoadInt32(&a.peak)
		if n <= old || atomic.CompareAndSwapInt32(&a.peak, old, n) {
			break
		}
	}
	if a.latency > 0 {
		time.Sleep(a.latency)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[id]++
	if a.throttle[id] > 0 {
		a.throttle[id]--
		return robloxapi.Page{}, robloxapi.ErrThrottled
	}
	if err := a.fail[id]; err != nil {
		return robloxapi.Page{}, err
	}

	if next := a.endless[id]; next != nil {
		return next(cursor), nil
	}

	idx := 0
	if cursor != "" {
		var err error
		if idx, err = strconv.Atoi(strings.TrimPrefix(cursor, "p")); err != nil {
			return robloxapi.Page{}, xerrors.Errorf("bad cursor %q", cursor)
		}
	}
	pages := a.pages[id]
	if idx >= len(pages) {
		return robloxapi.Page{Friends: graph.EdgeList{}}, nil
	}
	return pages[idx], nil
}

func (a *fakeAPI) callCount(id graph.NodeID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[id]
}
