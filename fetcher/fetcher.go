package fetcher

import (
	"context"
	"io/ioutil"
	"time"

	"Friend_Path/robloxapi"
	"Friend_Path/socialgraph/cache"
	"Friend_Path/socialgraph/graph"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
)

const (
	defaultMaxInFlight = 8
	defaultMaxFriends  = 200
	defaultMaxRetries  = 4
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = time.Minute
	defaultMaxPages    = 50
	defaultPageDelay   = time.Second
)

// FriendsAPI defines the remote method for retrieving one page of a
// member's friend list.
type FriendsAPI interface {
	FriendsPage(ctx context.Context, id graph.NodeID, cursor string) (robloxapi.Page, error)
}

// Config encapsulates the settings for configuring the fetcher.
type Config struct {
	// An API for retrieving friend list pages.
	API FriendsAPI

	// The process-wide edge cache consulted before every remote call.
	Cache cache.Cache

	// Capacity of the global concurrency limiter. Defaults to 8.
	MaxInFlight int

	// Maximum number of friends kept per member. Defaults to 200; a
	// negative value disables the cap.
	MaxFriends int

	// Maximum number of retries per page after a throttling response.
	// Defaults to 4; a negative value disables retries.
	MaxRetries int

	// Delay before the first retry. Each further retry doubles it, up to
	// MaxBackoff.
	BaseBackoff time.Duration

	// Ceiling for a single backoff delay. Defaults to 1 minute.
	MaxBackoff time.Duration

	// Maximum number of pages requested per member. Defaults to 50.
	MaxPages int

	// Delay between consecutive page requests for the same member.
	PageDelay time.Duration

	// A clock instance for generating time-related events. If not
	// specified, the default wall-clock will be used instead.
	Clock clock.Clock

	// Optional instrumentation.
	Metrics *Metrics

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.API == nil {
		err = multierror.Append(err, xerrors.Errorf("friends API has not been provided"))
	}
	if cfg.Cache == nil {
		err = multierror.Append(err, xerrors.Errorf("edge cache has not been provided"))
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	} else if cfg.MaxInFlight < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for max in-flight requests"))
	}
	if cfg.MaxFriends == 0 {
		cfg.MaxFriends = defaultMaxFriends
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		err = multierror.Append(err, xerrors.Errorf("max backoff must not be smaller than base backoff"))
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = defaultMaxPages
	} else if cfg.MaxPages < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for max pages"))
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = defaultPageDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Fetcher retrieves friend lists from the remote API under a global
// concurrency bound, absorbing throttling with exponential backoff. It is
// meant to be shared by every search in the process.
type Fetcher struct {
	cfg     Config
	limiter *semaphore.Weighted
	flight  singleflight.Group
}

// New creates a fetcher with the specified config.
func New(cfg Config) (*Fetcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("fetcher: config validation failed: %w", err)
	}
	return &Fetcher{
		cfg:     cfg,
		limiter: semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}, nil
}

// FetchNeighbors returns the friend list of id. It never fails: throttling
// past the retry budget, transport errors and unexpected responses all
// yield an empty list, which callers treat as "no expansion".
//
// Remote calls are detached from ctx cancellation so that an abandoned
// search still populates the cache for future ones.
func (f *Fetcher) FetchNeighbors(ctx context.Context, id graph.NodeID) graph.EdgeList {
	if edges, ok := f.cfg.Cache.Get(id); ok {
		f.cfg.Metrics.observeCache(true)
		return edges
	}
	f.cfg.Metrics.observeCache(false)

	res, _, _ := f.flight.Do(id.String(), func() (interface{}, error) {
		return f.fetch(context.WithoutCancel(ctx), id), nil
	})
	return res.(graph.EdgeList).Clone()
}

func (f *Fetcher) fetch(ctx context.Context, id graph.NodeID) graph.EdgeList {
	logger := f.cfg.Logger.WithField("node_id", id)

	var (
		edges  = graph.EdgeList{}
		cursor string
		seen   = make(map[string]struct{})
	)
	for pageNum := 0; ; pageNum++ {
		if pageNum > 0 {
			<-f.cfg.Clock.After(f.cfg.PageDelay)
		}

		page, err := f.fetchPage(ctx, id, cursor)
		if err != nil {
			logger.WithError(err).WithField("page", pageNum).Warn("unable to fetch friend list page")
			// Results are not cached so that a later search can retry.
			return f.truncate(edges)
		}

		edges = append(edges, page.Friends...)
		if page.NextCursor == "" || f.capReached(len(edges)) {
			break
		}
		if reason := f.stopReason(pageNum, page, seen); reason != "" {
			logger.WithFields(logrus.Fields{
				"page":   pageNum,
				"cursor": page.NextCursor,
			}).Warnf("stopped paginating: %s", reason)
			break
		}
		seen[page.NextCursor] = struct{}{}
		cursor = page.NextCursor
	}

	edges = f.truncate(edges)
	f.cfg.Cache.Put(id, edges)
	logger.WithField("friend_count", len(edges)).Debug("fetched friend list")
	return edges
}

// stopReason reports why pagination must end early even though the remote
// announced another page, or "" when it may continue.
func (f *Fetcher) stopReason(pageNum int, page robloxapi.Page, seen map[string]struct{}) string {
	if len(page.Friends) == 0 {
		return "page added no friends"
	}
	if _, dup := seen[page.NextCursor]; dup {
		return "cursor repeated"
	}
	if pageNum+1 >= f.cfg.MaxPages {
		return "page limit reached"
	}
	return ""
}

// fetchPage retrieves one page, retrying throttled requests with an
// exponentially increasing delay until the retry budget runs out.
func (f *Fetcher) fetchPage(ctx context.Context, id graph.NodeID, cursor string) (robloxapi.Page, error) {
	for attempt := 0; ; attempt++ {
		page, err := f.callRemote(ctx, id, cursor)
		if err == nil {
			return page, nil
		}
		if !xerrors.Is(err, robloxapi.ErrThrottled) {
			return robloxapi.Page{}, err
		}
		if attempt >= f.cfg.MaxRetries {
			return robloxapi.Page{}, xerrors.Errorf("retry budget of %d exhausted: %w", f.cfg.MaxRetries, err)
		}

		delay := f.backoff(attempt)
		f.cfg.Logger.WithFields(logrus.Fields{
			"node_id": id,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Info("throttled by remote API; backing off")
		f.cfg.Metrics.observeBackoff(delay)
		<-f.cfg.Clock.After(delay)
	}
}

// callRemote issues a single remote call while holding one limiter slot.
func (f *Fetcher) callRemote(ctx context.Context, id graph.NodeID, cursor string) (robloxapi.Page, error) {
	if err := f.limiter.Acquire(ctx, 1); err != nil {
		return robloxapi.Page{}, err
	}
	defer f.limiter.Release(1)

	f.cfg.Metrics.trackInFlight(1)
	defer f.cfg.Metrics.trackInFlight(-1)

	page, err := f.cfg.API.FriendsPage(ctx, id, cursor)
	switch {
	case err == nil:
		f.cfg.Metrics.observeRequest("ok")
	case xerrors.Is(err, robloxapi.ErrThrottled):
		f.cfg.Metrics.observeRequest("throttled")
	default:
		f.cfg.Metrics.observeRequest("error")
	}
	return page, err
}

// backoff returns BaseBackoff * 2^attempt saturated at MaxBackoff.
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := f.cfg.BaseBackoff
	for i := 0; i < attempt && delay < f.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > f.cfg.MaxBackoff {
		delay = f.cfg.MaxBackoff
	}
	return delay
}

func (f *Fetcher) capReached(n int) bool {
	return f.cfg.MaxFriends > 0 && n >= f.cfg.MaxFriends
}

func (f *Fetcher) truncate(edges graph.EdgeList) graph.EdgeList {
	if f.capReached(len(edges)) {
		return edges[:f.cfg.MaxFriends]
	}
	return edges
}
