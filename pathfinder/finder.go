// Package pathfinder finds the shortest chain of friendships linking two
// members of the social graph using a bidirectional breadth-first search.
package pathfinder

import (
	"context"
	"io/ioutil"
	"time"

	"Friend_Path/progress"
	"Friend_Path/socialgraph/graph"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const defaultMaxNodes = 1000

// NeighborFetcher returns the friend list of a member. Failures are absorbed
// by the implementation and surface as an empty list.
type NeighborFetcher interface {
	FetchNeighbors(ctx context.Context, id graph.NodeID) graph.EdgeList
}

// CacheWarmer is optionally implemented by a NeighborFetcher that can
// prefetch friend lists in the background.
type CacheWarmer interface {
	Warm(ctx context.Context, ids []graph.NodeID) (int, error)
}

// Resolver maps a user-supplied handle to a member.
type Resolver interface {
	Resolve(ctx context.Context, handle string) (graph.Friend, error)
}

// Config encapsulates the settings for configuring a Finder.
type Config struct {
	// Resolves the handles passed to FindPath.
	Resolver Resolver

	// Supplies friend lists for expanded members.
	Fetcher NeighborFetcher

	// Maximum number of expansions across both sides of a search.
	// Defaults to 1000.
	MaxNodes int

	// Maximum depth each side of a search records. Zero means unlimited.
	MaxDepth int

	// Number of queued members per side to prefetch before each
	// expansion. Requires Fetcher to implement CacheWarmer; zero disables
	// look-ahead.
	Lookahead int

	// Forward only every Nth progress event to the caller's reporter.
	ProgressEvery int

	// A clock instance for measuring elapsed time. If not specified, the
	// default wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Resolver == nil {
		err = multierror.Append(err, xerrors.Errorf("resolver has not been provided"))
	}
	if cfg.Fetcher == nil {
		err = multierror.Append(err, xerrors.Errorf("neighbor fetcher has not been provided"))
	}
	if cfg.MaxNodes == 0 {
		cfg.MaxNodes = defaultMaxNodes
	} else if cfg.MaxNodes < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for max nodes"))
	}
	if cfg.MaxDepth < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for max depth"))
	}
	if cfg.Lookahead < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for lookahead"))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Result describes a path found by a search.
type Result struct {
	SessionID string

	// Handles from the start member to the end member, both included.
	Path graph.Path

	// Members along Path, in the same order.
	Hops []graph.Friend

	NodesChecked int
	Elapsed      time.Duration
}

// Finder runs path searches. It is safe for concurrent use; each search
// owns its own state and shares only the injected fetcher and resolver.
type Finder struct {
	cfg    Config
	warmer CacheWarmer
}

// NewFinder creates a new Finder instance with the specified config.
func NewFinder(cfg Config) (*Finder, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("finder: config validation failed: %w", err)
	}
	f := &Finder{cfg: cfg}
	if w, ok := cfg.Fetcher.(CacheWarmer); ok && cfg.Lookahead > 0 {
		f.warmer = w
	}
	return f, nil
}

// Resolve maps handle to a member.
func (f *Finder) Resolve(ctx context.Context, handle string) (graph.Friend, error) {
	return f.cfg.Resolver.Resolve(ctx, handle)
}

// FindPath resolves both handles and searches for the shortest chain of
// friendships between them. If either handle does not resolve, an
// *InvalidHandleError is returned before any friend list is fetched. When
// no chain is found within the configured budget the error matches
// graph.ErrNoPath. The reporter may be nil.
func (f *Finder) FindPath(ctx context.Context, startHandle, endHandle string, reporter progress.Reporter) (*Result, error) {
	var (
		invalid   []string
		resolvErr error
	)
	start, err := f.Resolve(ctx, startHandle)
	if err != nil {
		invalid = append(invalid, startHandle)
		resolvErr = multierror.Append(resolvErr, err)
	}
	end, err := f.Resolve(ctx, endHandle)
	if err != nil {
		invalid = append(invalid, endHandle)
		resolvErr = multierror.Append(resolvErr, err)
	}
	if resolvErr != nil {
		f.cfg.Logger.WithFields(logrus.Fields{
			"handles": invalid,
			"err":     resolvErr,
		}).Info("rejecting search for unresolved handles")
		return nil, &InvalidHandleError{Handles: invalid, Err: resolvErr}
	}

	return f.FindPathBetween(ctx, start, end, reporter)
}

// FindPathBetween searches for the shortest chain of friendships between
// two already resolved members.
func (f *Finder) FindPathBetween(ctx context.Context, start, end graph.Friend, reporter progress.Reporter) (*Result, error) {
	if reporter == nil {
		reporter = progress.Nop
	}
	sess := newSession(f, start, end, progress.Every(f.cfg.ProgressEvery, reporter))
	return sess.run(ctx)
}
