package resolver

import (
	"context"
	"io/ioutil"
	"sync"

	"Friend_Path/socialgraph/graph"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// LookupAPI defines the remote method for mapping a handle to a member.
type LookupAPI interface {
	LookupUsername(ctx context.Context, handle graph.Handle) (graph.Friend, error)
}

// Config encapsulates the settings for configuring the resolver.
type Config struct {
	// An API for looking up members by handle.
	LookupAPI LookupAPI

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.LookupAPI == nil {
		err = multierror.Append(err, xerrors.Errorf("lookup API has not been provided"))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Resolver maps human-entered handles to stable member identities.
// Successful resolutions are remembered for the lifetime of the process
// since ids never change; failures are not.
type Resolver struct {
	cfg Config

	mu    sync.RWMutex
	known map[graph.Handle]graph.Friend
}

// New creates a resolver with the specified config.
func New(cfg Config) (*Resolver, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("resolver: config validation failed: %w", err)
	}
	return &Resolver{
		cfg:   cfg,
		known: make(map[graph.Handle]graph.Friend),
	}, nil
}

// Resolve looks up the member behind handle. Lookup is case-insensitive.
// Any failure, including network and decoding errors, is reported as
// graph.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, handle string) (graph.Friend, error) {
	h := graph.NormalizeHandle(handle)
	if h == "" {
		return graph.Friend{}, xerrors.Errorf("resolve %q: %w", handle, graph.ErrNotFound)
	}

	r.mu.RLock()
	f, ok := r.known[h]
	r.mu.RUnlock()
	if ok {
		return f, nil
	}

	f, err := r.cfg.LookupAPI.LookupUsername(ctx, h)
	if err != nil {
		if !xerrors.Is(err, graph.ErrNotFound) {
			r.cfg.Logger.WithField("handle", h).WithError(err).Warn("handle lookup failed")
		}
		return graph.Friend{}, xerrors.Errorf("resolve %q: %w", handle, graph.ErrNotFound)
	}
	if f.Handle == "" {
		f.Handle = h
	}

	r.mu.Lock()
	r.known[h] = f
	r.mu.Unlock()
	return f, nil
}
