// Package snapshot provides a service that persists the edge cache to a
// durable store so friend lists survive restarts.
package snapshot

import (
	"context"
	"io/ioutil"
	"time"

	"Friend_Path/socialgraph/cache"
	snapshotstore "Friend_Path/socialgraph/snapshot"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	defaultInterval     = 5 * time.Minute
	defaultFlushTimeout = 30 * time.Second
)

// Config encapsulates the settings for configuring the snapshot service.
type Config struct {
	// The edge cache to hydrate and persist.
	Cache cache.Cache

	// The durable store for cache snapshots.
	Store snapshotstore.Store

	// The time between subsequent snapshots. Defaults to 5 minutes.
	Interval time.Duration

	// Upper bound for the final snapshot taken on shutdown. Defaults to
	// 30 seconds.
	FlushTimeout time.Duration

	// A clock instance for generating time-related events. If not
	// specified, the default wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Cache == nil {
		err = multierror.Append(err, xerrors.Errorf("edge cache has not been provided"))
	}
	if cfg.Store == nil {
		err = multierror.Append(err, xerrors.Errorf("snapshot store has not been provided"))
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	} else if cfg.Interval < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for snapshot interval"))
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Service hydrates the edge cache from the store when it starts and then
// periodically writes the cache back. Store failures are logged and never
// stop the service; the cache keeps working in memory.
type Service struct {
	cfg Config

	// Number of entries in the last persisted or loaded snapshot.
	lastLen int
}

// NewService creates a new snapshot service instance with the specified
// config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("snapshot service: config validation failed: %w", err)
	}
	return &Service{cfg: cfg}, nil
}

// Name implements service.Service
func (svc *Service) Name() string { return "snapshot" }

// Run implements service.Service
func (svc *Service) Run(ctx context.Context) error {
	svc.cfg.Logger.WithField("interval", svc.cfg.Interval.String()).Info("starting service")
	defer svc.cfg.Logger.Info("stopped service")

	svc.hydrate(ctx)
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), svc.cfg.FlushTimeout)
			svc.save(flushCtx)
			cancel()
			return nil
		case <-svc.cfg.Clock.After(svc.cfg.Interval):
			svc.save(ctx)
		}
	}
}

func (svc *Service) hydrate(ctx context.Context) {
	entries, err := svc.cfg.Store.Load(ctx)
	if err != nil {
		svc.cfg.Logger.WithField("err", err).Error("unable to load edge cache snapshot; continuing with an empty cache")
		return
	}
	svc.cfg.Cache.Restore(entries)
	svc.lastLen = len(entries)
	svc.cfg.Logger.WithField("entries", len(entries)).Info("restored edge cache snapshot")
}

// save persists the cache unless it has not grown since the last snapshot.
// Entries are only ever added or refreshed, so an unchanged length means
// there is nothing new worth writing.
func (svc *Service) save(ctx context.Context) {
	if svc.cfg.Cache.Len() == svc.lastLen {
		return
	}
	entries := svc.cfg.Cache.Snapshot()
	start := svc.cfg.Clock.Now()
	if err := svc.cfg.Store.Save(ctx, entries); err != nil {
		svc.cfg.Logger.WithFields(logrus.Fields{
			"entries": len(entries),
			"err":     err,
		}).Error("unable to persist edge cache snapshot")
		return
	}
	svc.lastLen = len(entries)
	svc.cfg.Logger.WithFields(logrus.Fields{
		"entries":  len(entries),
		"duration": svc.cfg.Clock.Now().Sub(start).String(),
	}).Info("persisted edge cache snapshot")
}
