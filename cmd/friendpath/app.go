package main

import (
	"context"

	"Friend_Path/fetcher"
	"Friend_Path/pathfinder"
	"Friend_Path/resolver"
	"Friend_Path/robloxapi"
	"Friend_Path/socialgraph/cache/memory"
	snapshotstore "Friend_Path/socialgraph/snapshot"
	"Friend_Path/socialgraph/snapshot/badger"
	"Friend_Path/socialgraph/snapshot/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// app bundles the process-wide components shared by every search.
type app struct {
	finder   *pathfinder.Finder
	cache    *memory.InMemoryCache
	store    snapshotstore.Store
	registry *prometheus.Registry
}

func newApp(o *options, logger *logrus.Entry) (*app, error) {
	if o.cookie == "" {
		logger.Warn("no API credential configured; friend list requests will likely be rejected")
	}
	fingerprint, err := parseFingerprint(o.pinnedKey)
	if err != nil {
		return nil, err
	}

	var breaker *robloxapi.BreakerConfig
	if o.breakerFailures > 0 {
		breaker = &robloxapi.BreakerConfig{
			MaxRequests:         1,
			Timeout:             o.breakerTimeout,
			ConsecutiveFailures: o.breakerFailures,
		}
	}
	client, err := robloxapi.NewClient(robloxapi.Config{
		UsersURL:             o.usersURL,
		FriendsURL:           o.friendsURL,
		Credential:           o.cookie,
		RequestTimeout:       o.requestTimeout,
		PinnedKeyFingerprint: fingerprint,
		Breaker:              breaker,
		Logger:               logger.WithField("component", "robloxapi"),
	})
	if err != nil {
		return nil, err
	}

	res, err := resolver.New(resolver.Config{
		LookupAPI: client,
		Logger:    logger.WithField("component", "resolver"),
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := fetcher.NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	cache := memory.NewInMemoryCache()
	f, err := fetcher.New(fetcher.Config{
		API:         client,
		Cache:       cache,
		MaxInFlight: o.maxInFlight,
		MaxFriends:  o.maxFriends,
		MaxRetries:  o.maxRetries,
		BaseBackoff: o.baseBackoff,
		MaxBackoff:  o.maxBackoff,
		MaxPages:    o.maxPages,
		PageDelay:   o.pageDelay,
		Metrics:     metrics,
		Logger:      logger.WithField("component", "fetcher"),
	})
	if err != nil {
		return nil, err
	}

	finder, err := pathfinder.NewFinder(pathfinder.Config{
		Resolver:      res,
		Fetcher:       f,
		MaxNodes:      o.maxNodes,
		MaxDepth:      o.maxDepth,
		Lookahead:     o.lookahead,
		ProgressEvery: o.progressEvery,
		Logger:        logger.WithField("component", "pathfinder"),
	})
	if err != nil {
		return nil, err
	}

	store, err := openStore(o, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		finder:   finder,
		cache:    cache,
		store:    store,
		registry: registry,
	}, nil
}

func openStore(o *options, logger *logrus.Entry) (snapshotstore.Store, error) {
	switch o.snapshotStore {
	case "", "none":
		return nil, nil
	case "badger":
		return badger.NewStore(badger.Config{
			Path:   o.badgerPath,
			Logger: logger.WithField("component", "badger"),
		})
	case "postgres":
		if o.postgresDSN == "" {
			return nil, xerrors.New("postgres snapshot store requires a DSN")
		}
		return postgres.NewPostgresStore(o.postgresDSN)
	}
	return nil, xerrors.Errorf("unsupported snapshot store %q", o.snapshotStore)
}

// hydrate fills the cache from the snapshot store, if one is configured.
func (a *app) hydrate(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	entries, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	a.cache.Restore(entries)
	return nil
}

// persist writes the cache to the snapshot store, if one is configured.
func (a *app) persist(ctx context.Context) error {
	if a.store == nil || a.cache.Len() == 0 {
		return nil
	}
	return a.store.Save(ctx, a.cache.Snapshot())
}

func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logger.WithField("err", err).Warn("unable to close snapshot store")
	}
}
