package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Friend_Path/progress"
	"Friend_Path/service"
	"Friend_Path/service/frontend"
	snapshotsvc "Friend_Path/service/snapshot"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

var (
	appName = "friendpath"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
	opts    = defaultOptions()
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := newRootCmd(rootLogger).Execute(); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		os.Exit(1)
	}
}

func newRootCmd(rootLogger *logrus.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Find the shortest chain of friendships between two members",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			if err := applyEnv(cmd.Flags()); err != nil {
				return err
			}
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return xerrors.Errorf("log level: %w", err)
			}
			rootLogger.SetLevel(level)
			return nil
		},
	}
	bindFlags(root.PersistentFlags(), opts)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front-end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	find := &cobra.Command{
		Use:   "find <start-username> <end-username>",
		Short: "Run a single search and print the path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(cmd.Context(), args[0], args[1])
		},
	}
	root.AddCommand(serve, find)
	return root
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctxOrBackground(ctx), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer stop()

	app, err := newApp(opts, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	fe, err := frontend.NewService(frontend.Config{
		Finder:        app.finder,
		ListenAddr:    net.JoinHostPort(opts.host, opts.port),
		Gatherer:      app.registry,
		SearchTimeout: opts.searchTimeout,
		Logger:        logger.WithField("service", "front-end"),
	})
	if err != nil {
		return err
	}
	group := service.Group{fe}

	if app.store != nil {
		snap, err := snapshotsvc.NewService(snapshotsvc.Config{
			Cache:    app.cache,
			Store:    app.store,
			Interval: opts.snapshotInterval,
			Logger:   logger.WithField("service", "snapshot"),
		})
		if err != nil {
			return err
		}
		group = append(group, snap)
	}

	return group.Run(ctx)
}

func runFind(ctx context.Context, start, end string) error {
	ctx, stop := signal.NotifyContext(ctxOrBackground(ctx), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(opts, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err = app.hydrate(ctx); err != nil {
		logger.WithField("err", err).Warn("continuing with an empty edge cache")
	}

	searchCtx, cancel := context.WithTimeout(ctx, opts.searchTimeout)
	defer cancel()
	reporter := progress.Logger(logger.WithField("command", "find"))
	res, err := app.finder.FindPath(searchCtx, start, end, reporter)
	if perr := app.persist(context.WithoutCancel(ctx)); perr != nil {
		logger.WithField("err", perr).Warn("unable to persist edge cache")
	}
	if err != nil {
		return err
	}

	fmt.Println(res.Path.String())
	logger.WithFields(logrus.Fields{
		"nodes_checked": res.NodesChecked,
		"elapsed":       res.Elapsed.Round(time.Millisecond).String(),
	}).Info("search complete")
	return nil
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
