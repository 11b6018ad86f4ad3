package main

import (
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/xerrors"
)

// options holds every setting of the binary. Each one is a flag; the flags
// listed in envBindings can also be supplied through the environment or a
// .env file. Explicit flags win over the environment.
type options struct {
	envFile  string
	logLevel string

	host          string
	port          string
	searchTimeout time.Duration

	cookie          string
	usersURL        string
	friendsURL      string
	pinnedKey       string
	requestTimeout  time.Duration
	breakerFailures uint32
	breakerTimeout  time.Duration

	maxNodes      int
	maxDepth      int
	lookahead     int
	progressEvery int

	maxInFlight int
	maxFriends  int
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxPages    int
	pageDelay   time.Duration

	snapshotStore    string
	badgerPath       string
	postgresDSN      string
	snapshotInterval time.Duration
}

var envBindings = map[string]string{
	"log-level":              "LOG_LEVEL",
	"port":                   "PORT",
	"cookie":                 "ROBLOX_COOKIE",
	"users-url":              "ROBLOX_USERS_URL",
	"friends-url":            "ROBLOX_FRIENDS_URL",
	"pinned-key-fingerprint": "ROBLOX_PINNED_KEY",
	"snapshot-store":         "SNAPSHOT_STORE",
	"badger-path":            "BADGER_PATH",
	"postgres-dsn":           "PG_DSN",
}

func defaultOptions() *options {
	return &options{envFile: ".env"}
}

func bindFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVar(&o.envFile, "env-file", o.envFile, "file with KEY=value settings loaded into the environment")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	fs.StringVar(&o.host, "host", "", "interface to listen on")
	fs.StringVar(&o.port, "port", "3000", "port to listen on")
	fs.DurationVar(&o.searchTimeout, "search-timeout", 2*time.Minute, "upper bound for a single search")

	fs.StringVar(&o.cookie, "cookie", "", "session credential sent as the .ROBLOSECURITY cookie")
	fs.StringVar(&o.usersURL, "users-url", "", "base URL of the users API")
	fs.StringVar(&o.friendsURL, "friends-url", "", "base URL of the friends API")
	fs.StringVar(&o.pinnedKey, "pinned-key-fingerprint", "", "hex SHA256 fingerprint of the API server's public key")
	fs.DurationVar(&o.requestTimeout, "request-timeout", 10*time.Second, "timeout for a single API request")
	fs.Uint32Var(&o.breakerFailures, "breaker-failures", 5, "consecutive API failures that open the circuit breaker (0 disables it)")
	fs.DurationVar(&o.breakerTimeout, "breaker-timeout", 30*time.Second, "how long the circuit breaker stays open")

	fs.IntVar(&o.maxNodes, "max-nodes", 1000, "maximum members expanded per search")
	fs.IntVar(&o.maxDepth, "max-depth", 0, "maximum depth explored from each end (0 is unlimited)")
	fs.IntVar(&o.lookahead, "lookahead", 0, "queued members per side to prefetch (0 disables prefetching)")
	fs.IntVar(&o.progressEvery, "progress-every", 10, "report every Nth expansion")

	fs.IntVar(&o.maxInFlight, "max-in-flight", 8, "maximum concurrent API requests")
	fs.IntVar(&o.maxFriends, "max-friends", 200, "friends kept per member (negative disables the cap)")
	fs.IntVar(&o.maxRetries, "max-retries", 4, "retries per page after a throttling response")
	fs.DurationVar(&o.baseBackoff, "base-backoff", time.Second, "delay before the first retry; doubled on each further retry")
	fs.DurationVar(&o.maxBackoff, "max-backoff", time.Minute, "ceiling for a single retry delay")
	fs.IntVar(&o.maxPages, "max-pages", 50, "maximum friend list pages requested per member")
	fs.DurationVar(&o.pageDelay, "page-delay", time.Second, "delay between pages of the same friend list")

	fs.StringVar(&o.snapshotStore, "snapshot-store", "none", "edge cache persistence: none, badger or postgres")
	fs.StringVar(&o.badgerPath, "badger-path", "friendpath-cache", "directory for the badger snapshot store")
	fs.StringVar(&o.postgresDSN, "postgres-dsn", "", "DSN for the postgres snapshot store")
	fs.DurationVar(&o.snapshotInterval, "snapshot-interval", 5*time.Minute, "time between edge cache snapshots")
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is only an error when it was asked
// for explicitly.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && xerrors.Is(err, os.ErrNotExist) {
			return nil
		}
		return xerrors.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// applyEnv copies bound environment variables into flags that were not set
// on the command line.
func applyEnv(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key, bound := envBindings[f.Name]
		if !bound || f.Changed {
			return
		}
		val, found := os.LookupEnv(key)
		if !found {
			return
		}
		if serr := fs.Set(f.Name, val); serr != nil {
			err = multierror.Append(err, xerrors.Errorf("%s: %w", key, serr))
		}
	})
	return err
}

func parseFingerprint(raw string) ([]byte, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ":", "")
	if raw == "" {
		return nil, nil
	}
	fp, err := hex.DecodeString(raw)
	if err != nil {
		return nil, xerrors.Errorf("pinned key fingerprint: %w", err)
	}
	if len(fp) != 32 {
		return nil, xerrors.Errorf("pinned key fingerprint: expected 32 bytes, got %d", len(fp))
	}
	return fp, nil
}
