// Package badger persists edge cache snapshots in an embedded BadgerDB.
//
// Each snapshot is written under its own generation prefix and becomes
// visible only when the generation pointer is flipped in a single
// transaction, so readers never observe a half-written snapshot no matter
// how large it is. The previous generation is deleted afterwards.
package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"Friend_Path/socialgraph/graph"
	"Friend_Path/socialgraph/snapshot"
	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

var currentGenKey = []byte("snapshot/current")

// Config encapsulates the settings for opening a badger-backed store.
type Config struct {
	// The directory for the database files. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in memory. Useful for tests.
	InMemory bool

	// SyncWrites makes every commit durable before returning.
	SyncWrites bool

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if !cfg.InMemory && cfg.Path == "" {
		err = multierror.Append(err, xerrors.Errorf("database path has not been specified"))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Store implements snapshot.Store on top of BadgerDB.
type Store struct {
	db     *badger.DB
	logger *logrus.Entry
}

var _ snapshot.Store = (*Store)(nil)

// NewStore opens (or creates) a badger database using the provided config.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("badger snapshot store: config validation failed: %w", err)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, xerrors.Errorf("badger snapshot store: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, xerrors.Errorf("badger snapshot store: open: %w", err)
	}
	return &Store{db: db, logger: cfg.Logger}, nil
}

// Save implements snapshot.Store.
func (s *Store) Save(ctx context.Context, entries map[graph.NodeID]graph.EdgeList) error {
	prevGen, havePrev, err := s.currentGen()
	if err != nil {
		return xerrors.Errorf("save snapshot: %w", err)
	}
	nextGen := prevGen + 1

	// An aborted save may have left part of this generation behind.
	if err := s.deletePrefix(genPrefix(nextGen)); err != nil {
		return xerrors.Errorf("save snapshot: clear generation %d: %w", nextGen, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for id, edges := range entries {
		if err := ctx.Err(); err != nil {
			return xerrors.Errorf("save snapshot: %w", err)
		}
		val, err := snapshot.EncodeEdges(edges)
		if err != nil {
			return xerrors.Errorf("save snapshot: node %d: %w", id, err)
		}
		if err := wb.Set(entryKey(nextGen, id), val); err != nil {
			return xerrors.Errorf("save snapshot: node %d: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		_ = s.deletePrefix(genPrefix(nextGen))
		return xerrors.Errorf("save snapshot: flush: %w", err)
	}

	// Flip the generation pointer; this is the commit point.
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(currentGenKey, encodeGen(nextGen))
	}); err != nil {
		_ = s.deletePrefix(genPrefix(nextGen))
		return xerrors.Errorf("save snapshot: commit: %w", err)
	}

	if havePrev {
		if err := s.deletePrefix(genPrefix(prevGen)); err != nil {
			s.logger.WithField("generation", prevGen).WithError(err).Warn("unable to drop previous snapshot generation")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"generation": nextGen,
		"entries":    len(entries),
	}).Debug("saved snapshot")
	return nil
}

// Load implements snapshot.Store.
func (s *Store) Load(ctx context.Context) (map[graph.NodeID]graph.EdgeList, error) {
	entries := make(map[graph.NodeID]graph.EdgeList)
	err := s.db.View(func(txn *badger.Txn) error {
		gen, ok, err := readGen(txn)
		if err != nil || !ok {
			return err
		}

		prefix := genPrefix(gen)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id, err := parseEntryKey(prefix, item.Key())
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if entries[id], err = snapshot.DecodeEdges(val); err != nil {
				return xerrors.Errorf("node %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("load snapshot: %w", err)
	}
	return entries, nil
}

// Close implements snapshot.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) currentGen() (uint64, bool, error) {
	var (
		gen uint64
		ok  bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		gen, ok, err = readGen(txn)
		return err
	})
	return gen, ok, err
}

// deletePrefix removes every key under prefix.
func (s *Store) deletePrefix(prefix []byte) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func readGen(txn *badger.Txn) (uint64, bool, error) {
	item, err := txn.Get(currentGenKey)
	if err == badger.ErrKeyNotFound {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	if len(val) != 8 {
		return 0, false, xerrors.Errorf("corrupt generation pointer (%d bytes)", len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

func encodeGen(gen uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, gen)
	return buf
}

func genPrefix(gen uint64) []byte {
	return []byte(fmt.Sprintf("snapshot/%020d/", gen))
}

func entryKey(gen uint64, id graph.NodeID) []byte {
	return append(genPrefix(gen), id.String()...)
}

func parseEntryKey(prefix, key []byte) (graph.NodeID, error) {
	raw := strings.TrimPrefix(string(key), string(prefix))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("malformed snapshot key %q: %w", key, err)
	}
	return graph.NodeID(id), nil
}

// badgerLogger routes badger's internal logging through logrus at debug
// level; badger is chatty at info.
type badgerLogger struct {
	*logrus.Entry
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}
