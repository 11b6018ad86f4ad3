package postgres

import (
	"context"
	"database/sql"

	"Friend_Path/socialgraph/graph"
	"Friend_Path/socialgraph/snapshot"
	"github.com/lib/pq"
	"golang.org/x/xerrors"
)

var (
	createTableQuery = `CREATE TABLE IF NOT EXISTS edge_cache (
	node_id BIGINT PRIMARY KEY,
	edges JSONB NOT NULL
)`

	truncateQuery = `DELETE FROM edge_cache`

	loadQuery = `SELECT node_id, edges FROM edge_cache`
)

// PostgresStore implements snapshot.Store on a PostgreSQL (or CockroachDB)
// table. Each snapshot replaces the table contents in one transaction.
type PostgresStore struct {
	db *sql.DB
}

var _ snapshot.Store = (*PostgresStore)(nil)

// NewPostgresStore returns a snapshot store that connects to the database
// identified by dsn and makes sure the snapshot table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, xerrors.Errorf("postgres snapshot store: %w", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("postgres snapshot store: %w", err)
	}
	if _, err = db.Exec(createTableQuery); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("postgres snapshot store: create table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Save implements snapshot.Store.
func (s *PostgresStore) Save(ctx context.Context, entries map[graph.NodeID]graph.EdgeList) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("save snapshot: %w", err)
	}
	if err = s.replaceRows(ctx, tx, entries); err != nil {
		_ = tx.Rollback()
		return xerrors.Errorf("save snapshot: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return xerrors.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) replaceRows(ctx context.Context, tx *sql.Tx, entries map[graph.NodeID]graph.EdgeList) error {
	if _, err := tx.ExecContext(ctx, truncateQuery); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("edge_cache", "node_id", "edges"))
	if err != nil {
		return err
	}
	for id, edges := range entries {
		data, err := snapshot.EncodeEdges(edges)
		if err != nil {
			_ = stmt.Close()
			return err
		}
		if _, err = stmt.ExecContext(ctx, int64(id), string(data)); err != nil {
			_ = stmt.Close()
			return err
		}
	}
	// Flush buffered rows.
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return err
	}
	return stmt.Close()
}

// Load implements snapshot.Store.
func (s *PostgresStore) Load(ctx context.Context) (map[graph.NodeID]graph.EdgeList, error) {
	rows, err := s.db.QueryContext(ctx, loadQuery)
	if err != nil {
		return nil, xerrors.Errorf("load snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make(map[graph.NodeID]graph.EdgeList)
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err = rows.Scan(&id, &data); err != nil {
			return nil, xerrors.Errorf("load snapshot: %w", err)
		}
		if entries[graph.NodeID(id)], err = snapshot.DecodeEdges(data); err != nil {
			return nil, xerrors.Errorf("load snapshot: node %d: %w", id, err)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, xerrors.Errorf("load snapshot: %w", err)
	}
	return entries, nil
}

// Close implements snapshot.Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
