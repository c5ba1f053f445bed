// Package postgres implements storage.Repository backed by PostgreSQL.
//
// All tables share one records relation keyed by (tbl, key), which mirrors
// the key space used by the BBolt and in-memory backends.
package postgres

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petabi/deview/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, applies
// pending schema migrations, and returns a new Repository. PEM files listed
// in caCerts replace the system roots when the connection uses TLS.
func NewRepositoryFromDSN(ctx context.Context, dsn string, caCerts []string) (*Store, error) {
	cfg, err := parseConfig(dsn, caCerts)
	if err != nil {
		return nil, err
	}
	mg, err := newMigrator(cfg.ConnConfig)
	if err != nil {
		return nil, err
	}
	err = mg.Up()
	if closeErr := mg.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return NewRepository(pool), nil
}

func parseConfig(dsn string, caCerts []string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if len(caCerts) > 0 {
		roots, err := loadRoots(caCerts)
		if err != nil {
			return nil, err
		}
		if cfg.ConnConfig.TLSConfig == nil {
			cfg.ConnConfig.TLSConfig = &tls.Config{ServerName: cfg.ConnConfig.Host}
		}
		cfg.ConnConfig.TLSConfig.RootCAs = roots
	}
	return cfg, nil
}

func loadRoots(paths []string) (*x509.CertPool, error) {
	roots := x509.NewCertPool()
	for _, p := range paths {
		pem, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate %s: %w", p, err)
		}
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", p)
		}
	}
	return roots, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ---------------------------------------------------------------------------
// Repository interface implementation
// ---------------------------------------------------------------------------

const upsertSQL = `INSERT INTO records (tbl, key, value) VALUES ($1, $2, $3)
	ON CONFLICT (tbl, key) DO UPDATE SET value = EXCLUDED.value`

func (s *Store) Put(table, key string, value []byte) error {
	_, err := s.pool.Exec(context.Background(), upsertSQL, table, key, value)
	return err
}

func (s *Store) Get(table, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT value FROM records WHERE tbl = $1 AND key = $2`,
		table, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(context.Background(), s.pool, table, key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) List(table string) ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT key FROM records WHERE tbl = $1 ORDER BY key`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Delete(table, key string) error {
	tag, err := s.pool.Exec(context.Background(),
		`DELETE FROM records WHERE tbl = $1 AND key = $2`, table, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(context.Background(), s.pool, table, key)
	}
	return nil
}

func (s *Store) Batch(table string, fn func(tx storage.BatchTx) error) error {
	pgTx, err := s.pool.Begin(context.Background())
	if err != nil {
		return err
	}
	defer pgTx.Rollback(context.Background()) //nolint:errcheck

	btx := &pgBatchTx{tx: pgTx, table: table}
	if err := fn(btx); err != nil {
		return err
	}
	return pgTx.Commit(context.Background())
}

// ---------------------------------------------------------------------------
// BatchTx implementation
// ---------------------------------------------------------------------------

type pgBatchTx struct {
	tx    pgx.Tx
	table string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Get(key string) ([]byte, error) {
	var value []byte
	err := btx.tx.QueryRow(context.Background(),
		`SELECT value FROM records WHERE tbl = $1 AND key = $2 FOR UPDATE`,
		btx.table, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", btx.table, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (btx *pgBatchTx) Put(key string, value []byte) error {
	_, err := btx.tx.Exec(context.Background(), upsertSQL, btx.table, key, value)
	return err
}

func (btx *pgBatchTx) Delete(key string) error {
	tag, err := btx.tx.Exec(context.Background(),
		`DELETE FROM records WHERE tbl = $1 AND key = $2`, btx.table, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", btx.table, key, storage.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// querier abstracts both *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notFoundError distinguishes a table that has never been written from a
// missing key, matching the BBolt backend.
func notFoundError(ctx context.Context, q querier, table, key string) error {
	var exists bool
	_ = q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE tbl = $1 LIMIT 1)`,
		table).Scan(&exists)
	if !exists {
		return fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	}
	return fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
}
