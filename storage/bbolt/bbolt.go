// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/petabi/deview/storage"
	"go.etcd.io/bbolt"
)

// FileName is the database file created inside a data directory.
const FileName = "deview.db"

// Store implements storage.Repository backed by a BBolt database.
// Each table maps to a top-level bucket.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// NewRepositoryInDir creates dir if needed and opens FileName inside it.
func NewRepositoryInDir(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return NewRepositoryFromFile(filepath.Join(dir, FileName), &bbolt.Options{Timeout: time.Second})
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the path of the database file.
func (s *Store) Path() string {
	return s.db.Path()
}

// Backup writes a consistent snapshot of the database into dir and returns
// the path of the new file. The snapshot is taken inside a read
// transaction, so writers are not blocked.
func (s *Store) Backup(dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	name := fmt.Sprintf("deview-%s.db", now.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
	if err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	return path, nil
}

func (s *Store) getBucket(tx *bbolt.Tx, table string) (*bbolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(table))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) Put(table, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx, table)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

func (s *Store) Get(table, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
		}
		// bbolt memory is only valid for the life of the transaction.
		value = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Delete(table, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
		}
		return deleteInBucket(b, table, key)
	})
}

// List returns the keys of table in byte order.
func (s *Store) List(table string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func deleteInBucket(b *bbolt.Bucket, table, key string) error {
	if b.Get([]byte(key)) == nil {
		return fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
	}
	return b.Delete([]byte(key))
}

type boltBatchTx struct {
	table  string
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) Get(key string) ([]byte, error) {
	data := tx.bucket.Get([]byte(key))
	if data == nil {
		return nil, fmt.Errorf("%s/%s: %w", tx.table, key, storage.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (tx *boltBatchTx) Put(key string, value []byte) error {
	return tx.bucket.Put([]byte(key), value)
}

func (tx *boltBatchTx) Delete(key string) error {
	return deleteInBucket(tx.bucket, tx.table, key)
}

func (s *Store) Batch(table string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx, table)
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{table: table, bucket: b})
	})
}
