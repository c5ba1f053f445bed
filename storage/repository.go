// Package storage provides the key-value abstraction the record store is built on.
//
// Records live in named tables and are addressed by a string key. Values are
// opaque bytes; encoding is the caller's concern.
package storage

import "errors"

var (
	// ErrNotFound is returned when a key does not exist in a table.
	ErrNotFound = errors.New("record not found")
	// ErrTableNotFound is returned when a table has never been written to.
	ErrTableNotFound = errors.New("table not found")
)

// BatchTx provides reads and writes within an atomic transaction.
// The table is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Repository defines the interface for table-scoped record storage.
type Repository interface {
	Put(table, key string, value []byte) error
	Get(table, key string) ([]byte, error)
	Delete(table, key string) error
	List(table string) ([]string, error)
	Batch(table string, fn func(tx BatchTx) error) error
}
