// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petabi/deview/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *Repository) Put(table, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(table, key, value)
}

func (r *Repository) putLocked(table, key string, value []byte) error {
	if _, ok := r.data[table]; !ok {
		r.data[table] = make(map[string][]byte)
	}
	r.data[table][key] = clone(value)
	return nil
}

func (r *Repository) Get(table, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(table, key)
}

func (r *Repository) getLocked(table, key string) ([]byte, error) {
	tableData, ok := r.data[table]
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	}
	v, ok := tableData[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
	}
	return clone(v), nil
}

// List returns the keys of table in ascending order.
func (r *Repository) List(table string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.data[table]))
	for k := range r.data[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Repository) Delete(table, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(table, key)
}

func (r *Repository) deleteLocked(table, key string) error {
	tableData, ok := r.data[table]
	if !ok {
		return fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	}
	if _, ok := tableData[key]; !ok {
		return fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
	}
	delete(tableData, key)
	return nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(table string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotTable(table)

	tx := &memoryBatchTx{repo: r, table: table}
	if err := fn(tx); err != nil {
		r.restoreTable(table, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotTable(table string) map[string][]byte {
	original, ok := r.data[table]
	if !ok {
		return nil
	}
	cp := make(map[string][]byte, len(original))
	for k, v := range original {
		cp[k] = clone(v)
	}
	return cp
}

func (r *Repository) restoreTable(table string, snapshot map[string][]byte) {
	if snapshot == nil {
		delete(r.data, table)
	} else {
		r.data[table] = snapshot
	}
}

type memoryBatchTx struct {
	repo  *Repository
	table string
}

func (tx *memoryBatchTx) Get(key string) ([]byte, error) {
	return tx.repo.getLocked(tx.table, key)
}

func (tx *memoryBatchTx) Put(key string, value []byte) error {
	return tx.repo.putLocked(tx.table, key, value)
}

func (tx *memoryBatchTx) Delete(key string) error {
	return tx.repo.deleteLocked(tx.table, key)
}
