// Package redis implements storage.Repository on top of Redis hashes.
//
// Each table is one hash named prefix+table; keys are hash fields. Redis
// drops a hash when its last field is removed, so an emptied table reports
// storage.ErrTableNotFound the same way a never-written one does.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/petabi/deview/storage"
)

// DefaultPrefix namespaces table hashes when Config.Prefix is empty.
const DefaultPrefix = "deview:"

// maxBatchRetries bounds optimistic-lock retries in Batch.
const maxBatchRetries = 5

// Config holds connection settings for the Redis backend.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Store implements storage.Repository backed by Redis.
type Store struct {
	client *redis.Client
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository using an existing client.
func NewRepository(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// NewRepositoryFromConfig dials Redis, verifies the connection with PING,
// and returns a new Repository.
func NewRepositoryFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRepository(client, cfg.Prefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) hash(table string) string {
	return s.prefix + table
}

func (s *Store) Put(table, key string, value []byte) error {
	return s.client.HSet(context.Background(), s.hash(table), key, value).Err()
}

func (s *Store) Get(table, key string) ([]byte, error) {
	ctx := context.Background()
	value, err := s.client.HGet(ctx, s.hash(table), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, s.notFoundError(ctx, table, key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Delete(table, key string) error {
	ctx := context.Background()
	n, err := s.client.HDel(ctx, s.hash(table), key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.notFoundError(ctx, table, key)
	}
	return nil
}

// List returns the keys of table in ascending order.
func (s *Store) List(table string) ([]string, error) {
	keys, err := s.client.HKeys(context.Background(), s.hash(table)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Batch runs fn under WATCH on the table hash and applies its writes in a
// single MULTI/EXEC. Reads inside fn see the batch's own pending writes. If
// another client modifies the table before EXEC, fn is retried.
func (s *Store) Batch(table string, fn func(tx storage.BatchTx) error) error {
	ctx := context.Background()
	hash := s.hash(table)
	txf := func(tx *redis.Tx) error {
		btx := &redisBatchTx{ctx: ctx, tx: tx, table: table, hash: hash, pending: map[string][]byte{}}
		if err := fn(btx); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range btx.order {
				if v := btx.pending[k]; v != nil {
					pipe.HSet(ctx, hash, k, v)
				} else {
					pipe.HDel(ctx, hash, k)
				}
			}
			return nil
		})
		return err
	}

	for range maxBatchRetries {
		err := s.client.Watch(ctx, txf, hash)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%s: batch aborted after %d conflicting writes", table, maxBatchRetries)
}

func (s *Store) notFoundError(ctx context.Context, table, key string) error {
	n, _ := s.client.Exists(ctx, s.hash(table)).Result()
	if n == 0 {
		return fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	}
	return fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
}

// redisBatchTx buffers writes until EXEC. A nil pending value marks a delete.
type redisBatchTx struct {
	ctx     context.Context
	tx      *redis.Tx
	table   string
	hash    string
	pending map[string][]byte
	order   []string
}

var _ storage.BatchTx = (*redisBatchTx)(nil)

func (btx *redisBatchTx) Get(key string) ([]byte, error) {
	if v, ok := btx.pending[key]; ok {
		if v == nil {
			return nil, fmt.Errorf("%s/%s: %w", btx.table, key, storage.ErrNotFound)
		}
		return append([]byte(nil), v...), nil
	}
	value, err := btx.tx.HGet(btx.ctx, btx.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", btx.table, key, storage.ErrNotFound)
	}
	return value, err
}

func (btx *redisBatchTx) Put(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	btx.record(key, append([]byte(nil), value...))
	return nil
}

func (btx *redisBatchTx) Delete(key string) error {
	if _, err := btx.Get(key); err != nil {
		return err
	}
	btx.record(key, nil)
	return nil
}

func (btx *redisBatchTx) record(key string, value []byte) {
	if _, ok := btx.pending[key]; !ok {
		btx.order = append(btx.order, key)
	}
	btx.pending[key] = value
}
