// Package store is the record store behind sign-in: the account table, the
// access-token table, and the guard that serializes maintenance against
// request traffic.
package store

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/petabi/deview/storage"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store is closed")

// Tables groups the maps a guarded callback may use.
type Tables struct {
	Accounts *AccountMap
	Tokens   *AccessTokenMap
}

// Store wraps a repository behind a shared-read / exclusive-write guard.
//
// Request handlers take the shared guard, even when they write, and rely on
// the repository's per-key atomicity. The exclusive guard is for work that
// must not interleave with requests, such as account maintenance and
// shutdown.
type Store struct {
	mu     sync.RWMutex
	repo   storage.Repository
	tables Tables
	closed bool
}

// New returns a Store over repo.
func New(repo storage.Repository) *Store {
	return &Store{
		repo: repo,
		tables: Tables{
			Accounts: &AccountMap{repo: repo},
			Tokens:   &AccessTokenMap{repo: repo, now: time.Now},
		},
	}
}

// Read runs fn under the shared guard.
func (s *Store) Read(fn func(Tables) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.tables)
}

// Write runs fn under the exclusive guard.
func (s *Store) Write(fn func(Tables) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.tables)
}

// Close waits for in-flight callbacks and closes the repository when it
// supports closing.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.repo.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
