package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/petabi/deview/storage"
)

// Table names in the underlying repository.
const (
	AccountTable     = "account"
	AccessTokenTable = "access_token"
)

// ErrAccountExists is returned by AccountMap.Insert for a taken username.
var ErrAccountExists = errors.New("account already exists")

func isAbsent(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrTableNotFound)
}

// AccountMap is the account table keyed by username.
type AccountMap struct {
	repo storage.Repository
}

// Get returns the account for username, or nil if there is none.
func (m *AccountMap) Get(username string) (*Account, error) {
	data, err := m.repo.Get(AccountTable, username)
	if isAbsent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading account %s: %w", username, err)
	}
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding account %s: %w", username, err)
	}
	return &a, nil
}

// Put stores account, replacing any existing entry.
func (m *AccountMap) Put(account *Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encoding account %s: %w", account.Username, err)
	}
	if err := m.repo.Put(AccountTable, account.Username, data); err != nil {
		return fmt.Errorf("writing account %s: %w", account.Username, err)
	}
	return nil
}

// Insert stores account only if the username is free.
func (m *AccountMap) Insert(account *Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encoding account %s: %w", account.Username, err)
	}
	return m.repo.Batch(AccountTable, func(tx storage.BatchTx) error {
		_, err := tx.Get(account.Username)
		if err == nil {
			return fmt.Errorf("%s: %w", account.Username, ErrAccountExists)
		}
		if !isAbsent(err) {
			return err
		}
		return tx.Put(account.Username, data)
	})
}

// Delete removes the account. Removing an absent account is not an error.
func (m *AccountMap) Delete(username string) error {
	if err := m.repo.Delete(AccountTable, username); err != nil && !isAbsent(err) {
		return fmt.Errorf("deleting account %s: %w", username, err)
	}
	return nil
}

// List returns all accounts ordered by username.
func (m *AccountMap) List() ([]*Account, error) {
	keys, err := m.repo.List(AccountTable)
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(keys))
	for _, k := range keys {
		a, err := m.Get(k)
		if err != nil {
			return nil, err
		}
		if a != nil {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

// AccessToken is the session token most recently issued to a user.
type AccessToken struct {
	Username string    `json:"username"`
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issued_at"`
}

// AccessTokenMap holds at most one token per username.
type AccessTokenMap struct {
	repo storage.Repository
	now  func() time.Time
}

// Insert records token as the current token for username. A previous
// token for the same user is replaced.
func (m *AccessTokenMap) Insert(username, token string) error {
	data, err := json.Marshal(AccessToken{Username: username, Token: token, IssuedAt: m.now().UTC()})
	if err != nil {
		return err
	}
	if err := m.repo.Put(AccessTokenTable, username, data); err != nil {
		return fmt.Errorf("writing access token for %s: %w", username, err)
	}
	return nil
}

// Get returns the current token for username, or nil if there is none.
func (m *AccessTokenMap) Get(username string) (*AccessToken, error) {
	data, err := m.repo.Get(AccessTokenTable, username)
	if isAbsent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading access token for %s: %w", username, err)
	}
	var t AccessToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding access token for %s: %w", username, err)
	}
	return &t, nil
}

// Revoke removes the token for username if there is one.
func (m *AccessTokenMap) Revoke(username string) error {
	if err := m.repo.Delete(AccessTokenTable, username); err != nil && !isAbsent(err) {
		return fmt.Errorf("revoking access token for %s: %w", username, err)
	}
	return nil
}

// List returns all current tokens ordered by username.
func (m *AccessTokenMap) List() ([]*AccessToken, error) {
	keys, err := m.repo.List(AccessTokenTable)
	if err != nil {
		return nil, err
	}
	tokens := make([]*AccessToken, 0, len(keys))
	for _, k := range keys {
		t, err := m.Get(k)
		if err != nil {
			return nil, err
		}
		if t != nil {
			tokens = append(tokens, t)
		}
	}
	return tokens, nil
}
