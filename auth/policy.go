package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/petabi/deview/internal/util"
)

// DefaultExpiresIn is the token lifetime in seconds when none is configured.
const DefaultExpiresIn uint32 = 3600

var (
	ErrEmptySecret      = errors.New("token secret must not be empty")
	ErrInvalidExpiresIn = errors.New("token lifetime must be greater than zero")
	ErrPolicyPoisoned   = errors.New("token policy is unusable after a failed update")
	errSecretNotSet     = errors.New("token secret is not set")
	errExpiresInNotSet  = errors.New("token lifetime is not set")
)

// Policy holds the token signing secret and lifetime. Each value has its
// own lock, so reading one never waits on a writer of the other.
//
// The values are set once at startup. If a setter panics the value is
// marked poisoned and later reads fail with ErrPolicyPoisoned.
type Policy struct {
	ttlMu       sync.RWMutex
	ttl         uint32
	ttlPoisoned bool

	secretMu       sync.RWMutex
	secret         *memguard.Enclave
	secretPoisoned bool
}

// NewPolicy returns a Policy with both values set.
func NewPolicy(secret []byte, expiresIn uint32) (*Policy, error) {
	p := &Policy{}
	if err := p.SetExpiresIn(expiresIn); err != nil {
		return nil, err
	}
	if err := p.SetSecret(secret); err != nil {
		return nil, err
	}
	return p, nil
}

// ExpiresIn returns the token lifetime in seconds.
func (p *Policy) ExpiresIn() (uint32, error) {
	p.ttlMu.RLock()
	defer p.ttlMu.RUnlock()
	if p.ttlPoisoned {
		return 0, fmt.Errorf("expires_in: %w", ErrPolicyPoisoned)
	}
	if p.ttl == 0 {
		return 0, errExpiresInNotSet
	}
	return p.ttl, nil
}

// Secret returns a copy of the signing secret. Callers should wipe it
// with util.WipeBytes when done.
func (p *Policy) Secret() ([]byte, error) {
	p.secretMu.RLock()
	defer p.secretMu.RUnlock()
	if p.secretPoisoned {
		return nil, fmt.Errorf("secret: %w", ErrPolicyPoisoned)
	}
	if p.secret == nil {
		return nil, errSecretNotSet
	}
	buf, err := p.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	return util.CopyBytes(buf.Bytes()), nil
}

// SetExpiresIn replaces the token lifetime.
func (p *Policy) SetExpiresIn(seconds uint32) error {
	return p.updateExpiresIn(func() (uint32, error) {
		if seconds == 0 {
			return 0, ErrInvalidExpiresIn
		}
		return seconds, nil
	})
}

// SetSecret replaces the signing secret. The caller's slice is left intact.
func (p *Policy) SetSecret(secret []byte) error {
	return p.updateSecret(func() (*memguard.Enclave, error) {
		if len(secret) == 0 {
			return nil, ErrEmptySecret
		}
		return memguard.NewEnclave(util.CopyBytes(secret)), nil
	})
}

func (p *Policy) updateExpiresIn(next func() (uint32, error)) (err error) {
	p.ttlMu.Lock()
	defer p.ttlMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			p.ttlPoisoned = true
			err = fmt.Errorf("expires_in: %w: %v", ErrPolicyPoisoned, r)
		}
	}()
	ttl, err := next()
	if err != nil {
		return err
	}
	p.ttl = ttl
	p.ttlPoisoned = false
	return nil
}

func (p *Policy) updateSecret(next func() (*memguard.Enclave, error)) (err error) {
	p.secretMu.Lock()
	defer p.secretMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			p.secretPoisoned = true
			err = fmt.Errorf("secret: %w: %v", ErrPolicyPoisoned, r)
		}
	}()
	enclave, err := next()
	if err != nil {
		return err
	}
	p.secret = enclave
	p.secretPoisoned = false
	return nil
}
