package store

import (
	"errors"
	"time"

	"github.com/petabi/deview/internal/util"
)

// Role is the access level attached to an account. It is carried verbatim
// in session tokens.
type Role string

const (
	RoleSystemAdministrator   Role = "System Administrator"
	RoleSecurityAdministrator Role = "Security Administrator"
	RoleSecurityManager       Role = "Security Manager"
	RoleSecurityMonitor       Role = "Security Monitor"
)

func (r Role) String() string { return string(r) }

// Account is a user who can sign in. Password holds an encoded hash, never
// the plaintext.
type Account struct {
	Username       string     `json:"username"`
	Password       string     `json:"password"`
	Role           Role       `json:"role"`
	Name           string     `json:"name,omitempty"`
	Department     string     `json:"department,omitempty"`
	CreationTime   time.Time  `json:"creation_time"`
	LastSigninTime *time.Time `json:"last_signin_time,omitempty"`
}

var (
	ErrEmptyUsername = errors.New("username must not be empty")
	ErrEmptyPassword = errors.New("password must not be empty")
	ErrEmptyRole     = errors.New("role must not be empty")
)

type accountOptions struct {
	name       string
	department string
	params     util.Argon2idParams
	now        func() time.Time
}

// AccountOption customizes NewAccount.
type AccountOption func(*accountOptions)

func WithName(name string) AccountOption {
	return func(o *accountOptions) { o.name = name }
}

func WithDepartment(department string) AccountOption {
	return func(o *accountOptions) { o.department = department }
}

// WithHashParams overrides the argon2id cost parameters.
func WithHashParams(params util.Argon2idParams) AccountOption {
	return func(o *accountOptions) { o.params = params }
}

// NewAccount creates an account with a freshly hashed password.
func NewAccount(username, password string, role Role, opts ...AccountOption) (*Account, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if role == "" {
		return nil, ErrEmptyRole
	}
	o := accountOptions{params: util.DefaultArgon2idParams(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	hash, err := HashPassword(password, o.params)
	if err != nil {
		return nil, err
	}
	return &Account{
		Username:     username,
		Password:     hash,
		Role:         role,
		Name:         o.name,
		Department:   o.department,
		CreationTime: o.now().UTC(),
	}, nil
}

// VerifyPassword reports whether password matches the stored hash.
func (a *Account) VerifyPassword(password string) bool {
	return VerifyPassword(a.Password, password)
}

// UpdateLastSigninTime records the current time as the last sign-in.
func (a *Account) UpdateLastSigninTime() {
	now := time.Now().UTC()
	a.LastSigninTime = &now
}
