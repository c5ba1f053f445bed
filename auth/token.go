package auth

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/petabi/deview/internal/util"
)

// ErrExpiryOverflow is returned when now plus the token lifetime does not
// fit in a Unix timestamp.
var ErrExpiryOverflow = errors.New("token expiry overflows the time range")

// Claims is the payload of a session token. On the wire it carries sub,
// role and exp, plus iat and jti.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenCodec mints and checks HS256 session tokens using a Policy.
type TokenCodec struct {
	policy *Policy
	now    func() time.Time
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithClock replaces the wall clock used for iat, exp and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec returns a codec that reads its secret and lifetime from policy.
func NewTokenCodec(policy *Policy, opts ...TokenOption) *TokenCodec {
	c := &TokenCodec{policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateToken signs a token for subject and role. It returns the compact
// token and its expiry as a UTC time.
func (c *TokenCodec) CreateToken(subject, role string) (string, time.Time, error) {
	ttl, err := c.policy.ExpiresIn()
	if err != nil {
		return "", time.Time{}, configurationError(err)
	}
	secret, err := c.policy.Secret()
	if err != nil {
		return "", time.Time{}, configurationError(err)
	}
	defer util.WipeBytes(secret)

	now := c.now()
	expiresAt, err := expiry(now, ttl)
	if err != nil {
		return "", time.Time{}, configurationError(err)
	}

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, configurationError(fmt.Errorf("signing token: %w", err))
	}
	return token, expiresAt, nil
}

func expiry(now time.Time, ttl uint32) (time.Time, error) {
	sec := now.Unix()
	if sec > math.MaxInt64-int64(ttl) {
		return time.Time{}, ErrExpiryOverflow
	}
	return time.Unix(sec+int64(ttl), 0).UTC(), nil
}

// ValidateToken verifies the signature and expiry of token and returns its
// claims. Only HS256 is accepted and exp is mandatory.
func (c *TokenCodec) ValidateToken(token string) (*Claims, error) {
	secret, err := c.policy.Secret()
	if err != nil {
		return nil, configurationError(err)
	}
	defer util.WipeBytes(secret)

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	var claims Claims
	_, err = parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &Error{Code: CodeTokenExpired, Username: claims.Subject, Err: err}
	case err != nil:
		return nil, &Error{Code: CodeInvalidToken, Err: err}
	case claims.Subject == "":
		return nil, &Error{Code: CodeInvalidToken, Err: errors.New("token has no subject")}
	}
	return &claims, nil
}
