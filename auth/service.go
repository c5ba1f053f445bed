// Package auth signs users in and checks the session tokens it issues.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/petabi/deview/store"
)

// SignInResult is returned by a successful SignIn.
type SignInResult struct {
	Account   *store.Account
	Token     string
	ExpiresAt time.Time
}

// Service implements sign-in, token authentication and sign-out over a
// record store.
type Service struct {
	store    *store.Store
	codec    *TokenCodec
	verifier Verifier
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for server-side failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithVerifier replaces the password verifier.
func WithVerifier(v Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// NewService returns a Service using st for accounts and tokens and codec
// for minting tokens.
func NewService(st *store.Store, codec *TokenCodec, opts ...Option) *Service {
	s := &Service{
		store:    st,
		codec:    codec,
		verifier: CredentialVerifier{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignIn checks username and password and, on success, issues a token.
//
// The account's last sign-in time is updated and persisted before the
// token is recorded as the user's current token. Nothing is written when
// the user is unknown, the password is wrong, or the token cannot be
// minted.
func (s *Service) SignIn(ctx context.Context, username, password string) (*SignInResult, error) {
	var result *SignInResult
	err := s.store.Read(func(tbl store.Tables) error {
		account, err := tbl.Accounts.Get(username)
		if err != nil {
			return persistenceError(username, err)
		}
		if account == nil {
			return &Error{Code: CodeUserNotFound, Username: username}
		}
		if !s.verifier.Verify(account, password) {
			return &Error{Code: CodeBadCredential, Username: username}
		}

		token, expiresAt, err := s.codec.CreateToken(username, account.Role.String())
		if err != nil {
			return err
		}

		account.UpdateLastSigninTime()
		if err := tbl.Accounts.Put(account); err != nil {
			return persistenceError(username, err)
		}
		if err := tbl.Tokens.Insert(username, token); err != nil {
			return persistenceError(username, err)
		}

		result = &SignInResult{Account: account, Token: token, ExpiresAt: expiresAt}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "sign in", username, err)
	}
	return result, nil
}

// Authenticate validates token and checks that it is still the current
// token of its subject. A token replaced by a later sign-in, or revoked by
// SignOut, is rejected with CodeTokenRevoked.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.codec.ValidateToken(token)
	if err != nil {
		return nil, s.fail(ctx, "authenticate", "", err)
	}
	err = s.store.Read(func(tbl store.Tables) error {
		current, err := tbl.Tokens.Get(claims.Subject)
		if err != nil {
			return persistenceError(claims.Subject, err)
		}
		if current == nil || subtle.ConstantTimeCompare([]byte(current.Token), []byte(token)) != 1 {
			return &Error{Code: CodeTokenRevoked, Username: claims.Subject}
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "authenticate", claims.Subject, err)
	}
	return claims, nil
}

// SignOut revokes the current token of username.
func (s *Service) SignOut(ctx context.Context, username string) error {
	err := s.store.Read(func(tbl store.Tables) error {
		if err := tbl.Tokens.Revoke(username); err != nil {
			return persistenceError(username, err)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, "sign out", username, err)
	}
	return nil
}

// fail normalizes err to *Error and logs server-side failures. Client
// mistakes are left to the caller's audit log.
func (s *Service) fail(ctx context.Context, op, username string, err error) error {
	var authErr *Error
	if !errors.As(err, &authErr) {
		authErr = persistenceError(username, err)
	}
	switch authErr.Code {
	case CodePersistence, CodeConfiguration:
		s.logger.ErrorContext(ctx, op+" failed",
			"username", username,
			"code", string(authErr.Code),
			"error", authErr.Err,
		)
	}
	return authErr
}
