package auth

import (
	"errors"
	"fmt"
)

// Code classifies an authentication failure. The set is closed.
type Code string

const (
	CodeUserNotFound  Code = "user_not_found"
	CodeBadCredential Code = "bad_credential"
	CodePersistence   Code = "persistence"
	CodeConfiguration Code = "configuration"
	CodeInvalidToken  Code = "invalid_token"
	CodeTokenExpired  Code = "token_expired"
	CodeTokenRevoked  Code = "token_revoked"
)

// UniformReason is the message shown to clients when the distinction
// between an unknown user and a wrong password should not be revealed.
const UniformReason = "invalid username or password"

// Error is returned by every operation in this package.
type Error struct {
	Code     Code
	Username string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case CodeUserNotFound, CodeBadCredential:
		return "sign in failed: " + e.Reason()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Reason is the failure description without the "sign in failed" prefix.
func (e *Error) Reason() string {
	switch e.Code {
	case CodeUserNotFound:
		return fmt.Sprintf("user %s doesn't exist", e.Username)
	case CodeBadCredential:
		return "incorrect password"
	case CodeTokenExpired:
		return "token expired"
	case CodeTokenRevoked:
		return "token revoked"
	case CodeInvalidToken:
		return "invalid token"
	}
	return e.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

// CodeOf returns the code carried by err, or the empty string.
func CodeOf(err error) Code {
	var typed *Error
	if !errors.As(err, &typed) {
		return ""
	}
	return typed.Code
}

// IsAuthenticationFailure reports whether err means the caller supplied
// wrong credentials, as opposed to a server-side problem.
func IsAuthenticationFailure(err error) bool {
	return IsCode(err, CodeUserNotFound) || IsCode(err, CodeBadCredential)
}

// IsTokenFailure reports whether err means a presented token was rejected.
func IsTokenFailure(err error) bool {
	return IsCode(err, CodeInvalidToken) || IsCode(err, CodeTokenExpired) || IsCode(err, CodeTokenRevoked)
}

func configurationError(err error) *Error {
	return &Error{Code: CodeConfiguration, Err: err}
}

func persistenceError(username string, err error) *Error {
	return &Error{Code: CodePersistence, Username: username, Err: err}
}
