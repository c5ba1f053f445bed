package store

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// MaxUsernameLength bounds usernames in bytes.
const MaxUsernameLength = 256

// ErrInvalidUsername is wrapped by every username validation failure other
// than an empty name.
var ErrInvalidUsername = errors.New("invalid username")

func validateUsername(username string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	if len(username) > MaxUsernameLength {
		return fmt.Errorf("%w: exceeds maximum length of %d", ErrInvalidUsername, MaxUsernameLength)
	}
	if !utf8.ValidString(username) {
		return fmt.Errorf("%w: contains invalid UTF-8", ErrInvalidUsername)
	}
	for _, r := range username {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: contains whitespace or control character %q", ErrInvalidUsername, r)
		}
	}
	return nil
}
