package store

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/petabi/deview/internal/util"
)

const saltLen = 16

// HashPassword returns an argon2id PHC string for the NFKD-normalized password.
func HashPassword(password string, params util.Argon2idParams) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return "", err
	}
	key, err := util.DeriveArgon2idKey(util.Normalize(password), salt, params)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)
	return util.EncodeArgon2idHash(params, salt, key), nil
}

// VerifyPassword checks password against an encoded hash. argon2id PHC
// strings and bcrypt hashes are accepted; anything else never matches.
// The comparison is constant-time in the supplied password.
func VerifyPassword(encoded, password string) bool {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		params, salt, key, err := util.ParseArgon2idHash(encoded)
		if err != nil {
			return false
		}
		ok, err := util.CompareArgon2idKey(util.Normalize(password), salt, params, key)
		return err == nil && ok
	case isBcrypt(encoded):
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(util.Normalize(password))) == nil
	default:
		return false
	}
}

func isBcrypt(encoded string) bool {
	for _, p := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encoded, p) {
			return true
		}
	}
	return false
}
