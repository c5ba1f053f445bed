package util

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidArgon2idHash is returned for strings that are not argon2id PHC hashes.
var ErrInvalidArgon2idHash = errors.New("invalid argon2id hash")

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen == 0 || params.Time == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("argon2id parameters must be non-zero")
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}

// EncodeArgon2idHash renders salt and key in the PHC string format:
// $argon2id$v=19$m=<KiB>,t=<time>,p=<lanes>$<salt>$<key>
func EncodeArgon2idHash(params Argon2idParams, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.MemoryKiB, params.Time, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// ParseArgon2idHash is the inverse of EncodeArgon2idHash. The key length
// in the returned params is taken from the decoded key.
func ParseArgon2idHash(encoded string) (Argon2idParams, []byte, []byte, error) {
	var params Argon2idParams
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, ErrInvalidArgon2idHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, ErrInvalidArgon2idHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return params, nil, nil, ErrInvalidArgon2idHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, ErrInvalidArgon2idHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, ErrInvalidArgon2idHash
	}
	params.KeyLen = uint32(len(key))
	return params, salt, key, nil
}
