package util

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams controls the work factor for password hashing.
type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

// DefaultArgon2idParams returns the parameters used for new password hashes.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// HashPassword derives an argon2id hash of password with a fresh random salt.
// The salt is returned alongside the hash and must be stored with it.
func HashPassword(password string, params Argon2idParams) (hash, salt []byte, err error) {
	if params.KeyLen != 32 {
		return nil, nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	salt, err = RandomBytes(16)
	if err != nil {
		return nil, nil, err
	}
	hash = argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return hash, salt, nil
}

// VerifyPassword reports whether password matches the stored hash in constant time.
func VerifyPassword(password string, salt, expected []byte, params Argon2idParams) bool {
	if len(expected) == 0 || len(salt) == 0 {
		return false
	}
	key := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return subtle.ConstantTimeCompare(key, expected) == 1
}
