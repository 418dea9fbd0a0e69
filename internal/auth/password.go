package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2 parameters tuned for an interactive login path: memory-hard enough
// to resist GPU cracking, cheap enough not to be felt by a user logging in.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashPassword derives an Argon2id hash and a random salt for a plaintext
// password. Both are returned base64-encoded for storage in domain.User's
// PasswordHash/PasswordSalt columns.
func HashPassword(password string) (hash string, salt string, err error) {
	saltBytes := make([]byte, saltLen)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}

	derived := argon2.IDKey([]byte(password), saltBytes, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(derived), base64.RawStdEncoding.EncodeToString(saltBytes), nil
}

// VerifyPassword checks a plaintext password against a stored hash/salt
// pair using a constant-time comparison to avoid timing side channels.
func VerifyPassword(password, hash, salt string) (bool, error) {
	saltBytes, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	derived := argon2.IDKey([]byte(password), saltBytes, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(derived, expected) == 1, nil
}
