package mapper

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // {SSHA} is defined on SHA-1
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

const (
	// HashSSHA is the salted SHA-1 userPassword scheme.
	HashSSHA = "ssha"
	// HashArgon2 is the argon2id userPassword scheme.
	HashArgon2 = "argon2"

	sshaPrefix   = "{SSHA}"
	argon2Prefix = "{ARGON2}"
	sshaSaltLen  = 8
)

// HashPassword hashes plaintext in userPassword format. An empty method means ssha.
func HashPassword(method, plaintext string) (string, error) {
	switch method {
	case "", HashSSHA:
		salt := make([]byte, sshaSaltLen)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("ssha salt: %w", err)
		}

		return sshaPrefix + base64.StdEncoding.EncodeToString(ssha(plaintext, salt)), nil
	case HashArgon2:
		h, err := argon2id.CreateHash(plaintext, argon2id.DefaultParams)
		if err != nil {
			return "", fmt.Errorf("argon2: %w", err)
		}

		return argon2Prefix + h, nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownHash, method)
}

// VerifyPassword checks plaintext against a userPassword value produced by HashPassword.
func VerifyPassword(hash, plaintext string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, sshaPrefix):
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(hash, sshaPrefix))
		if err != nil || len(raw) <= sha1.Size {
			return false, fmt.Errorf("%w: malformed ssha value", ErrUnknownHash)
		}

		want := ssha(plaintext, raw[sha1.Size:])

		return subtle.ConstantTimeCompare(want, raw) == 1, nil
	case strings.HasPrefix(hash, argon2Prefix):
		ok, err := argon2id.ComparePasswordAndHash(plaintext, strings.TrimPrefix(hash, argon2Prefix))
		if err != nil {
			return false, fmt.Errorf("argon2: %w", err)
		}

		return ok, nil
	}

	return false, ErrUnknownHash
}

// ssha returns sha1(plaintext+salt)+salt.
func ssha(plaintext string, salt []byte) []byte {
	sum := sha1.Sum(append([]byte(plaintext), salt...)) //nolint:gosec

	return bytes.Join([][]byte{sum[:], salt}, nil)
}
