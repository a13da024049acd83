package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher verifies both argon2id hashes and the bcrypt hashes inherited from the
// previous staff backend. New hashes are always argon2id, and any bcrypt hash
// reports NeedsUpgrade so it is replaced on the next successful login.
type Hasher struct {
	argon *Argon2
}

// NewHasher wraps an argon2id hasher built from cfg.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// Hash returns a new argon2id hash.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify checks password against an argon2id or bcrypt hash.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	if !IsBcrypt(encodedHash) {
		return h.argon.Verify(password, encodedHash)
	}

	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrMalformedHash
	}
}

// NeedsUpgrade is true for every bcrypt hash and for argon2id hashes with stale parameters.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	if IsBcrypt(encodedHash) {
		return true, nil
	}
	return h.argon.NeedsUpgrade(encodedHash)
}

// IsBcrypt reports whether encodedHash uses a bcrypt modular-crypt prefix.
func IsBcrypt(encodedHash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encodedHash, prefix) {
			return true
		}
	}
	return false
}
