package tokenstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

var errCorrupt = errors.New("ciphertext is corrupt or was sealed with another key")

// EncryptedFileBackend seals each value with XChaCha20-Poly1305 before
// handing it to a FileBackend. The key name is bound as associated data, so
// a value copied under another key fails to open.
type EncryptedFileBackend struct {
	file *FileBackend
	aead cipher.AEAD
}

// NewEncryptedFileBackend needs a 32-byte key supplied by the caller, for
// example from the OS keyring.
func NewEncryptedFileBackend(path string, key []byte) (*EncryptedFileBackend, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &EncryptedFileBackend{file: NewFileBackend(path), aead: aead}, nil
}

func (e *EncryptedFileBackend) Secure() bool { return true }

func (e *EncryptedFileBackend) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, ok, err := e.file.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < e.aead.NonceSize() {
		return "", false, errCorrupt
	}
	nonce, ciphertext := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", false, errCorrupt
	}
	return string(plain), true, nil
}

func (e *EncryptedFileBackend) Set(ctx context.Context, key, value string) error {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(value)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return e.file.Set(ctx, key, base64.RawStdEncoding.EncodeToString(sealed))
}

func (e *EncryptedFileBackend) Delete(ctx context.Context, key string) error {
	return e.file.Delete(ctx, key)
}
