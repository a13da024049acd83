package tokenstore

import (
	"errors"
	"fmt"
)

// ErrStorage matches every *StorageError.
var ErrStorage = errors.New("token storage failure")

var (
	ErrInsecureBackend = errors.New("tokenstore: secure tier requires a secure backend")
	ErrNilBackend      = errors.New("tokenstore: nil backend")
	ErrKeySize         = errors.New("tokenstore: encryption key must be 32 bytes")
)

// StorageError reports a backend failure for one key.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("tokenstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
