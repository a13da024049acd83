package tokenstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUserProfile  = "userProfile"
)

// Tier is the storage class a key is routed to.
type Tier int

const (
	TierPlain Tier = iota
	TierSecure
)

// Classifier decides the tier of a key. It must be a pure function of the key.
type Classifier func(key string) Tier

// DefaultClassifier sends both tokens to the secure tier and everything else
// to the plain tier.
func DefaultClassifier(key string) Tier {
	switch key {
	case KeyAccessToken, KeyRefreshToken:
		return TierSecure
	default:
		return TierPlain
	}
}

// Backend is one key/value tier. Get reports ok=false for an absent key.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// SecureMarker is implemented by backends that keep values confidential.
type SecureMarker interface {
	Secure() bool
}

func isSecure(b Backend) bool {
	m, ok := b.(SecureMarker)
	return ok && m.Secure()
}

type Options struct {
	Secure     Backend
	Plain      Backend
	Classifier Classifier
	Logger     *slog.Logger
}

// Store routes every key to exactly one backend. Calls are serialized, so
// SetPair and Clear are atomic with respect to other Store calls in this
// process.
type Store struct {
	mu       sync.Mutex
	secure   Backend
	plain    Backend
	classify Classifier
	logger   *slog.Logger
}

// New returns ErrInsecureBackend when opts.Secure does not report Secure().
func New(opts Options) (*Store, error) {
	if opts.Secure == nil || opts.Plain == nil {
		return nil, ErrNilBackend
	}
	if !isSecure(opts.Secure) {
		return nil, ErrInsecureBackend
	}
	if opts.Classifier == nil {
		opts.Classifier = DefaultClassifier
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		secure:   opts.Secure,
		plain:    opts.Plain,
		classify: opts.Classifier,
		logger:   opts.Logger,
	}, nil
}

// NewMemory returns a Store with two in-memory tiers.
func NewMemory() *Store {
	s, _ := New(Options{Secure: NewMemoryBackend(), Plain: NewMemoryBackend()})
	return s
}

func (s *Store) backend(key string) Backend {
	if s.classify(key) == TierSecure {
		return s.secure
	}
	return s.plain
}

// SetItem writes value under key in the tier its classification selects.
func (s *Store) SetItem(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storageErr("set", key, s.backend(key).Set(ctx, key, value))
}

// GetItem reads key. A missing key is ok == false with a nil error.
func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok, err := s.backend(key).Get(ctx, key)
	if err != nil {
		return "", false, storageErr("get", key, err)
	}
	return v, ok, nil
}

// RemoveItem deletes key. Removing an absent key is not an error.
func (s *Store) RemoveItem(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storageErr("remove", key, s.backend(key).Delete(ctx, key))
}

// SetPair writes both tokens. If the second write fails the first is removed
// again so a half-written pair is never observed.
func (s *Store) SetPair(ctx context.Context, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend(KeyAccessToken).Set(ctx, KeyAccessToken, access); err != nil {
		return storageErr("set", KeyAccessToken, err)
	}
	if err := s.backend(KeyRefreshToken).Set(ctx, KeyRefreshToken, refresh); err != nil {
		if rbErr := s.backend(KeyAccessToken).Delete(ctx, KeyAccessToken); rbErr != nil {
			s.logger.WarnContext(ctx, "tokenstore: rollback of access token failed", slog.Any("error", rbErr))
		}
		return storageErr("set", KeyRefreshToken, err)
	}
	return nil
}

// Pair returns ok=false unless both tokens are present.
func (s *Store) Pair(ctx context.Context) (access, refresh string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	access, okA, err := s.backend(KeyAccessToken).Get(ctx, KeyAccessToken)
	if err != nil {
		return "", "", false, storageErr("get", KeyAccessToken, err)
	}
	refresh, okR, err := s.backend(KeyRefreshToken).Get(ctx, KeyRefreshToken)
	if err != nil {
		return "", "", false, storageErr("get", KeyRefreshToken, err)
	}
	if !okA || !okR || access == "" || refresh == "" {
		return "", "", false, nil
	}
	return access, refresh, true, nil
}

// Clear removes the tokens and the cached profile. Every key is attempted
// even when an earlier delete fails.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUserProfile} {
		if err := s.backend(key).Delete(ctx, key); err != nil {
			errs = append(errs, storageErr("remove", key, err))
		}
	}
	return errors.Join(errs...)
}
