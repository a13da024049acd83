package tokenstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
)

type failingBackend struct {
	*MemoryBackend
	failSet map[string]bool
	failGet bool
	failDel bool
}

func newFailing() *failingBackend {
	return &failingBackend{MemoryBackend: NewMemoryBackend(), failSet: map[string]bool{}}
}

var errDisk = errors.New("disk full")

func (f *failingBackend) Set(ctx context.Context, key, value string) error {
	if f.failSet[key] {
		return errDisk
	}
	return f.MemoryBackend.Set(ctx, key, value)
}

func (f *failingBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet {
		return "", false, errDisk
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *failingBackend) Delete(ctx context.Context, key string) error {
	if f.failDel {
		return errDisk
	}
	return f.MemoryBackend.Delete(ctx, key)
}

func sortedKeys(m *MemoryBackend) []string {
	keys := m.Keys()
	sort.Strings(keys)
	return keys
}

func TestSecretKeysNeverReachPlainBackend(t *testing.T) {
	ctx := context.Background()
	secure, plain := NewMemoryBackend(), NewMemoryBackend()
	s, err := New(Options{Secure: secure, Plain: plain})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.SetPair(ctx, "access", "refresh"); err != nil {
		t.Fatalf("SetPair: %v", err)
	}
	if err := s.SetItem(ctx, KeyUserProfile, `{"id":"u1"}`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if err := s.SetItem(ctx, KeyAccessToken, "access-2"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}

	if got := sortedKeys(plain); len(got) != 1 || got[0] != KeyUserProfile {
		t.Fatalf("plain backend holds %v", got)
	}
	if got := sortedKeys(secure); len(got) != 2 || got[0] != KeyAccessToken || got[1] != KeyRefreshToken {
		t.Fatalf("secure backend holds %v", got)
	}

	v, ok, err := s.GetItem(ctx, KeyAccessToken)
	if err != nil || !ok || v != "access-2" {
		t.Fatalf("GetItem = %q %v %v", v, ok, err)
	}
}

func TestCustomClassifier(t *testing.T) {
	ctx := context.Background()
	secure, plain := NewMemoryBackend(), NewMemoryBackend()
	s, err := New(Options{
		Secure: secure,
		Plain:  plain,
		Classifier: func(key string) Tier {
			if key == "deviceSecret" {
				return TierSecure
			}
			return DefaultClassifier(key)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SetItem(ctx, "deviceSecret", "s3cr3t"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if _, ok, _ := plain.Get(ctx, "deviceSecret"); ok {
		t.Fatal("classified secret leaked to plain backend")
	}
}

func TestNewRejectsInsecureSecureTier(t *testing.T) {
	_, err := New(Options{Secure: NewFileBackend(filepath.Join(t.TempDir(), "t.json")), Plain: NewMemoryBackend()})
	if !errors.Is(err, ErrInsecureBackend) {
		t.Fatalf("expected ErrInsecureBackend, got %v", err)
	}
	if _, err := New(Options{Plain: NewMemoryBackend()}); !errors.Is(err, ErrNilBackend) {
		t.Fatalf("expected ErrNilBackend, got %v", err)
	}
}

func TestPairAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if _, _, ok, err := s.Pair(ctx); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if err := s.SetItem(ctx, KeyAccessToken, "only-access"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if _, _, ok, _ := s.Pair(ctx); ok {
		t.Fatal("half pair must not be reported")
	}

	if err := s.SetPair(ctx, "a", "r"); err != nil {
		t.Fatalf("SetPair: %v", err)
	}
	_ = s.SetItem(ctx, KeyUserProfile, "{}")
	a, r, ok, err := s.Pair(ctx)
	if err != nil || !ok || a != "a" || r != "r" {
		t.Fatalf("Pair = %q %q %v %v", a, r, ok, err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear #%d: %v", i+1, err)
		}
	}
	if _, _, ok, _ := s.Pair(ctx); ok {
		t.Fatal("pair survived Clear")
	}
	if _, ok, _ := s.GetItem(ctx, KeyUserProfile); ok {
		t.Fatal("profile survived Clear")
	}
}

func TestSetPairRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	secure := newFailing()
	secure.failSet[KeyRefreshToken] = true
	s, err := New(Options{Secure: secure, Plain: NewMemoryBackend()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = s.SetPair(ctx, "a", "r")
	var se *StorageError
	if !errors.As(err, &se) || se.Key != KeyRefreshToken || !errors.Is(err, ErrStorage) || !errors.Is(err, errDisk) {
		t.Fatalf("expected StorageError for refresh token, got %v", err)
	}
	if _, ok, _ := secure.MemoryBackend.Get(ctx, KeyAccessToken); ok {
		t.Fatal("access token left behind after failed SetPair")
	}
}

func TestStorageErrorsSurface(t *testing.T) {
	ctx := context.Background()
	secure := newFailing()
	secure.failGet = true
	secure.failDel = true
	s, _ := New(Options{Secure: secure, Plain: NewMemoryBackend()})

	if _, _, _, err := s.Pair(ctx); !errors.Is(err, ErrStorage) {
		t.Fatalf("Pair: expected ErrStorage, got %v", err)
	}
	if _, _, err := s.GetItem(ctx, KeyRefreshToken); !errors.Is(err, ErrStorage) {
		t.Fatalf("GetItem: expected ErrStorage, got %v", err)
	}
	if err := s.Clear(ctx); !errors.Is(err, ErrStorage) {
		t.Fatalf("Clear: expected ErrStorage, got %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = s.SetPair(ctx, "a", "r")
			} else {
				_ = s.Clear(ctx)
			}
			a, r, ok, err := s.Pair(ctx)
			if err != nil {
				t.Errorf("Pair: %v", err)
			}
			if ok && (a != "a" || r != "r") {
				t.Errorf("torn pair %q %q", a, r)
			}
		}(i)
	}
	wg.Wait()
}

func TestFileBackendPersistsWithPrivateMode(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	fb := NewFileBackend(path)

	if err := fb.Set(ctx, "city", "42"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}

	v, ok, err := NewFileBackend(path).Get(ctx, "city")
	if err != nil || !ok || v != "42" {
		t.Fatalf("reopen Get = %q %v %v", v, ok, err)
	}
	if err := fb.Delete(ctx, "city"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := fb.Get(ctx, "city"); ok {
		t.Fatal("value survived Delete")
	}
}

func TestFileBackendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewFileBackend(path).Get(context.Background(), "k"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEncryptedFileBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	key := bytes.Repeat([]byte{7}, 32)

	eb, err := NewEncryptedFileBackend(path, key)
	if err != nil {
		t.Fatalf("NewEncryptedFileBackend: %v", err)
	}
	if err := eb.Set(ctx, KeyRefreshToken, "refresh-secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Contains(raw, []byte("refresh-secret")) {
		t.Fatal("plaintext token written to disk")
	}

	v, ok, err := eb.Get(ctx, KeyRefreshToken)
	if err != nil || !ok || v != "refresh-secret" {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}

	other, _ := NewEncryptedFileBackend(path, bytes.Repeat([]byte{8}, 32))
	if _, _, err := other.Get(ctx, KeyRefreshToken); err == nil {
		t.Fatal("expected failure with wrong key")
	}

	// A sealed value moved under another key must not open.
	plain := NewFileBackend(path)
	sealed, _, _ := plain.Get(ctx, KeyRefreshToken)
	_ = plain.Set(ctx, KeyAccessToken, sealed)
	if _, _, err := eb.Get(ctx, KeyAccessToken); err == nil {
		t.Fatal("expected associated-data mismatch")
	}

	if _, err := NewEncryptedFileBackend(path, []byte("short")); !errors.Is(err, ErrKeySize) {
		t.Fatalf("expected ErrKeySize, got %v", err)
	}
}
