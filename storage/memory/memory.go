// Package memory is an in-process tgauth.UserProvider for tests and local
// development. Data is lost on restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/medmarket/tgauth"
)

// ErrAlreadyExists is returned when a staff account collides with an existing one.
var ErrAlreadyExists = errors.New("already exists")

// Store keeps users in maps guarded by one RWMutex.
type Store struct {
	mu         sync.RWMutex
	users      map[string]tgauth.UserRecord
	byTelegram map[int64]string
	byStaff    map[string]string
}

func New() *Store {
	return &Store{
		users:      make(map[string]tgauth.UserRecord),
		byTelegram: make(map[int64]string),
		byStaff:    make(map[string]string),
	}
}

func staffKey(role tgauth.Role, identifier string) string {
	return string(role) + "\x00" + strings.ToLower(strings.TrimSpace(identifier))
}

func (s *Store) UpsertTelegramUser(_ context.Context, u tgauth.TelegramUser) (tgauth.UserRecord, error) {
	if u.TelegramID <= 0 {
		return tgauth.UserRecord{}, fmt.Errorf("memory: invalid telegram id %d", u.TelegramID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byTelegram[u.TelegramID]; ok {
		rec := s.users[id]
		rec.FirstName = u.FirstName
		rec.LastName = u.LastName
		rec.Username = u.Username
		rec.PhotoURL = u.PhotoURL
		s.users[id] = rec
		return rec, nil
	}

	rec := tgauth.UserRecord{
		ID:         uuid.NewString(),
		TelegramID: u.TelegramID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Username:   u.Username,
		PhotoURL:   u.PhotoURL,
		Role:       tgauth.RoleCustomer,
	}
	s.users[rec.ID] = rec
	s.byTelegram[u.TelegramID] = rec.ID
	return rec, nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (tgauth.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return tgauth.UserRecord{}, fmt.Errorf("memory: user %s: %w", userID, tgauth.ErrUserNotFound)
	}
	return rec, nil
}

func (s *Store) GetStaff(_ context.Context, role tgauth.Role, identifier string) (tgauth.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byStaff[staffKey(role, identifier)]
	if !ok {
		return tgauth.UserRecord{}, fmt.Errorf("memory: %s account: %w", role, tgauth.ErrUserNotFound)
	}
	return s.users[id], nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("memory: user %s: %w", userID, tgauth.ErrUserNotFound)
	}
	rec.PasswordHash = hash
	s.users[userID] = rec
	return nil
}

// CreateStaff adds a password account. Admins and suppliers are keyed by
// email, delivery agents by phone number.
func (s *Store) CreateStaff(_ context.Context, role tgauth.Role, identifier, passwordHash string) (tgauth.UserRecord, error) {
	if !role.IsStaff() {
		return tgauth.UserRecord{}, fmt.Errorf("memory: role %q has no password login", role)
	}
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return tgauth.UserRecord{}, errors.New("memory: identifier required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := staffKey(role, identifier)
	if _, ok := s.byStaff[key]; ok {
		return tgauth.UserRecord{}, ErrAlreadyExists
	}

	rec := tgauth.UserRecord{
		ID:               uuid.NewString(),
		Role:             role,
		ProfileCompleted: true,
		PasswordHash:     passwordHash,
	}
	if role == tgauth.RoleDeliveryAgent {
		rec.PhoneNumber = identifier
	} else {
		rec.Email = identifier
	}
	s.users[rec.ID] = rec
	s.byStaff[key] = rec.ID
	return rec, nil
}

// SetActive enables or disables sign-in for userID.
func (s *Store) SetActive(_ context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("memory: user %s: %w", userID, tgauth.ErrUserNotFound)
	}
	rec.Disabled = !active
	s.users[userID] = rec
	return nil
}

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

var _ tgauth.UserProvider = (*Store)(nil)
