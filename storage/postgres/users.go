package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medmarket/tgauth"
)

// ErrAlreadyExists is returned when a staff account collides with an existing one.
var ErrAlreadyExists = errors.New("already exists")

const userColumns = `
	id, role, telegram_id, first_name, last_name, username, photo_url,
	email, phone_number, password_hash, profile_completed, city_id, is_active`

// StaffAccount describes a password account to create.
type StaffAccount struct {
	Role         tgauth.Role
	Email        string
	PhoneNumber  string
	FirstName    string
	LastName     string
	PasswordHash string
}

// UpsertTelegramUser inserts a customer for an unknown Telegram id, or refreshes
// the Telegram-owned fields of the existing user. Role and profile state of an
// existing user are left untouched.
func (s *Storage) UpsertTelegramUser(ctx context.Context, u tgauth.TelegramUser) (tgauth.UserRecord, error) {
	const op = "storage.postgres.UpsertTelegramUser"

	query := `
		INSERT INTO users (id, role, telegram_id, first_name, last_name, username, photo_url)
		VALUES ($1, 'customer', $2, $3, $4, $5, $6)
		ON CONFLICT (telegram_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			username   = EXCLUDED.username,
			photo_url  = EXCLUDED.photo_url,
			updated_at = NOW()
		RETURNING` + userColumns

	rec, err := scanUser(s.db.QueryRow(ctx, query,
		uuid.New(),
		u.TelegramID,
		u.FirstName,
		u.LastName,
		u.Username,
		u.PhotoURL,
	))
	if err != nil {
		return tgauth.UserRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

// GetUserByID finds a user of any role.
func (s *Storage) GetUserByID(ctx context.Context, userID string) (tgauth.UserRecord, error) {
	const op = "storage.postgres.GetUserByID"

	id, err := uuid.Parse(userID)
	if err != nil {
		return tgauth.UserRecord{}, fmt.Errorf("%s: %w", op, tgauth.ErrUserNotFound)
	}

	rec, err := scanUser(s.db.QueryRow(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tgauth.UserRecord{}, fmt.Errorf("%s: %w", op, tgauth.ErrUserNotFound)
		}
		return tgauth.UserRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

// GetStaff finds a password account by email (admin, supplier) or phone
// number (delivery agent). Emails compare case-insensitively.
func (s *Storage) GetStaff(ctx context.Context, role tgauth.Role, identifier string) (tgauth.UserRecord, error) {
	const op = "storage.postgres.GetStaff"

	column := "email"
	if role == tgauth.RoleDeliveryAgent {
		column = "phone_number"
	}
	query := `SELECT` + userColumns + ` FROM users WHERE role = $1 AND ` + column + ` = $2`

	rec, err := scanUser(s.db.QueryRow(ctx, query, string(role), identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tgauth.UserRecord{}, fmt.Errorf("%s: %w", op, tgauth.ErrUserNotFound)
		}
		return tgauth.UserRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

// UpdatePasswordHash replaces the stored hash of userID.
func (s *Storage) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	const op = "storage.postgres.UpdatePasswordHash"

	id, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, tgauth.ErrUserNotFound)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		id, hash,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, tgauth.ErrUserNotFound)
	}

	return nil
}

// CreateStaff inserts a password account and returns it.
func (s *Storage) CreateStaff(ctx context.Context, a StaffAccount) (tgauth.UserRecord, error) {
	const op = "storage.postgres.CreateStaff"

	if !a.Role.IsStaff() {
		return tgauth.UserRecord{}, fmt.Errorf("%s: role %q has no password login", op, a.Role)
	}

	var email, phone *string
	if a.Role == tgauth.RoleDeliveryAgent {
		if a.PhoneNumber == "" {
			return tgauth.UserRecord{}, fmt.Errorf("%s: phone number required", op)
		}
		phone = &a.PhoneNumber
	} else {
		if a.Email == "" {
			return tgauth.UserRecord{}, fmt.Errorf("%s: email required", op)
		}
		e := strings.ToLower(strings.TrimSpace(a.Email))
		email = &e
	}

	query := `
		INSERT INTO users (id, role, first_name, last_name, email, phone_number, password_hash, profile_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING` + userColumns

	rec, err := scanUser(s.db.QueryRow(ctx, query,
		uuid.New(),
		string(a.Role),
		a.FirstName,
		a.LastName,
		email,
		phone,
		a.PasswordHash,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return tgauth.UserRecord{}, fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		}
		return tgauth.UserRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

// SetActive enables or disables sign-in for userID.
func (s *Storage) SetActive(ctx context.Context, userID string, active bool) error {
	const op = "storage.postgres.SetActive"

	id, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, tgauth.ErrUserNotFound)
	}

	tag, err := s.db.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, tgauth.ErrUserNotFound)
	}

	return nil
}

func scanUser(row pgx.Row) (tgauth.UserRecord, error) {
	var (
		rec          tgauth.UserRecord
		id           uuid.UUID
		role         string
		telegramID   *int64
		email, phone *string
		passwordHash *string
		active       bool
	)
	err := row.Scan(
		&id,
		&role,
		&telegramID,
		&rec.FirstName,
		&rec.LastName,
		&rec.Username,
		&rec.PhotoURL,
		&email,
		&phone,
		&passwordHash,
		&rec.ProfileCompleted,
		&rec.CityID,
		&active,
	)
	if err != nil {
		return tgauth.UserRecord{}, err
	}

	rec.ID = id.String()
	rec.Role = tgauth.Role(role)
	rec.Disabled = !active
	if telegramID != nil {
		rec.TelegramID = *telegramID
	}
	if email != nil {
		rec.Email = *email
	}
	if phone != nil {
		rec.PhoneNumber = *phone
	}
	if passwordHash != nil {
		rec.PasswordHash = *passwordHash
	}

	return rec, nil
}
