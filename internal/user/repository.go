package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/unlockscore/unlockscore-api/internal/database"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Repository handles user data persistence in Postgres
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user. The unique index on email turns a lost
// registration race into ErrDuplicateEmail.
func (r *Repository) Create(ctx context.Context, nu NewUser) (*User, error) {
	now := time.Now().UTC()
	dbUser := &database.User{
		ID:           uuid.New(),
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Role:         string(nu.Role),
		IsVerified:   nu.IsVerified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if nu.OTP != "" {
		otp, purpose, issuedAt := nu.OTP, string(nu.OTPPurpose), nu.OTPIssuedAt
		dbUser.OTP = &otp
		dbUser.OTPPurpose = &purpose
		dbUser.OTPIssuedAt = &issuedAt
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by email
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, "email = ?", email)
}

// GetByID retrieves a user by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByRefreshTokenHash retrieves the user whose current refresh token hashes to tokenHash
func (r *Repository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*User, error) {
	return r.getOne(ctx, "refresh_token_hash = ?", tokenHash)
}

func (r *Repository) getOne(ctx context.Context, where string, arg any) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// MarkVerified flips is_verified to true and clears any pending code
func (r *Repository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	q := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("is_verified = ?", true)
	return r.execUpdate(ctx, clearOTP(q), id, "mark user verified")
}

// SetOTP stores a new one-time code, replacing any pending one
func (r *Repository) SetOTP(ctx context.Context, id uuid.UUID, code string, purpose OTPPurpose, issuedAt time.Time) error {
	q := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("otp = ?", code).
		Set("otp_purpose = ?", string(purpose)).
		Set("otp_issued_at = ?", issuedAt)
	return r.execUpdate(ctx, q, id, "set otp")
}

// SetRefreshTokenHash replaces the stored refresh token hash. A nil hash clears it.
func (r *Repository) SetRefreshTokenHash(ctx context.Context, id uuid.UUID, tokenHash *string) error {
	q := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("refresh_token_hash = ?", tokenHash)
	return r.execUpdate(ctx, q, id, "set refresh token")
}

// VerifyWithOTP marks the user verified only if code is still the stored
// one, so concurrent requests cannot both spend it.
func (r *Repository) VerifyWithOTP(ctx context.Context, id uuid.UUID, code string) error {
	q := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("is_verified = ?", true).
		Where("otp = ?", code)
	return consumed(r.execUpdate(ctx, clearOTP(q), id, "verify user"))
}

// ResetPasswordWithOTP replaces the password hash and ends the current
// session, provided code is still the stored one.
func (r *Repository) ResetPasswordWithOTP(ctx context.Context, id uuid.UUID, code, passwordHash string) error {
	q := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("refresh_token_hash = NULL").
		Where("otp = ?", code)
	return consumed(r.execUpdate(ctx, clearOTP(q), id, "reset password"))
}

// DeleteUnverifiedBefore removes unverified accounts created before cutoff
// and returns how many were deleted.
func (r *Repository) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*database.User)(nil)).
		Where("is_verified = ?", false).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unverified users: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func clearOTP(q *bun.UpdateQuery) *bun.UpdateQuery {
	return q.
		Set("otp = NULL").
		Set("otp_purpose = NULL").
		Set("otp_issued_at = NULL")
}

func (r *Repository) execUpdate(ctx context.Context, q *bun.UpdateQuery, id uuid.UUID, op string) error {
	result, err := q.
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// consumed maps "no row matched" on a code-guarded update to ErrOTPMismatch.
func consumed(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrOTPMismatch
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// mapDBUserToModel converts database model to domain model
func mapDBUserToModel(dbu *database.User) *User {
	u := &User{
		ID:               dbu.ID,
		FirstName:        dbu.FirstName,
		LastName:         dbu.LastName,
		Email:            dbu.Email,
		PasswordHash:     dbu.PasswordHash,
		Role:             Role(dbu.Role),
		IsVerified:       dbu.IsVerified,
		OTP:              dbu.OTP,
		OTPIssuedAt:      dbu.OTPIssuedAt,
		RefreshTokenHash: dbu.RefreshTokenHash,
		CreatedAt:        dbu.CreatedAt,
		UpdatedAt:        dbu.UpdatedAt,
	}
	if dbu.OTPPurpose != nil {
		p := OTPPurpose(*dbu.OTPPurpose)
		u.OTPPurpose = &p
	}
	return u
}
