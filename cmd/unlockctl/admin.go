package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unlockscore/unlockscore-api/internal/user"
)

// adminStore is the slice of the user store the admin commands need.
type adminStore interface {
	Create(ctx context.Context, nu user.NewUser) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type passwordHasher interface {
	Hash(password string) (string, error)
}

var errAlreadyVerified = errors.New("account is already verified")

// verifyUser marks the account verified and clears any pending code.
func verifyUser(ctx context.Context, store adminStore, email string) (*user.User, error) {
	u, err := store.GetByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", email, err)
	}
	if u.IsVerified {
		return u, errAlreadyVerified
	}
	if err := store.MarkVerified(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}
	u.IsVerified = true
	return u, nil
}

// purgeUnverified deletes unverified accounts created more than olderThan ago.
func purgeUnverified(ctx context.Context, store adminStore, olderThan time.Duration, now time.Time) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("--older-than must be positive, got %s", olderThan)
	}
	n, err := store.DeleteUnverifiedBefore(ctx, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete unverified users: %w", err)
	}
	return n, nil
}

type accountInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      string
}

// createVerifiedUser creates an account that can log in immediately.
func createVerifiedUser(ctx context.Context, store adminStore, hasher passwordHasher, in accountInput) (*user.User, error) {
	role := user.Role(strings.TrimSpace(in.Role))
	if !role.Valid() {
		return nil, fmt.Errorf("role must be one of: client, affiliate")
	}
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" || in.Password == "" {
		return nil, errors.New("first name, last name and password are required")
	}

	hash, err := hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := store.Create(ctx, user.NewUser{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        user.NormalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         role,
		IsVerified:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// secretLength matches the 32-byte key a v4.local token needs, so the same
// values work for both token formats.
const secretLength = 32

// generateSecret returns a random URL-safe string of secretLength characters.
func generateSecret() (string, error) {
	buf := make([]byte, secretLength*3/4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
