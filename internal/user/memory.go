package user

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process store with the same contract as
// Repository, including the unique email constraint. It backs
// STORE_DRIVER=memory and the service tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[uuid.UUID]*User),
		now:   time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, nu NewUser) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == nu.Email {
			return nil, ErrDuplicateEmail
		}
	}

	now := r.now().UTC()
	u := &User{
		ID:           uuid.New(),
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		IsVerified:   nu.IsVerified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if nu.OTP != "" {
		setOTP(u, nu.OTP, nu.OTPPurpose, nu.OTPIssuedAt)
	}
	r.users[u.ID] = u

	return clone(u), nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	return r.find(func(u *User) bool { return u.Email == email })
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	return r.find(func(u *User) bool { return u.ID == id })
}

func (r *MemoryRepository) GetByRefreshTokenHash(_ context.Context, tokenHash string) (*User, error) {
	return r.find(func(u *User) bool {
		return u.RefreshTokenHash != nil && *u.RefreshTokenHash == tokenHash
	})
}

func (r *MemoryRepository) MarkVerified(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(u *User) {
		u.IsVerified = true
		clearPendingOTP(u)
	})
}

func (r *MemoryRepository) SetOTP(_ context.Context, id uuid.UUID, code string, purpose OTPPurpose, issuedAt time.Time) error {
	return r.update(id, func(u *User) {
		setOTP(u, code, purpose, issuedAt)
	})
}

func (r *MemoryRepository) SetRefreshTokenHash(_ context.Context, id uuid.UUID, tokenHash *string) error {
	return r.update(id, func(u *User) {
		if tokenHash == nil {
			u.RefreshTokenHash = nil
			return
		}
		h := *tokenHash
		u.RefreshTokenHash = &h
	})
}

func (r *MemoryRepository) VerifyWithOTP(_ context.Context, id uuid.UUID, code string) error {
	return r.consume(id, code, func(u *User) {
		u.IsVerified = true
	})
}

func (r *MemoryRepository) ResetPasswordWithOTP(_ context.Context, id uuid.UUID, code, passwordHash string) error {
	return r.consume(id, code, func(u *User) {
		u.PasswordHash = passwordHash
		u.RefreshTokenHash = nil
	})
}

func (r *MemoryRepository) DeleteUnverifiedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, u := range r.users {
		if !u.IsVerified && u.CreatedAt.Before(cutoff) {
			delete(r.users, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) find(match func(*User) bool) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			return clone(u), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) update(id uuid.UUID, mutate func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	mutate(u)
	u.UpdatedAt = r.now().UTC()
	return nil
}

// consume applies mutate and clears the code only while code is pending.
func (r *MemoryRepository) consume(id uuid.UUID, code string, mutate func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.OTP == nil || *u.OTP != code {
		return ErrOTPMismatch
	}
	mutate(u)
	clearPendingOTP(u)
	u.UpdatedAt = r.now().UTC()
	return nil
}

func setOTP(u *User, code string, purpose OTPPurpose, issuedAt time.Time) {
	u.OTP = &code
	u.OTPPurpose = &purpose
	u.OTPIssuedAt = &issuedAt
}

func clearPendingOTP(u *User) {
	u.OTP = nil
	u.OTPPurpose = nil
	u.OTPIssuedAt = nil
}

// clone returns a deep copy so callers cannot mutate stored state.
func clone(u *User) *User {
	c := *u
	if u.OTP != nil {
		v := *u.OTP
		c.OTP = &v
	}
	if u.OTPPurpose != nil {
		v := *u.OTPPurpose
		c.OTPPurpose = &v
	}
	if u.OTPIssuedAt != nil {
		v := *u.OTPIssuedAt
		c.OTPIssuedAt = &v
	}
	if u.RefreshTokenHash != nil {
		v := *u.RefreshTokenHash
		c.RefreshTokenHash = &v
	}
	return &c
}
