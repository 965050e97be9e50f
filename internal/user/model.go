package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the kind of account. It is set at registration and never changed
// by the authentication flow.
type Role string

const (
	RoleClient    Role = "client"
	RoleAffiliate Role = "affiliate"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleAffiliate
}

// NormalizeEmail is the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OTPPurpose records which flow a one-time code was issued for.
type OTPPurpose string

const (
	OTPPurposeEmailVerification OTPPurpose = "email_verification"
	OTPPurposePasswordReset     OTPPurpose = "password_reset"
)

type User struct {
	ID               uuid.UUID   `json:"id"`
	FirstName        string      `json:"first_name"`
	LastName         string      `json:"last_name"`
	Email            string      `json:"email"`
	PasswordHash     string      `json:"-"` // Never expose password hash in JSON
	Role             Role        `json:"role"`
	IsVerified       bool        `json:"is_verified"`
	OTP              *string     `json:"-"`
	OTPPurpose       *OTPPurpose `json:"-"`
	OTPIssuedAt      *time.Time  `json:"-"`
	RefreshTokenHash *string     `json:"-"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewUser carries the fields needed to insert a record.
type NewUser struct {
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	Role         Role
	IsVerified   bool
	OTP          string // empty means no pending code
	OTPPurpose   OTPPurpose
	OTPIssuedAt  time.Time
}

// HasPendingOTP reports whether a code is outstanding. OTPPurpose only
// records which email carried it; any pending code is accepted by both the
// verification and the reset flow.
func (u *User) HasPendingOTP() bool {
	return u.OTP != nil
}
