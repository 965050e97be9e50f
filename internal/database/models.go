package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the row shape of the users table.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID               uuid.UUID  `bun:"id,pk,type:uuid"`
	FirstName        string     `bun:"first_name,notnull"`
	LastName         string     `bun:"last_name,notnull"`
	Email            string     `bun:"email,notnull,unique"`
	PasswordHash     string     `bun:"password_hash,notnull"`
	Role             string     `bun:"role,notnull"`
	IsVerified       bool       `bun:"is_verified,notnull,default:false"`
	OTP              *string    `bun:"otp"`
	OTPPurpose       *string    `bun:"otp_purpose"`
	OTPIssuedAt      *time.Time `bun:"otp_issued_at"`
	RefreshTokenHash *string    `bun:"refresh_token_hash"`
	CreatedAt        time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}
