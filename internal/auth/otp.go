package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strconv"
	"time"

	"github.com/unlockscore/unlockscore-api/internal/user"
)

// One-time codes are six digits, uniform over [100000, 999999].
const (
	otpMin  = 100000
	otpSpan = 900000
)

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(otpMin+n.Int64(), 10), nil
}

// otpValid compares submitted with the pending code, whichever email sent
// it. fresh is true while the code is younger than ttl.
func otpValid(u *user.User, submitted string, now time.Time, ttl time.Duration) (match, fresh bool) {
	if !u.HasPendingOTP() {
		return false, false
	}
	match = subtle.ConstantTimeCompare([]byte(*u.OTP), []byte(submitted)) == 1
	fresh = u.OTPIssuedAt != nil && now.Before(u.OTPIssuedAt.Add(ttl))
	return match, fresh
}
