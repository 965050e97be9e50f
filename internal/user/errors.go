package user

import "errors"

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrOTPMismatch is returned by the code-consuming updates when the
	// stored code is no longer the one submitted.
	ErrOTPMismatch = errors.New("otp no longer pending")
)
