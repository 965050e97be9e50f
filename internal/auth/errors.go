package auth

import (
	"net/http"

	"github.com/unlockscore/unlockscore-api/internal/httputil"
)

// Kind classifies a failure so the HTTP layer can pick a status code
// without knowing which operation produced it.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUnauthenticated
	KindForbidden
	KindDependency
)

// HTTPStatus maps a kind to its response status. Conflicts are reported
// as 400 to match the public API contract.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Service operation. Two errors are equal under
// errors.Is when their codes match, so the package sentinels can be compared
// against wrapped copies.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// wrap returns a copy of e carrying cause.
func (e *Error) wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

var (
	ErrValidation = &Error{Kind: KindValidation, Code: httputil.CodeValidationFailed, Message: "All fields are required."}

	ErrDuplicateAccount     = &Error{Kind: KindConflict, Code: httputil.CodeEmailAlreadyExists, Message: "User with this email already exists."}
	ErrUserNotFound         = &Error{Kind: KindNotFound, Code: httputil.CodeUserNotFound, Message: "User not found."}
	ErrAlreadyVerified      = &Error{Kind: KindValidation, Code: httputil.CodeAlreadyVerified, Message: "Email already verified."}
	ErrInvalidCode          = &Error{Kind: KindValidation, Code: httputil.CodeInvalidOTP, Message: "Invalid OTP."}
	ErrCodeExpired          = &Error{Kind: KindValidation, Code: httputil.CodeOTPExpired, Message: "OTP has expired. Please request a new one."}
	ErrInvalidOrExpiredCode = &Error{Kind: KindValidation, Code: httputil.CodeInvalidResetOTP, Message: "Invalid or expired OTP."}
	ErrInvalidCredentials   = &Error{Kind: KindUnauthenticated, Code: httputil.CodeInvalidCredentials, Message: "Invalid credentials."}
	ErrNotVerified          = &Error{Kind: KindForbidden, Code: httputil.CodeEmailNotVerified, Message: "Email not verified. Please verify your email using the OTP."}

	ErrRefreshTokenRequired = &Error{Kind: KindUnauthenticated, Code: httputil.CodeRefreshTokenRequired, Message: "Refresh token not provided."}
	ErrInvalidRefreshToken  = &Error{Kind: KindForbidden, Code: httputil.CodeInvalidRefreshToken, Message: "Invalid or expired refresh token."}

	ErrNotificationFailed = &Error{Kind: KindDependency, Code: httputil.CodeNotificationFailed, Message: "Failed to send the verification email."}
	ErrStoreUnavailable   = &Error{Kind: KindDependency, Code: httputil.CodeInternalError, Message: "credential store failure"}
)

func invalidInput(message string, cause error) *Error {
	return &Error{Kind: KindValidation, Code: httputil.CodeValidationFailed, Message: message, Err: cause}
}
