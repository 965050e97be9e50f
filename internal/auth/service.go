package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/unlockscore/unlockscore-api/internal/logging"
	"github.com/unlockscore/unlockscore-api/internal/user"
)

// UserStore is the credential store the service depends on.
// Implemented by user.Repository and user.MemoryRepository.
type UserStore interface {
	Create(ctx context.Context, nu user.NewUser) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*user.User, error)
	VerifyWithOTP(ctx context.Context, id uuid.UUID, code string) error
	SetOTP(ctx context.Context, id uuid.UUID, code string, purpose user.OTPPurpose, issuedAt time.Time) error
	SetRefreshTokenHash(ctx context.Context, id uuid.UUID, tokenHash *string) error
	ResetPasswordWithOTP(ctx context.Context, id uuid.UUID, code, passwordHash string) error
}

// Notifier delivers one-time codes to users.
type Notifier interface {
	SendVerificationCode(ctx context.Context, toEmail, code string) error
	SendPasswordResetCode(ctx context.Context, toEmail, code string) error
}

// AuthTokens is the result of a login or refresh. RefreshToken travels in
// a cookie, never in the response body.
type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"-"`
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	FirstName string    `validate:"required"`
	LastName  string    `validate:"required"`
	Email     string    `validate:"required,email"`
	Password  string    `validate:"required"`
	Role      user.Role `validate:"required,oneof=client affiliate"`
}

// Service handles authentication business logic
type Service struct {
	users    UserStore
	tokens   *TokenIssuer
	hasher   *PasswordHasher
	notifier Notifier
	validate *validator.Validate
	logger   *logging.Logger
	otpTTL   time.Duration
	now      func() time.Time
}

func NewService(
	users UserStore,
	tokens *TokenIssuer,
	hasher *PasswordHasher,
	notifier Notifier,
	logger *logging.Logger,
	otpTTL time.Duration,
) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		otpTTL:   otpTTL,
		now:      time.Now,
	}
}

// Register creates an unverified account and emails it a verification code.
// If the email cannot be sent the record is kept and ErrNotificationFailed
// is returned; ResendVerificationCode recovers from that state.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = user.NormalizeEmail(in.Email)

	if err := s.validate.Struct(in); err != nil {
		return nil, invalidInput(validationMessage(err, "All fields are required."), err)
	}

	_, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, ErrDuplicateAccount
	case !errors.Is(err, user.ErrNotFound):
		return nil, ErrStoreUnavailable.wrap(err)
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	code, err := generateOTP()
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp: %w", err)
	}

	created, err := s.users.Create(ctx, user.NewUser{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: passwordHash,
		Role:         in.Role,
		OTP:          code,
		OTPPurpose:   user.OTPPurposeEmailVerification,
		OTPIssuedAt:  s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, ErrDuplicateAccount
		}
		return nil, ErrStoreUnavailable.wrap(err)
	}

	if err := s.notifier.SendVerificationCode(ctx, created.Email, code); err != nil {
		s.logger.Error("failed to send verification code", "user_id", created.ID, "error", err.Error())
		return nil, ErrNotificationFailed.wrap(err)
	}

	return created, nil
}

// VerifyOTP marks the account verified when otp matches its pending
// verification code.
func (s *Service) VerifyOTP(ctx context.Context, email, otp string) error {
	email = user.NormalizeEmail(email)
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" {
		return invalidInput("Email and OTP are required.", nil)
	}

	u, err := s.getByEmail(ctx, email)
	if err != nil {
		return err
	}

	if u.IsVerified {
		return ErrAlreadyVerified
	}

	match, fresh := otpValid(u, otp, s.now(), s.otpTTL)
	if !match {
		return ErrInvalidCode
	}
	if !fresh {
		return ErrCodeExpired
	}

	if err := s.users.VerifyWithOTP(ctx, u.ID, otp); err != nil {
		if errors.Is(err, user.ErrOTPMismatch) {
			return ErrInvalidCode
		}
		return ErrStoreUnavailable.wrap(err)
	}
	return nil
}

// Login authenticates a user and returns tokens. The new refresh token
// replaces any previous one, so only the latest login can refresh.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthTokens, error) {
	email = user.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalidInput("Email and password are required.", nil)
	}

	u, err := s.getByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	if !u.IsVerified {
		return nil, ErrNotVerified
	}

	accessToken, err := s.tokens.IssueAccess(u)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := s.tokens.IssueRefresh(u)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	tokenHash := hashToken(refreshToken)
	if err := s.users.SetRefreshTokenHash(ctx, u.ID, &tokenHash); err != nil {
		return nil, ErrStoreUnavailable.wrap(err)
	}

	return &AuthTokens{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// RefreshAccessToken issues a new access token for the holder of the
// current refresh token. The refresh token itself is not rotated.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrRefreshTokenRequired
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken.wrap(err)
	}

	u, err := s.users.GetByRefreshTokenHash(ctx, hashToken(refreshToken))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, ErrStoreUnavailable.wrap(err)
	}

	if u.ID != claims.UserID {
		return nil, ErrInvalidRefreshToken
	}

	accessToken, err := s.tokens.IssueAccess(u)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	return &AuthTokens{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// RequestPasswordReset emails a reset code when the account exists.
// Apart from input validation it always returns nil so callers cannot
// tell registered emails from unknown ones.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = user.NormalizeEmail(email)
	if email == "" {
		return invalidInput("Email is required.", nil)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to get user for password reset", "error", err.Error())
		}
		return nil
	}

	s.issueCode(ctx, u, user.OTPPurposePasswordReset)
	return nil
}

// ResetPassword replaces the password when otp matches the pending reset
// code. It also ends the current session.
func (s *Service) ResetPassword(ctx context.Context, email, otp, newPassword string) error {
	email = user.NormalizeEmail(email)
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" || newPassword == "" {
		return invalidInput("Email, OTP, and new password are required.", nil)
	}

	u, err := s.getByEmail(ctx, email)
	if err != nil {
		return err
	}

	match, fresh := otpValid(u, otp, s.now(), s.otpTTL)
	if !match || !fresh {
		return ErrInvalidOrExpiredCode
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.ResetPasswordWithOTP(ctx, u.ID, otp, passwordHash); err != nil {
		if errors.Is(err, user.ErrOTPMismatch) {
			return ErrInvalidOrExpiredCode
		}
		return ErrStoreUnavailable.wrap(err)
	}
	return nil
}

// ResendVerificationCode sends a fresh verification code to an unverified
// account. Like RequestPasswordReset it does not reveal whether the email
// is registered.
func (s *Service) ResendVerificationCode(ctx context.Context, email string) error {
	email = user.NormalizeEmail(email)
	if email == "" {
		return invalidInput("Email is required.", nil)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to get user for resend verification", "error", err.Error())
		}
		return nil
	}

	if u.IsVerified {
		return nil
	}

	s.issueCode(ctx, u, user.OTPPurposeEmailVerification)
	return nil
}

// Logout forgets the stored refresh token if refreshToken is the current one.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	u, err := s.users.GetByRefreshTokenHash(ctx, hashToken(refreshToken))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return ErrStoreUnavailable.wrap(err)
	}

	if err := s.users.SetRefreshTokenHash(ctx, u.ID, nil); err != nil {
		return ErrStoreUnavailable.wrap(err)
	}
	return nil
}

// Profile returns the account behind an authenticated request.
func (s *Service) Profile(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, ErrStoreUnavailable.wrap(err)
	}
	return u, nil
}

func (s *Service) getByEmail(ctx context.Context, email string) (*user.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, ErrStoreUnavailable.wrap(err)
	}
	return u, nil
}

// issueCode stores a new code for purpose and emails it. Failures are
// logged only.
func (s *Service) issueCode(ctx context.Context, u *user.User, purpose user.OTPPurpose) {
	logger := s.logger.WithFields(map[string]any{"user_id": u.ID, "purpose": string(purpose)})

	code, err := generateOTP()
	if err != nil {
		logger.Warn("failed to generate otp", "error", err.Error())
		return
	}

	if err := s.users.SetOTP(ctx, u.ID, code, purpose, s.now().UTC()); err != nil {
		logger.Warn("failed to store otp", "error", err.Error())
		return
	}

	send := s.notifier.SendVerificationCode
	if purpose == user.OTPPurposePasswordReset {
		send = s.notifier.SendPasswordResetCode
	}
	if err := send(ctx, u.Email, code); err != nil {
		logger.Warn("failed to send otp", "error", err.Error())
	}
}

// validationMessage turns validator errors into a client-facing message.
// Missing fields collapse into the operation's generic message.
func validationMessage(err error, required string) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return required
	}
	for _, fe := range ve {
		if fe.Tag() == "required" {
			return required
		}
	}

	fe := ve[0]
	switch fe.Tag() {
	case "email":
		return "Email address is invalid."
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return required
	}
}
