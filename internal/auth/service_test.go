package auth

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlockscore/unlockscore-api/internal/logging"
	"github.com/unlockscore/unlockscore-api/internal/user"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureNotifier struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
	sent         int
	err          error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{verification: map[string]string{}, reset: map[string]string{}}
}

func (n *captureNotifier) SendVerificationCode(_ context.Context, toEmail, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	if n.err != nil {
		return n.err
	}
	n.verification[toEmail] = code
	return nil
}

func (n *captureNotifier) SendPasswordResetCode(_ context.Context, toEmail, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	if n.err != nil {
		return n.err
	}
	n.reset[toEmail] = code
	return nil
}

type testEnv struct {
	svc      *Service
	store    *user.MemoryRepository
	notifier *captureNotifier
	clock    *testClock
	issuer   *TokenIssuer
}

func newTestIssuer(t *testing.T, clock *testClock) *TokenIssuer {
	t.Helper()
	access, err := NewJWTService([]byte("access-secret-for-tests"))
	require.NoError(t, err)
	refresh, err := NewJWTService([]byte("refresh-secret-for-tests"))
	require.NoError(t, err)
	access.now = clock.Now
	refresh.now = clock.Now
	return NewTokenIssuer(access, refresh, 15*time.Minute, 7*24*time.Hour)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	store := user.NewMemoryRepository()
	notifier := newCaptureNotifier()
	issuer := newTestIssuer(t, clock)

	svc := NewService(store, issuer, NewPasswordHasherWithParams(1, 64, 1), notifier, logging.NewNopLogger(), 10*time.Minute)
	svc.now = clock.Now

	return &testEnv{svc: svc, store: store, notifier: notifier, clock: clock, issuer: issuer}
}

func annInput() RegisterInput {
	return RegisterInput{FirstName: "Ann", LastName: "Lee", Email: "a@x.com", Password: "pw1", Role: user.RoleClient}
}

// registerVerified creates a verified account and returns it.
func (e *testEnv) registerVerified(t *testing.T, in RegisterInput) *user.User {
	t.Helper()
	ctx := context.Background()
	u, err := e.svc.Register(ctx, in)
	require.NoError(t, err)
	require.NoError(t, e.svc.VerifyOTP(ctx, in.Email, e.notifier.verification[u.Email]))
	return u
}

func TestService_Register(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	in := annInput()
	in.Email = "  A@X.com "
	u, err := env.svc.Register(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", u.Email)
	assert.False(t, u.IsVerified)
	assert.Equal(t, user.RoleClient, u.Role)
	assert.NotEqual(t, "pw1", u.PasswordHash)

	code := env.notifier.verification["a@x.com"]
	assert.Regexp(t, regexp.MustCompile(`^[1-9][0-9]{5}$`), code)

	stored, err := env.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, stored.HasPendingOTP())
	assert.Equal(t, user.OTPPurposeEmailVerification, *stored.OTPPurpose)
	assert.Equal(t, code, *stored.OTP)
}

func TestService_RegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, annInput())
	require.NoError(t, err)

	in := annInput()
	in.Email = "A@x.com"
	_, err = env.svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrDuplicateAccount)

	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusBadRequest, authErr.Kind.HTTPStatus())
}

func TestService_RegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RegisterInput)
		message string
	}{
		{"missing first name", func(in *RegisterInput) { in.FirstName = "  " }, "All fields are required."},
		{"missing last name", func(in *RegisterInput) { in.LastName = "" }, "All fields are required."},
		{"missing email", func(in *RegisterInput) { in.Email = "" }, "All fields are required."},
		{"missing password", func(in *RegisterInput) { in.Password = "" }, "All fields are required."},
		{"missing role", func(in *RegisterInput) { in.Role = "" }, "All fields are required."},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, "Email address is invalid."},
		{"unknown role", func(in *RegisterInput) { in.Role = "admin" }, "Role must be one of: client, affiliate."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			in := annInput()
			tt.mutate(&in)

			_, err := env.svc.Register(context.Background(), in)
			require.ErrorIs(t, err, ErrValidation)

			var authErr *Error
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, tt.message, authErr.Message)
			assert.Equal(t, 0, env.notifier.sent)
		})
	}
}

func TestService_RegisterNotificationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("smtp down")
	ctx := context.Background()

	_, err := env.svc.Register(ctx, annInput())
	require.ErrorIs(t, err, ErrNotificationFailed)

	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusInternalServerError, authErr.Kind.HTTPStatus())

	// the record stays behind, unverified, and can be recovered by a resend
	stored, err := env.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)

	env.notifier.err = nil
	require.NoError(t, env.svc.ResendVerificationCode(ctx, "a@x.com"))
	code := env.notifier.verification["a@x.com"]
	require.NotEmpty(t, code)
	require.NoError(t, env.svc.VerifyOTP(ctx, "a@x.com", code))
}

func TestService_VerifyOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, annInput())
	require.NoError(t, err)
	code := env.notifier.verification["a@x.com"]

	assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "", code), ErrValidation)
	assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "nobody@x.com", code), ErrUserNotFound)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "a@x.com", wrong), ErrInvalidCode)

	stored, err := env.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
	assert.Equal(t, code, *stored.OTP)

	require.NoError(t, env.svc.VerifyOTP(ctx, "A@X.COM", code))

	stored, err = env.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.OTP)

	assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "a@x.com", code), ErrAlreadyVerified)
}

func TestService_VerifyOTPExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, annInput())
	require.NoError(t, err)
	code := env.notifier.verification["a@x.com"]

	env.clock.Advance(10 * time.Minute)
	assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "a@x.com", code), ErrCodeExpired)

	require.NoError(t, env.svc.ResendVerificationCode(ctx, "a@x.com"))
	fresh := env.notifier.verification["a@x.com"]
	require.NoError(t, env.svc.VerifyOTP(ctx, "a@x.com", fresh))
}

func TestService_VerifyOTPAcceptsResetCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, annInput())
	require.NoError(t, err)
	registrationCode := env.notifier.verification["a@x.com"]

	// an unverified user asking for a reset replaces the pending code
	require.NoError(t, env.svc.RequestPasswordReset(ctx, "a@x.com"))
	resetCode := env.notifier.reset["a@x.com"]
	require.NotEmpty(t, resetCode)

	if registrationCode != resetCode {
		assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "a@x.com", registrationCode), ErrInvalidCode)
	}
	require.NoError(t, env.svc.VerifyOTP(ctx, "a@x.com", resetCode))

	stored, err := env.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
}

func TestService_ResetPasswordAcceptsRegistrationCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, annInput())
	require.NoError(t, err)
	code := env.notifier.verification["a@x.com"]

	require.NoError(t, env.svc.ResetPassword(ctx, "a@x.com", code, "pw2"))

	stored, err := env.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, stored.HasPendingOTP())
	assert.False(t, stored.IsVerified)
}

// staleStore serves the first read of each email forever, so two requests
// can both see a code that one of them has already spent.
type staleStore struct {
	*user.MemoryRepository
	seen map[string]*user.User
}

func (s *staleStore) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	if u, ok := s.seen[email]; ok {
		c := *u
		return &c, nil
	}
	u, err := s.MemoryRepository.GetByEmail(ctx, email)
	if err == nil {
		s.seen[email] = u
	}
	return u, err
}

func TestService_CodeIsSpentOnceUnderStaleReads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, annInput())
	require.NoError(t, err)
	code := env.notifier.verification["a@x.com"]

	stale := &staleStore{MemoryRepository: env.store, seen: map[string]*user.User{}}
	svc := NewService(stale, env.issuer, NewPasswordHasherWithParams(1, 64, 1), env.notifier, logging.NewNopLogger(), 10*time.Minute)
	svc.now = env.clock.Now

	require.NoError(t, svc.ResetPassword(ctx, "a@x.com", code, "first"))
	assert.ErrorIs(t, svc.ResetPassword(ctx, "a@x.com", code, "second"), ErrInvalidOrExpiredCode)
	assert.ErrorIs(t, svc.VerifyOTP(ctx, "a@x.com", code), ErrInvalidCode)

	stored, err := env.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, NewPasswordHasherWithParams(1, 64, 1).Verify(stored.PasswordHash, "first"))
}

func TestService_Login(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Login(ctx, "a@x.com", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.Login(ctx, "a@x.com", "pw1")
	assert.ErrorIs(t, err, ErrUserNotFound)

	registered, err := env.svc.Register(ctx, annInput())
	require.NoError(t, err)

	_, err = env.svc.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.svc.Login(ctx, "a@x.com", "pw1")
	assert.ErrorIs(t, err, ErrNotVerified)

	require.NoError(t, env.svc.VerifyOTP(ctx, "a@x.com", env.notifier.verification["a@x.com"]))

	tokens, err := env.svc.Login(ctx, " A@x.com", "pw1")
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)

	claims, err := env.issuer.VerifyAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims.UserID)
	assert.Equal(t, user.RoleClient, claims.Role)

	stored, err := env.store.GetByID(ctx, registered.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshTokenHash)
	assert.Equal(t, hashToken(tokens.RefreshToken), *stored.RefreshTokenHash)
}

func TestService_AccessTokenLifetime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := annInput()
	in.Role = user.RoleAffiliate
	u := env.registerVerified(t, in)

	tokens, err := env.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	env.clock.Advance(15*time.Minute - time.Second)
	claims, err := env.issuer.VerifyAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, user.RoleAffiliate, claims.Role)

	env.clock.Advance(time.Minute + time.Second)
	_, err = env.issuer.VerifyAccess(tokens.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestService_RefreshAccessToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.registerVerified(t, annInput())

	_, err := env.svc.RefreshAccessToken(ctx, "")
	assert.ErrorIs(t, err, ErrRefreshTokenRequired)

	tokens, err := env.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	refreshed, err := env.svc.RefreshAccessToken(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.RefreshToken, refreshed.RefreshToken)

	claims, err := env.issuer.VerifyAccess(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)

	// an access token is signed with the other secret
	_, err = env.svc.RefreshAccessToken(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.svc.RefreshAccessToken(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestService_RefreshAfterSecondLoginFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, annInput())

	first, err := env.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	second, err := env.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = env.svc.RefreshAccessToken(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.svc.RefreshAccessToken(ctx, second.RefreshToken)
	assert.NoError(t, err)
}

func TestService_RefreshTokenExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, annInput())

	tokens, err := env.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	env.clock.Advance(7 * 24 * time.Hour)
	_, err = env.svc.RefreshAccessToken(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusForbidden, authErr.Kind.HTTPStatus())
}

func TestService_RequestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.registerVerified(t, annInput())

	assert.ErrorIs(t, env.svc.RequestPasswordReset(ctx, " "), ErrValidation)
	assert.NoError(t, env.svc.RequestPasswordReset(ctx, "nobody@x.com"))
	assert.Empty(t, env.notifier.reset)

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "a@x.com"))
	code := env.notifier.reset["a@x.com"]
	require.NotEmpty(t, code)

	stored, err := env.store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, stored.HasPendingOTP())
	assert.Equal(t, user.OTPPurposePasswordReset, *stored.OTPPurpose)

	env.notifier.err = errors.New("smtp down")
	assert.NoError(t, env.svc.RequestPasswordReset(ctx, "a@x.com"))
}

func TestService_ResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, annInput())

	session, err := env.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	assert.ErrorIs(t, env.svc.ResetPassword(ctx, "a@x.com", "", "new"), ErrValidation)
	assert.ErrorIs(t, env.svc.ResetPassword(ctx, "nobody@x.com", "123456", "new"), ErrUserNotFound)
	// no code was requested yet
	assert.ErrorIs(t, env.svc.ResetPassword(ctx, "a@x.com", "123456", "new"), ErrInvalidOrExpiredCode)

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "a@x.com"))
	code := env.notifier.reset["a@x.com"]

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, env.svc.ResetPassword(ctx, "a@x.com", wrong, "new"), ErrInvalidOrExpiredCode)

	require.NoError(t, env.svc.ResetPassword(ctx, "a@x.com", code, "new-pw"))

	_, err = env.svc.Login(ctx, "a@x.com", "pw1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// the reset ended the previous session
	_, err = env.svc.RefreshAccessToken(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.svc.Login(ctx, "a@x.com", "new-pw")
	assert.NoError(t, err)

	// the code is single use
	assert.ErrorIs(t, env.svc.ResetPassword(ctx, "a@x.com", code, "other"), ErrInvalidOrExpiredCode)
}

func TestService_ResetPasswordExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, annInput())

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "a@x.com"))
	code := env.notifier.reset["a@x.com"]

	env.clock.Advance(11 * time.Minute)
	assert.ErrorIs(t, env.svc.ResetPassword(ctx, "a@x.com", code, "new"), ErrInvalidOrExpiredCode)
}

func TestService_ResendVerificationCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.NoError(t, env.svc.ResendVerificationCode(ctx, "nobody@x.com"))
	assert.Equal(t, 0, env.notifier.sent)

	env.registerVerified(t, annInput())
	sent := env.notifier.sent

	assert.NoError(t, env.svc.ResendVerificationCode(ctx, "a@x.com"))
	assert.Equal(t, sent, env.notifier.sent)
}

func TestService_Logout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, annInput())

	assert.NoError(t, env.svc.Logout(ctx, ""))
	assert.NoError(t, env.svc.Logout(ctx, "unknown"))

	tokens, err := env.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, tokens.RefreshToken))

	_, err = env.svc.RefreshAccessToken(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestService_Profile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.registerVerified(t, annInput())

	got, err := env.svc.Profile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.FirstName)

	_, err = env.svc.Profile(ctx, [16]byte{9})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindConflict, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindDependency, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.HTTPStatus())
	}
}

func TestError_IsMatchesWrappedCopies(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := ErrStoreUnavailable.wrap(cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrUserNotFound)
	assert.Contains(t, err.Error(), "dial tcp: refused")
}
