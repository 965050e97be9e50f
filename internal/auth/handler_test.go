package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlockscore/unlockscore-api/internal/httputil"
	"github.com/unlockscore/unlockscore-api/internal/ratelimit"
)

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// stubLimiter exceeds every budget once tripped.
type stubLimiter struct {
	exceeded   bool
	onCooldown bool
	cooldowns  []string
}

func (s *stubLimiter) CheckIPRateLimitWithPurpose(context.Context, string, string) (bool, error) {
	return s.exceeded, nil
}

func (s *stubLimiter) RecordIPRequestWithPurpose(context.Context, string, string) error { return nil }

func (s *stubLimiter) CheckEmailCooldown(context.Context, string) (bool, error) {
	return s.onCooldown, nil
}

func (s *stubLimiter) SetEmailCooldown(_ context.Context, email string) error {
	s.cooldowns = append(s.cooldowns, email)
	return nil
}

func newTestHandler(t *testing.T, limiter RateLimiter) (*Handler, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	if limiter == nil {
		limiter = ratelimit.Nop{}
	}
	return NewHandler(env.svc, limiter, true, 7*24*time.Hour), env
}

func TestHandler_RegisterStatuses(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	body := RegisterRequest{FirstName: "Ann", LastName: "Lee", Email: "a@x.com", Password: "pw1", Role: "client"}

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", body))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, decodeBody[RegisterResponse](t, rec).UserID)

	rec = httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeEmailAlreadyExists, decodeBody[httputil.ErrorResponse](t, rec).Code)

	rec = httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]string{"email": "b@x.com"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "All fields are required.", decodeBody[httputil.ErrorResponse](t, rec).Error)

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeInvalidRequestBody, decodeBody[httputil.ErrorResponse](t, rec).Code)
}

func TestHandler_RegisterNotificationFailure(t *testing.T) {
	h, env := newTestHandler(t, nil)
	env.notifier.err = assert.AnError

	rec := httptest.NewRecorder()
	h.Register(rec, jsonRequest(t, http.MethodPost, "/api/auth/register",
		RegisterRequest{FirstName: "Ann", LastName: "Lee", Email: "a@x.com", Password: "pw1", Role: "client"}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, httputil.CodeNotificationFailed, decodeBody[httputil.ErrorResponse](t, rec).Code)
}

func TestHandler_LoginSetsRefreshCookie(t *testing.T) {
	h, env := newTestHandler(t, nil)
	env.registerVerified(t, annInput())

	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: "a@x.com", Password: "pw1"}))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotEmpty(t, decodeBody[AccessTokenResponse](t, rec).AccessToken)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, RefreshTokenCookieName, c.Name)
	assert.NotEmpty(t, c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, 7*24*60*60, c.MaxAge)
}

func TestHandler_LoginStatuses(t *testing.T) {
	h, env := newTestHandler(t, nil)
	ctx := context.Background()
	_, err := env.svc.Register(ctx, annInput())
	require.NoError(t, err)

	tests := []struct {
		name string
		body LoginRequest
		want int
	}{
		{"missing password", LoginRequest{Email: "a@x.com"}, http.StatusBadRequest},
		{"unknown user", LoginRequest{Email: "b@x.com", Password: "pw1"}, http.StatusNotFound},
		{"wrong password", LoginRequest{Email: "a@x.com", Password: "nope"}, http.StatusUnauthorized},
		{"unverified", LoginRequest{Email: "a@x.com", Password: "pw1"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", tt.body))
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestHandler_Refresh(t *testing.T) {
	h, env := newTestHandler(t, nil)
	env.registerVerified(t, annInput())

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/api/auth/refresh-token", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh-token", nil)
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookieName, Value: "forged"})
	rec = httptest.NewRecorder()
	h.Refresh(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	tokens, err := env.svc.Login(context.Background(), "a@x.com", "pw1")
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/api/auth/refresh-token", nil)
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookieName, Value: tokens.RefreshToken})
	rec = httptest.NewRecorder()
	h.Refresh(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[AccessTokenResponse](t, rec).AccessToken)

	// body fallback for clients without cookies
	rec = httptest.NewRecorder()
	h.Refresh(rec, jsonRequest(t, http.MethodPost, "/api/auth/refresh-token", RefreshRequest{RefreshToken: tokens.RefreshToken}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ForgotPasswordIsUniform(t *testing.T) {
	h, env := newTestHandler(t, nil)
	env.registerVerified(t, annInput())

	send := func(email string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ForgotPassword(rec, jsonRequest(t, http.MethodPost, "/api/auth/forgot-password", EmailRequest{Email: email}))
		return rec
	}

	known := send("a@x.com")
	unknown := send("nobody@x.com")

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())
	assert.Equal(t, forgotPasswordMessage, decodeBody[httputil.MessageResponse](t, known).Message)

	env.notifier.err = assert.AnError
	failing := send("a@x.com")
	assert.Equal(t, http.StatusOK, failing.Code)
	assert.JSONEq(t, known.Body.String(), failing.Body.String())

	missing := send("")
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestHandler_ResetPassword(t *testing.T) {
	h, env := newTestHandler(t, nil)
	env.registerVerified(t, annInput())
	require.NoError(t, env.svc.RequestPasswordReset(context.Background(), "a@x.com"))
	code := env.notifier.reset["a@x.com"]

	rec := httptest.NewRecorder()
	h.ResetPassword(rec, jsonRequest(t, http.MethodPost, "/api/auth/reset-password",
		ResetPasswordRequest{Email: "nobody@x.com", OTP: code, NewPassword: "new"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ResetPassword(rec, jsonRequest(t, http.MethodPost, "/api/auth/reset-password",
		ResetPasswordRequest{Email: "a@x.com", OTP: code}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ResetPassword(rec, jsonRequest(t, http.MethodPost, "/api/auth/reset-password",
		ResetPasswordRequest{Email: "a@x.com", OTP: code, NewPassword: "new"}))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := env.svc.Login(context.Background(), "a@x.com", "new")
	assert.NoError(t, err)
}

func TestHandler_RateLimited(t *testing.T) {
	limiter := &stubLimiter{exceeded: true}
	h, _ := newTestHandler(t, limiter)

	handlers := map[string]http.HandlerFunc{
		"register":        h.Register,
		"verify-otp":      h.VerifyOTP,
		"login":           h.Login,
		"refresh-token":   h.Refresh,
		"forgot-password": h.ForgotPassword,
		"reset-password":  h.ResetPassword,
		"resend-otp":      h.ResendOTP,
	}
	for name, fn := range handlers {
		rec := httptest.NewRecorder()
		fn(rec, jsonRequest(t, http.MethodPost, "/api/auth/"+name, map[string]string{}))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, name)
		assert.Equal(t, httputil.CodeTooManyRequests, decodeBody[httputil.ErrorResponse](t, rec).Code, name)
	}
}

func TestHandler_EmailCooldown(t *testing.T) {
	limiter := &stubLimiter{}
	h, env := newTestHandler(t, limiter)
	env.registerVerified(t, annInput())

	rec := httptest.NewRecorder()
	h.ForgotPassword(rec, jsonRequest(t, http.MethodPost, "/api/auth/forgot-password", EmailRequest{Email: " A@x.com"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a@x.com"}, limiter.cooldowns)

	limiter.onCooldown = true
	rec = httptest.NewRecorder()
	h.ResendOTP(rec, jsonRequest(t, http.MethodPost, "/api/auth/resend-otp", EmailRequest{Email: "a@x.com"}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, httputil.CodeCooldownActive, decodeBody[httputil.ErrorResponse](t, rec).Code)
}

func TestHandler_Logout(t *testing.T) {
	h, env := newTestHandler(t, nil)
	env.registerVerified(t, annInput())
	tokens, err := env.svc.Login(context.Background(), "a@x.com", "pw1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookieName, Value: tokens.RefreshToken})
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)

	_, err = env.svc.RefreshAccessToken(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}
