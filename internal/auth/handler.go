package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unlockscore/unlockscore-api/internal/httputil"
	"github.com/unlockscore/unlockscore-api/internal/logging"
	"github.com/unlockscore/unlockscore-api/internal/ratelimit"
	"github.com/unlockscore/unlockscore-api/internal/user"
)

const maxBodyBytes = 1 << 20

const (
	forgotPasswordMessage = "If a user with this email exists, a password reset OTP has been sent."
	resendOTPMessage      = "If this email is registered and not yet verified, a new OTP has been sent."
)

// RateLimiter is satisfied by ratelimit.Limiter and ratelimit.Nop.
type RateLimiter interface {
	CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error
	CheckEmailCooldown(ctx context.Context, email string) (bool, error)
	SetEmailCooldown(ctx context.Context, email string) error
}

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service       *Service
	rateLimiter   RateLimiter
	secureCookies bool
	refreshTTL    time.Duration
}

func NewHandler(service *Service, rateLimiter RateLimiter, secureCookies bool, refreshTTL time.Duration) *Handler {
	return &Handler{
		service:       service,
		rateLimiter:   rateLimiter,
		secureCookies: secureCookies,
		refreshTTL:    refreshTTL,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role" enums:"client,affiliate"`
}

// RegisterResponse represents the registration response
type RegisterResponse struct {
	Message string    `json:"message"`
	UserID  uuid.UUID `json:"userId"`
}

// VerifyOTPRequest represents the email verification request
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is accepted by clients that cannot send the cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AccessTokenResponse is returned by login and refresh
type AccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// EmailRequest is the body of forgot-password and resend-otp
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest represents the password reset confirmation
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// ProfileResponse represents the authenticated user
type ProfileResponse struct {
	ID         uuid.UUID `json:"id"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Email      string    `json:"email"`
	Role       user.Role `json:"role"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AffiliateSummaryResponse is returned to affiliate accounts
type AffiliateSummaryResponse struct {
	UserID uuid.UUID `json:"userId"`
	Role   user.Role `json:"role"`
}

// Register handles user registration
// @Summary      Register a new user
// @Description  Create an unverified account and email a six-digit verification code.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration details"
// @Success      201 {object} RegisterResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing fields or email already registered"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal error or email dispatch failure"
// @Router       /api/auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allowIP(w, r, logger, ratelimit.PurposeRegister) {
		return
	}

	var req RegisterRequest
	if !decodeJSON(w, r, logger, &req) {
		return
	}

	logger = logger.WithFields(map[string]any{"email": user.NormalizeEmail(req.Email)})

	created, err := h.service.Register(r.Context(), RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      user.Role(strings.TrimSpace(req.Role)),
	})
	if err != nil {
		writeServiceError(w, logger, err, "An error occurred during registration.")
		return
	}

	logger.Info("user registered successfully", "user_id", created.ID)

	httputil.RespondJSON(w, RegisterResponse{
		Message: "User registered successfully. Please verify your email with the OTP.",
		UserID:  created.ID,
	}, http.StatusCreated)
}

// VerifyOTP handles email verification
// @Summary      Verify email address
// @Description  Verify a user's email address with the code sent at registration
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body VerifyOTPRequest true "Email and code"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing fields, invalid code or already verified"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /api/auth/verify-otp [post]
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allowIP(w, r, logger, ratelimit.PurposeVerifyOTP) {
		return
	}

	var req VerifyOTPRequest
	if !decodeJSON(w, r, logger, &req) {
		return
	}

	logger = logger.WithFields(map[string]any{"email": user.NormalizeEmail(req.Email)})

	if err := h.service.VerifyOTP(r.Context(), req.Email, req.OTP); err != nil {
		writeServiceError(w, logger, err, "An error occurred during OTP verification.")
		return
	}

	logger.Info("email verified successfully")
	httputil.RespondMessage(w, "Email verified successfully.", http.StatusOK)
}

// Login handles user login
// @Summary      User login
// @Description  Authenticate a verified user. The access token is returned in the body and the refresh token is set as an HTTP-only cookie.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} AccessTokenResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing fields"
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials"
// @Failure      403 {object} httputil.ErrorResponse "Email not verified"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /api/auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allowIP(w, r, logger, ratelimit.PurposeLogin) {
		return
	}

	var req LoginRequest
	if !decodeJSON(w, r, logger, &req) {
		return
	}

	logger = logger.WithFields(map[string]any{"email": user.NormalizeEmail(req.Email)})

	tokens, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, logger, err, "An error occurred during login.")
		return
	}

	logger.Info("user logged in successfully")

	SetRefreshTokenCookie(w, tokens.RefreshToken, h.secureCookies, h.refreshTTL)
	httputil.RespondJSON(w, AccessTokenResponse{AccessToken: tokens.AccessToken}, http.StatusOK)
}

// Refresh handles access token refresh
// @Summary      Refresh access token
// @Description  Exchange the refresh token cookie for a new access token. The refresh token is not rotated.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest false "Refresh token, when the cookie cannot be sent"
// @Success      200 {object} AccessTokenResponse
// @Failure      401 {object} httputil.ErrorResponse "Refresh token not provided"
// @Failure      403 {object} httputil.ErrorResponse "Invalid or expired refresh token"
// @Router       /api/auth/refresh-token [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allowIP(w, r, logger, ratelimit.PurposeRefresh) {
		return
	}

	tokens, err := h.service.RefreshAccessToken(r.Context(), refreshTokenFromRequest(r))
	if err != nil {
		writeServiceError(w, logger, err, "An error occurred while refreshing the token.")
		return
	}

	logger.Debug("access token refreshed")
	httputil.RespondJSON(w, AccessTokenResponse{AccessToken: tokens.AccessToken}, http.StatusOK)
}

// ForgotPassword handles password reset requests
// @Summary      Request password reset
// @Description  Email a password reset code. Always returns the same message to prevent email enumeration.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body EmailRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing email"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /api/auth/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allowIP(w, r, logger, ratelimit.PurposeForgotPassword) {
		return
	}

	var req EmailRequest
	if !decodeJSON(w, r, logger, &req) {
		return
	}

	email := user.NormalizeEmail(req.Email)
	if !h.allowEmail(w, r, logger, email) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), email); err != nil {
		writeServiceError(w, logger, err, "An error occurred during the forgot password process.")
		return
	}

	httputil.RespondMessage(w, forgotPasswordMessage, http.StatusOK)
}

// ResetPassword handles password reset with a code
// @Summary      Reset password
// @Description  Replace the password using the code sent by forgot-password. Ends the current session.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Email, code and new password"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing fields or invalid code"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /api/auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allowIP(w, r, logger, ratelimit.PurposeResetPassword) {
		return
	}

	var req ResetPasswordRequest
	if !decodeJSON(w, r, logger, &req) {
		return
	}

	logger = logger.WithFields(map[string]any{"email": user.NormalizeEmail(req.Email)})

	if err := h.service.ResetPassword(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		writeServiceError(w, logger, err, "An error occurred during password reset.")
		return
	}

	logger.Info("password reset successfully")
	httputil.RespondMessage(w, "Password reset successfully.", http.StatusOK)
}

// ResendOTP sends a new verification code
// @Summary      Resend verification code
// @Description  Email a new verification code to an unverified account. Always returns the same message.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body EmailRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Missing email"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /api/auth/resend-otp [post]
func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allowIP(w, r, logger, ratelimit.PurposeResendOTP) {
		return
	}

	var req EmailRequest
	if !decodeJSON(w, r, logger, &req) {
		return
	}

	email := user.NormalizeEmail(req.Email)
	if !h.allowEmail(w, r, logger, email) {
		return
	}

	if err := h.service.ResendVerificationCode(r.Context(), email); err != nil {
		writeServiceError(w, logger, err, "An error occurred while resending the OTP.")
		return
	}

	httputil.RespondMessage(w, resendOTPMessage, http.StatusOK)
}

// Logout handles user logout
// @Summary      User logout
// @Description  Forget the stored refresh token and clear the cookie
// @Tags         auth
// @Produce      json
// @Success      200 {object} httputil.MessageResponse
// @Router       /api/auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if err := h.service.Logout(r.Context(), refreshTokenFromRequest(r)); err != nil {
		// Still clear the cookie
		logger.Warn("failed to revoke refresh token", "error", err.Error())
	}

	ClearRefreshTokenCookie(w, h.secureCookies)

	logger.Info("user logged out")
	httputil.RespondMessage(w, "Logged out.", http.StatusOK)
}

// Me returns the authenticated user's profile
// @Summary      Current user
// @Tags         account
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} ProfileResponse
// @Failure      401 {object} httputil.ErrorResponse "Missing token"
// @Failure      403 {object} httputil.ErrorResponse "Invalid or expired token"
// @Router       /api/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "Access token not provided.", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	u, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, logger, err, "An error occurred while loading the profile.")
		return
	}

	httputil.RespondJSON(w, ProfileResponse{
		ID:         u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		Role:       u.Role,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}, http.StatusOK)
}

// AffiliateSummary is reachable only with an affiliate access token
// @Summary      Affiliate summary
// @Tags         affiliate
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} AffiliateSummaryResponse
// @Failure      403 {object} httputil.ErrorResponse "Not an affiliate"
// @Router       /api/affiliate/summary [get]
func (h *Handler) AffiliateSummary(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	role, _ := GetRoleFromContext(r.Context())

	httputil.RespondJSON(w, AffiliateSummaryResponse{UserID: userID, Role: role}, http.StatusOK)
}

// allowIP applies the per-IP budget for purpose. Limiter failures are
// logged and the request goes through.
func (h *Handler) allowIP(w http.ResponseWriter, r *http.Request, logger *logging.Logger, purpose string) bool {
	ip := getClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return false
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}
	return true
}

// allowEmail enforces the cooldown between codes sent to one address.
func (h *Handler) allowEmail(w http.ResponseWriter, r *http.Request, logger *logging.Logger, email string) bool {
	if email == "" {
		return true
	}

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
	} else if onCooldown {
		logger.Warn("email on cooldown", "email", email)
		respondError(w, "please wait before requesting another code", httputil.CodeCooldownActive, http.StatusTooManyRequests)
		return false
	}

	if err := h.rateLimiter.SetEmailCooldown(r.Context(), email); err != nil {
		logger.Error("failed to set email cooldown", "error", err.Error())
	}
	return true
}

// writeServiceError maps a Service error to its status and code. Store and
// unexpected failures are reported with fallback instead of their cause.
func writeServiceError(w http.ResponseWriter, logger *logging.Logger, err error, fallback string) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		logger.Error(fallback, "error", err.Error())
		respondError(w, fallback, httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	status := authErr.Kind.HTTPStatus()
	message := authErr.Message
	if authErr.Code == httputil.CodeInternalError {
		message = fallback
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", authErr.Code, "error", err.Error())
	} else {
		logger.Warn("request rejected", "code", authErr.Code)
	}

	respondError(w, message, authErr.Code, status)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, logger *logging.Logger, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Warn("invalid request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return false
	}
	return true
}

// refreshTokenFromRequest reads the refresh token cookie, falling back to
// a JSON body for clients that cannot send cookies.
func refreshTokenFromRequest(r *http.Request) string {
	if token, err := GetRefreshTokenFromCookie(r); err == nil && token != "" {
		return token
	}

	var req RefreshRequest
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err == nil {
			return req.RefreshToken
		}
	}
	return ""
}

// getClientIP extracts the client IP address from the request. chi's
// RealIP middleware has already applied X-Forwarded-For and X-Real-IP.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
