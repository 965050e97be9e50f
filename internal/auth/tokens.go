package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unlockscore/unlockscore-api/internal/config"
	"github.com/unlockscore/unlockscore-api/internal/user"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// TokenClaims is the payload carried by access and refresh tokens.
// Refresh tokens leave Role empty.
type TokenClaims struct {
	UserID    uuid.UUID
	Role      user.Role
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService defines the interface for token creation and validation.
// Implementations include JWTService (HS256) and PasetoService (PASETO v4.local).
type TokenService interface {
	CreateToken(claims TokenClaims, ttl time.Duration) (string, error)
	VerifyToken(tokenStr string) (*TokenClaims, error)
}

// TokenIssuer pairs two token services keyed by independent secrets so a
// refresh token can never pass as an access token and vice versa.
type TokenIssuer struct {
	access     TokenService
	refresh    TokenService
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(access, refresh TokenService, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		access:     access,
		refresh:    refresh,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// NewTokenIssuerFromConfig builds the issuer for the configured token format.
func NewTokenIssuerFromConfig(cfg config.AuthConfig) (*TokenIssuer, error) {
	var access, refresh TokenService
	switch cfg.TokenFormat {
	case config.TokenFormatJWT:
		a, err := NewJWTService([]byte(cfg.AccessTokenSecret))
		if err != nil {
			return nil, fmt.Errorf("access token service: %w", err)
		}
		r, err := NewJWTService([]byte(cfg.RefreshTokenSecret))
		if err != nil {
			return nil, fmt.Errorf("refresh token service: %w", err)
		}
		access, refresh = a, r
	case config.TokenFormatPaseto:
		a, err := NewPasetoService([]byte(cfg.AccessTokenSecret))
		if err != nil {
			return nil, fmt.Errorf("access token service: %w", err)
		}
		r, err := NewPasetoService([]byte(cfg.RefreshTokenSecret))
		if err != nil {
			return nil, fmt.Errorf("refresh token service: %w", err)
		}
		access, refresh = a, r
	default:
		return nil, fmt.Errorf("unsupported token format %q", cfg.TokenFormat)
	}

	return NewTokenIssuer(access, refresh, cfg.AccessTokenDuration, cfg.RefreshTokenDuration), nil
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccess mints an access token embedding the user's id and role.
func (i *TokenIssuer) IssueAccess(u *user.User) (string, error) {
	return i.access.CreateToken(TokenClaims{UserID: u.ID, Role: u.Role}, i.accessTTL)
}

// IssueRefresh mints a refresh token embedding only the user's id.
func (i *TokenIssuer) IssueRefresh(u *user.User) (string, error) {
	return i.refresh.CreateToken(TokenClaims{UserID: u.ID}, i.refreshTTL)
}

func (i *TokenIssuer) VerifyAccess(tokenStr string) (*TokenClaims, error) {
	return i.access.VerifyToken(tokenStr)
}

func (i *TokenIssuer) VerifyRefresh(tokenStr string) (*TokenClaims, error) {
	return i.refresh.VerifyToken(tokenStr)
}
