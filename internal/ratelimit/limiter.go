package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Purposes partition the per-IP counters so a burst of logins does not
// lock the same client out of password resets.
const (
	PurposeRegister       = "register"
	PurposeVerifyOTP      = "verify-otp"
	PurposeLogin          = "login"
	PurposeRefresh        = "refresh-token"
	PurposeForgotPassword = "forgot-password"
	PurposeResetPassword  = "reset-password"
	PurposeResendOTP      = "resend-otp"
)

type Config struct {
	MaxRequests   int
	Window        time.Duration
	EmailCooldown time.Duration
}

// Limiter keeps fixed-window request counters and per-email cooldowns in Redis.
type Limiter struct {
	client redis.UniversalClient
	config Config
}

func NewLimiter(client redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{client: client, config: cfg}
}

func ipKey(purpose, ip string) string {
	return fmt.Sprintf("ratelimit:ip:%s:%s", purpose, ip)
}

func cooldownKey(email string) string {
	return fmt.Sprintf("ratelimit:cooldown:%s", strings.ToLower(strings.TrimSpace(email)))
}

// CheckIPRateLimitWithPurpose reports whether ip has used up its budget
// for purpose in the current window.
func (l *Limiter) CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error) {
	count, err := l.client.Get(ctx, ipKey(purpose, ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	return count >= int64(l.config.MaxRequests), nil
}

// RecordIPRequestWithPurpose counts one request. The window starts at the
// first request and is not extended by later ones.
func (l *Limiter) RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error {
	key := ipKey(purpose, ip)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return nil
}

// CheckEmailCooldown reports whether a code was sent to email recently.
func (l *Limiter) CheckEmailCooldown(ctx context.Context, email string) (bool, error) {
	n, err := l.client.Exists(ctx, cooldownKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check email cooldown: %w", err)
	}
	return n > 0, nil
}

// SetEmailCooldown starts the cooldown for email.
func (l *Limiter) SetEmailCooldown(ctx context.Context, email string) error {
	if err := l.client.Set(ctx, cooldownKey(email), "1", l.config.EmailCooldown).Err(); err != nil {
		return fmt.Errorf("failed to set email cooldown: %w", err)
	}
	return nil
}

// Nop never limits. It is used when Redis is not configured.
type Nop struct{}

func (Nop) CheckIPRateLimitWithPurpose(context.Context, string, string) (bool, error) {
	return false, nil
}

func (Nop) RecordIPRequestWithPurpose(context.Context, string, string) error { return nil }

func (Nop) CheckEmailCooldown(context.Context, string) (bool, error) { return false, nil }

func (Nop) SetEmailCooldown(context.Context, string) error { return nil }
