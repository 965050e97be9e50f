package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/unlockscore/unlockscore-api/internal/httputil"
)

// SecurityHeaders adds security-related headers to all responses. Swagger UI
// gets a CSP that lets it load its scripts, styles and images.
func SecurityHeaders(isProduction bool) func(http.Handler) http.Handler {
	base := secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		STSSeconds:         31536000,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !isProduction,
	}

	apiOpts := base
	apiOpts.ContentSecurityPolicy = "default-src 'none'"
	api := secure.New(apiOpts)

	swaggerOpts := base
	swaggerOpts.ContentSecurityPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:"
	swagger := secure.New(swaggerOpts)

	return func(next http.Handler) http.Handler {
		apiHandler := api.Handler(next)
		swaggerHandler := swagger.Handler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/swagger/") {
				swaggerHandler.ServeHTTP(w, r)
				return
			}
			apiHandler.ServeHTTP(w, r)
		})
	}
}

// GlobalRateLimit caps requests per client IP across all routes. It sits
// in front of the finer per-endpoint limits kept in Redis.
func GlobalRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(requestsPerMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httputil.RespondErrorWithCode(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		}),
	)
}
