package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"accessportal/internal/apperr"
	"accessportal/internal/auth"
	"accessportal/internal/metrics"
	"accessportal/internal/rate"
	"accessportal/internal/util"
)

// DefaultPublicPrefixes are reachable without a session. Matching is by
// prefix.
var DefaultPublicPrefixes = []string{
	"/login",
	"/api/auth/login",
	"/api/invites/complete",
	"/invite",
	"/logo.png",
	"/api/auth/google",
	"/api/admin/system/prune-logs",
	"/health/",
	"/metrics",
}

// DefaultPublicPaths are reachable without a session on an exact match only.
var DefaultPublicPaths = []string{"/api/auth/me"}

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, bool)
}

type GateConfig struct {
	Tokens         TokenVerifier
	CookieName     string
	PublicPrefixes []string
	PublicPaths    []string
	// Secure decides the Secure attribute of the clearing cookie.
	Secure func(*http.Request) bool
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		r = r.WithContext(WithRequestID(r.Context(), rid))
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

// Gate enforces authentication on every non-public path and admin claims on
// /admin and /api/admin. Verified claims are stored in the request context.
func Gate(cfg GateConfig) func(http.Handler) http.Handler {
	prefixes := cfg.PublicPrefixes
	if prefixes == nil {
		prefixes = DefaultPublicPrefixes
	}
	exact := cfg.PublicPaths
	if exact == nil {
		exact = DefaultPublicPaths
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if isPublic(path, prefixes, exact) {
				if c, err := r.Cookie(cfg.CookieName); err == nil && c.Value != "" {
					if claims, ok := cfg.Tokens.Verify(c.Value); ok {
						r = r.WithContext(WithClaims(r.Context(), claims))
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			c, err := r.Cookie(cfg.CookieName)
			if err != nil || c.Value == "" {
				deny(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			claims, ok := cfg.Tokens.Verify(c.Value)
			if !ok {
				secure := cfg.Secure != nil && cfg.Secure(r)
				http.SetCookie(w, ClearedCookie(cfg.CookieName, secure))
				deny(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if isAdminPath(path) && !claims.IsAdmin {
				deny(w, r, http.StatusForbidden, "Forbidden - Administrator access required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func isPublic(path string, prefixes, exact []string) bool {
	for _, p := range exact {
		if path == p {
			return true
		}
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isAdminPath(path string) bool {
	return strings.HasPrefix(path, "/api/admin") || strings.HasPrefix(path, "/admin")
}

// deny answers API paths with JSON and everything else with a login redirect.
func deny(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		util.WriteError(w, status, strings.ToLower(http.StatusText(status)), msg, RequestID(r.Context()))
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

// SessionCookie is the HttpOnly session carrier.
func SessionCookie(name, value string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func ClearedCookie(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// AdminOnly re-checks the admin claim for handlers mounted outside the gate's
// path rules.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := Claims(r.Context())
		if !ok {
			util.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", RequestID(r.Context()))
			return
		}
		if !c.IsAdmin {
			util.WriteError(w, http.StatusForbidden, "forbidden", "Forbidden - Administrator access required", RequestID(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type Limiter interface {
	Check(limit int, key string) error
}

// RateLimit rejects requests whose client key exceeded limit in the
// limiter's window.
func RateLimit(l Limiter, limit int, trustProxy bool, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := l.Check(limit, ClientKey(r, trustProxy)); err != nil {
				if errors.Is(err, rate.ErrRateLimited) {
					m.RateLimited()
					err = apperr.RateLimited("Too many login attempts. Please try again later.")
				}
				util.WriteAppError(w, nil, RequestID(r.Context()), err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller for rate limiting and audit rows. Behind a
// trusted proxy it is the raw X-Forwarded-For value, or "unknown" when absent.
func ClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			return xff
		}
		return "unknown"
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			log.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      sr.status,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  RequestID(r.Context()),
				"remote_ip":   remoteHost(r),
			}).Info("request")
		})
	}
}
