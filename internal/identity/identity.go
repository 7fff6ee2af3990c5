// Package identity resolves the conversation session key of a request.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName   = "capylingo_anon_id"
	SessionKeyHeader = "X-Capy-Session-Key"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const sessionKeyKey contextKey = iota

var (
	anonIDPattern     = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// SessionKeyFromContext extracts the session key from the request context.
func SessionKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKeyKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionKey returns ctx carrying key.
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyKey, key)
}

// ValidSessionKey reports whether key is safe to use as a store key.
func ValidSessionKey(key string) bool {
	return sessionKeyPattern.MatchString(key)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// sessionKeyFromRequest prefers an explicit header or query key, so bots and
// the CLI can address their own conversation without cookies.
func sessionKeyFromRequest(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(SessionKeyHeader))
	if key == "" {
		key = strings.TrimSpace(r.URL.Query().Get("session_key"))
	}
	if key != "" && ValidSessionKey(key) {
		return key
	}
	return ""
}

// Middleware injects the session key of the request.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := sessionKeyFromRequest(r)
			if key == "" {
				anonID, err := getOrCreateAnonID(w, r, isDev)
				if err != nil {
					http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
				key = anonID
			}
			next.ServeHTTP(w, r.WithContext(WithSessionKey(r.Context(), key)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
