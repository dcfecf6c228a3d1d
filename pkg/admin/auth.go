package admin

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crosslane/arb-relay/pkg/logging"
)

var adminAuthLog = logging.WithComponent(logging.LogTypeAdmin, "auth")

// jwtIssuer is the issuer claim required on admin JWTs.
const jwtIssuer = "arb-relay"

// AuthMiddleware provides bearer authentication for admin API endpoints.
// It accepts either the static HMAC token or an HS256 JWT signed with the
// same secret. If secret is empty, authentication is disabled.
type AuthMiddleware struct {
	secret  string
	enabled bool
}

// NewAuthMiddleware creates authentication middleware for admin endpoints.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{
		secret:  secret,
		enabled: secret != "",
	}
}

// Wrap returns an http.Handler that validates the admin token before calling the next handler.
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		token := m.extractToken(r)
		if token == "" {
			adminAuthLog.Warn("admin auth failed: missing token", slog.String(logging.KeyRemoteAddr, r.RemoteAddr))
			http.Error(w, "Unauthorized: missing admin token", http.StatusUnauthorized)
			return
		}

		if !m.validateToken(token) {
			adminAuthLog.Warn("admin auth failed: invalid token", slog.String(logging.KeyRemoteAddr, r.RemoteAddr))
			http.Error(w, "Unauthorized: invalid admin token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WrapFunc is a convenience method for wrapping http.HandlerFunc.
func (m *AuthMiddleware) WrapFunc(next http.HandlerFunc) http.Handler {
	return m.Wrap(next)
}

// IsEnabled returns whether authentication is enabled.
func (m *AuthMiddleware) IsEnabled() bool {
	return m.enabled
}

func (m *AuthMiddleware) extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// validateToken accepts either token form. JWTs always contain two dots;
// the static token is hex and never does.
func (m *AuthMiddleware) validateToken(token string) bool {
	if strings.Count(token, ".") == 2 {
		return m.validateJWT(token)
	}
	return m.validateStaticToken(token)
}

func (m *AuthMiddleware) validateStaticToken(token string) bool {
	h := hmac.New(sha256.New, []byte(m.secret))
	h.Write([]byte("admin"))
	expected := h.Sum(nil)

	provided, err := decodeHex(token)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(expected, provided) == 1
}

func (m *AuthMiddleware) validateJWT(token string) bool {
	parsed, err := jwt.Parse(token,
		func(_ *jwt.Token) (interface{}, error) {
			return []byte(m.secret), nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(jwtIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return false
	}
	return parsed.Valid
}

// MintStaticToken derives the static admin token from the shared secret.
func MintStaticToken(secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte("admin"))
	return hex.EncodeToString(h.Sum(nil))
}

// MintJWT creates a short-lived HS256 admin JWT signed with the shared secret.
func MintJWT(secret, subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    jwtIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errInvalidHex
	}
	result := make([]byte, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		a := hexVal(s[i])
		b := hexVal(s[i+1])
		if a < 0 || b < 0 {
			return nil, errInvalidHex
		}
		result[i/2] = byte(a<<4 | b)
	}
	return result, nil
}

func hexVal(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'f':
		return int(c - 'a' + 10)
	case 'A' <= c && c <= 'F':
		return int(c - 'A' + 10)
	default:
		return -1
	}
}

type hexError struct{}

func (hexError) Error() string { return "invalid hex encoding" }

var errInvalidHex = hexError{}
