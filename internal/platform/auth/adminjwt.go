package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	// AdminCookieName carries the admin session token as an HttpOnly cookie.
	AdminCookieName = "ll_admin"

	defaultAdminSessionTTL = 12 * time.Hour
	adminTokenIssuer       = "loomline-api"
	adminTokenSubject      = "admin"
)

var (
	// ErrAdminTokenInvalid signals a malformed, mis-signed or expired admin token.
	ErrAdminTokenInvalid = errors.New("auth: admin token invalid")
	// ErrAdminPassphraseMismatch signals a failed passphrase exchange.
	ErrAdminPassphraseMismatch = errors.New("auth: admin passphrase mismatch")
)

type adminContextKey struct{}

// WithAdmin marks the context as carrying a verified admin session.
func WithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminContextKey{}, true)
}

// IsAdmin reports whether the context carries a verified admin session.
func IsAdmin(ctx context.Context) bool {
	ok, _ := ctx.Value(adminContextKey{}).(bool)
	return ok
}

// AdminSessionConfig configures the admin session manager.
type AdminSessionConfig struct {
	// Passphrase is the shared admin secret exchanged at login.
	Passphrase string
	// SigningSecret signs issued session tokens (HS256).
	SigningSecret []byte
	TTL           time.Duration
	Clock         func() time.Time
}

// AdminSessionManager exchanges the shared admin passphrase for signed,
// expiring session tokens and validates them on admin routes. There is no
// per-user admin identity; possession of a valid token is the authority.
type AdminSessionManager struct {
	passphrase string
	secret     []byte
	ttl        time.Duration
	clock      func() time.Time
}

// NewAdminSessionManager constructs the manager. Both the passphrase and the
// signing secret are required; admin access fails closed without them.
func NewAdminSessionManager(cfg AdminSessionConfig) (*AdminSessionManager, error) {
	if strings.TrimSpace(cfg.Passphrase) == "" {
		return nil, errors.New("auth: admin passphrase is required")
	}
	if len(cfg.SigningSecret) == 0 {
		return nil, errors.New("auth: admin signing secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultAdminSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AdminSessionManager{
		passphrase: cfg.Passphrase,
		secret:     cfg.SigningSecret,
		ttl:        ttl,
		clock:      func() time.Time { return clock().UTC() },
	}, nil
}

// Exchange validates the supplied passphrase and issues a session token.
func (m *AdminSessionManager) Exchange(passphrase string) (string, time.Time, error) {
	if m == nil {
		return "", time.Time{}, errors.New("auth: admin session manager is nil")
	}
	if subtle.ConstantTimeCompare([]byte(passphrase), []byte(m.passphrase)) != 1 {
		return "", time.Time{}, ErrAdminPassphraseMismatch
	}

	now := m.clock()
	expiresAt := now.Add(m.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    adminTokenIssuer,
		Subject:   adminTokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify parses and validates a session token.
func (m *AdminSessionManager) Verify(tokenStr string) error {
	if m == nil {
		return ErrAdminTokenInvalid
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// Time validation happens below against the injected clock.
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(strings.TrimSpace(tokenStr), claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return ErrAdminTokenInvalid
	}
	if claims.Subject != adminTokenSubject || claims.Issuer != adminTokenIssuer {
		return ErrAdminTokenInvalid
	}
	now := m.clock()
	if !claims.VerifyExpiresAt(now, true) || !claims.VerifyNotBefore(now, false) || !claims.VerifyIssuedAt(now, false) {
		return ErrAdminTokenInvalid
	}
	return nil
}

// SessionCookie wraps an issued token in the HttpOnly admin cookie.
func (m *AdminSessionManager) SessionCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     AdminCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// RequireAdmin gates a route group behind a valid admin session token,
// accepted either as the session cookie or a bearer token.
func (m *AdminSessionManager) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				writeAuthError(r.Context(), w, "unauthenticated", "admin authentication unavailable")
				return
			}

			tokenStr := ""
			if cookie, err := r.Cookie(AdminCookieName); err == nil {
				tokenStr = cookie.Value
			}
			if tokenStr == "" {
				if bearer, ok := bearerToken(r.Header.Get("Authorization")); ok {
					tokenStr = bearer
				}
			}
			if tokenStr == "" {
				writeAuthError(r.Context(), w, "unauthenticated", "admin session required")
				return
			}

			if err := m.Verify(tokenStr); err != nil {
				writeAuthError(r.Context(), w, "unauthenticated", "admin session invalid or expired")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context())))
		})
	}
}
