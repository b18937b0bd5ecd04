package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"sigforge/observability/logging"
)

// AuthConfig controls bearer-token authentication on the gateway. The token
// subject identifies the end user and becomes the session key.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type contextKey string

const contextKeySession contextKey = "signerd.session"

// Authenticator validates gateway bearer tokens.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Middleware rejects requests without a valid token and stamps the resolved
// session identity into the request context. With auth disabled the caller
// supplies the identity via the X-Session-ID header instead.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				id := strings.TrimSpace(r.Header.Get("X-Session-ID"))
				if id == "" {
					http.Error(w, "missing X-Session-ID header", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(withSession(r.Context(), id)))
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			subject, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.LogAttrs(r.Context(), slog.LevelWarn, "token validation failed",
					slog.Any("err", err), logging.Field("token", tokenString))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), subject)))
		})
	}
}

func (a *Authenticator) parseToken(tokenString string) (string, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
	}
	if a.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if len(a.secret) == 0 {
			return nil, errors.New("authenticator has no secret configured")
		}
		return a.secret, nil
	}, options...)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return strings.TrimSpace(claims.Subject), nil
}

func withSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeySession, id)
}

// SessionID returns the authenticated session identity for the request.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKeySession).(string)
	return id, ok && id != ""
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
