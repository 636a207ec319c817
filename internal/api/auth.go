package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ActorHeader names the caller when token auth is disabled.
const ActorHeader = "X-Actor"

type contextKeyActor struct{}

// ActorFrom returns the authenticated actor, or "" when none was established.
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(contextKeyActor{}).(string)
	return actor
}

// Authenticator validates HS256 bearer tokens issued by the identity
// provider. The subject claim becomes the actor recorded on transitions.
type Authenticator struct {
	signingKey []byte
	issuer     string
}

func NewAuthenticator(signingKey, issuer string) *Authenticator {
	return &Authenticator{signingKey: []byte(signingKey), issuer: issuer}
}

var errInvalidToken = errors.New("invalid token")

// Actor validates token and returns its subject.
func (a *Authenticator) Actor(token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("token has expired")
		}
		return "", errInvalidToken
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// Issue signs a token for subject. It serves local tooling and tests; the
// production identity provider issues its own.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString(a.signingKey)
}

// requireActor establishes the actor for /v1 requests. With an
// Authenticator a valid bearer token is mandatory; without one the
// X-Actor header is trusted as-is.
func requireActor(auth *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if auth == nil {
				if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
					ctx = context.WithValue(ctx, contextKeyActor{}, actor)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized request - missing token", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			actor, err := auth.Actor(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized request - invalid token", "path", r.URL.Path, "err", err)
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, contextKeyActor{}, actor)))
		})
	}
}
