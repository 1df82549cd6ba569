// Package auth authenticates callers with HS256 bearer tokens whose subject is
// the caller's party key.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/segyhp/settlement-engine/pkg/response"
)

type Principal struct {
	Key  string
	Name string
}

type principalKey struct{}

type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// IssueToken signs a token for the given party. A zero ttl issues a token without expiry.
func IssueToken(secret, partyKey, name string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  partyKey,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Name: name,
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// Authenticate parses and validates a token.
func Authenticate(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if c.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{Key: c.Subject, Name: c.Name}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// Middleware rejects requests without a valid bearer token, except for the public paths.
func Middleware(secret string, publicPaths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range publicPaths {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				response.Unauthorized(w, "authentication required")
				return
			}
			principal, err := Authenticate(token, secret)
			if err != nil {
				response.Unauthorized(w, "invalid credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
