// Package auth resolves the calling principal from an HS256 bearer token.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type ctxKey int

const ctxKeyPrincipal ctxKey = iota

// bearerScheme is matched case-insensitively.
const bearerScheme = "Bearer "

var (
	ErrMissingToken     = errors.New("authorization header required")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingPrincipal = errors.New("principal claim missing")
)

// PrincipalFromContext returns the principal set by Authenticator.Middleware.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyPrincipal).(string)
	return v, ok && v != ""
}

// WithPrincipal returns a copy of ctx carrying principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, principal)
}

// Authenticator validates bearer tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	log    *zap.Logger
}

// NewAuthenticator creates an Authenticator. The secret must not be empty.
func NewAuthenticator(secret string, log *zap.Logger) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret), log: log}, nil
}

// Principal validates tokenString and returns its subject. The "sub" claim
// is preferred; "userId" is accepted for older tokens.
func (a *Authenticator) Principal(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	switch id := claims["userId"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return strconv.FormatInt(int64(id), 10), nil
	}
	return "", ErrMissingPrincipal
}

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) <= len(bearerScheme) || !strings.EqualFold(header[:len(bearerScheme)], bearerScheme) {
			writeUnauthorized(w, ErrMissingToken.Error())
			return
		}

		principal, err := a.Principal(header[len(bearerScheme):])
		if err != nil {
			a.log.Debug("Rejected bearer token",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			if errors.Is(err, ErrMissingPrincipal) {
				writeUnauthorized(w, ErrMissingPrincipal.Error())
				return
			}
			writeUnauthorized(w, ErrInvalidToken.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Sign issues an HS256 token for principal. It backs local tooling and tests.
func (a *Authenticator) Sign(principal string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   principal,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.secret)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="alerts"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
