package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(testSecret, zap.NewNop())
	require.NoError(t, err)
	return a
}

func signClaims(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewAuthenticator("", zap.NewNop())
	assert.Error(t, err)
}

func TestPrincipal(t *testing.T) {
	a := newTestAuthenticator(t)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{
			name:  "subject claim",
			token: signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "user-1", "exp": exp}),
			want:  "user-1",
		},
		{
			name:  "numeric userId claim",
			token: signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"userId": 42, "exp": exp}),
			want:  "42",
		},
		{
			name:  "string userId claim",
			token: signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"userId": "abc", "exp": exp}),
			want:  "abc",
		},
		{
			name:    "no principal",
			token:   signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"email": "a@b.c", "exp": exp}),
			wantErr: ErrMissingPrincipal,
		},
		{
			name:    "wrong secret",
			token:   signClaims(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "user-1", "exp": exp}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "expired",
			token:   signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "other algorithm",
			token:   signClaims(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "user-1", "exp": exp}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			token:   "not-a-token",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Principal(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMiddleware(t *testing.T) {
	a := newTestAuthenticator(t)

	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := a.Sign("user-1", time.Hour)
	require.NoError(t, err)

	for _, scheme := range []string{"Bearer ", "bearer ", "BEARER "} {
		t.Run("valid token with "+strings.TrimSpace(scheme), func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
			req.Header.Set("Authorization", scheme+token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, "user-1", seen)
		})
	}

	for name, header := range map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic dXNlcjpwYXNz",
		"bad token":      "Bearer nope",
		"scheme only":    "Bearer ",
		"no separator":   "Bearer" + token,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestPrincipalFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := PrincipalFromContext(req.Context())
	assert.False(t, ok)

	_, ok = PrincipalFromContext(WithPrincipal(req.Context(), ""))
	assert.False(t, ok)
}
