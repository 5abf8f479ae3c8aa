package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(AuthConfig{
		HMACSecret: testSecret,
		Issuer:     "skillchain",
		Audience:   "gateway",
	}, nil)
}

func protectedHandler(auth *Authenticator, scopes ...string) http.Handler {
	return auth.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := protectedHandler(newTestAuthenticator())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	handler := protectedHandler(newTestAuthenticator())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "skillchain",
		"aud": "gateway",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	handler := protectedHandler(newTestAuthenticator())
	signed := signToken(t, jwt.MapClaims{
		"iss": "skillchain",
		"aud": "gateway",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsIssuerMismatch(t *testing.T) {
	handler := protectedHandler(newTestAuthenticator())
	signed := signToken(t, jwt.MapClaims{
		"iss": "someone-else",
		"aud": "gateway",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthEnforcesScopes(t *testing.T) {
	auth := newTestAuthenticator()
	handler := protectedHandler(auth, scopeEscrowAdmin)
	signed := signToken(t, jwt.MapClaims{
		"iss":   "skillchain",
		"aud":   "gateway",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scopeEscrowRead + " " + scopeEscrowWrite,
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthAcceptsValidToken(t *testing.T) {
	auth := newTestAuthenticator()
	handler := protectedHandler(auth, scopeEscrowWrite)
	signed := signToken(t, jwt.MapClaims{
		"iss":   "skillchain",
		"aud":   "gateway",
		"sub":   "alice",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scopeEscrowRead + " " + scopeEscrowWrite,
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
