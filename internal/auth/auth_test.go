package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireOperatorBearer(t *testing.T) {
	mw := RequireOperator(nil, "s3cret")
	var called bool
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	called = false
	req = httptest.NewRequest("GET", "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())
}

func TestRequireOperatorWithoutBearerConfigured(t *testing.T) {
	// No bearer token and no session manager: everything is rejected.
	mw := RequireOperator(nil, "")
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenEncryptorRoundTrip(t *testing.T) {
	te, err := NewTokenEncryptor(strings.Repeat("ab", 32))
	require.NoError(t, err)

	ct, err := te.Encrypt("gho_operator_access_token")
	require.NoError(t, err)
	assert.NotContains(t, ct, "gho_")

	pt, err := te.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "gho_operator_access_token", pt)

	// Fresh nonce per call
	ct2, err := te.Encrypt("gho_operator_access_token")
	require.NoError(t, err)
	assert.NotEqual(t, ct, ct2)
}

func TestNewTokenEncryptorRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "abcd", strings.Repeat("a", 63), strings.Repeat("zz", 32)} {
		_, err := NewTokenEncryptor(key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	te, err := NewTokenEncryptor(strings.Repeat("cd", 32))
	require.NoError(t, err)

	ct, err := te.Encrypt("secret")
	require.NoError(t, err)

	_, err = te.Decrypt("x" + ct[1:])
	assert.Error(t, err)
	_, err = te.Decrypt("dG9vc2hvcnQ=")
	assert.Error(t, err)
}

func TestOAuthStateSingleUse(t *testing.T) {
	h := NewOAuthHandler(OAuthConfig{ClientID: "id", ClientSecret: "sec", BaseURL: "http://localhost:8081"},
		nil, nil, testLogger(), nil)

	state := h.generateState()
	assert.True(t, h.validateState(state))
	assert.False(t, h.validateState(state), "states are single use")
	assert.False(t, h.validateState("never-issued"))
}

func TestLoginAllowlist(t *testing.T) {
	h := NewOAuthHandler(OAuthConfig{AllowedLogins: []string{"Alice", "bob"}}, nil, nil, testLogger(), nil)
	assert.True(t, h.loginAllowed("alice"))
	assert.True(t, h.loginAllowed("BOB"))
	assert.False(t, h.loginAllowed("mallory"))

	open := NewOAuthHandler(OAuthConfig{}, nil, nil, testLogger(), nil)
	assert.True(t, open.loginAllowed("anyone"))
}

func TestBeginLoginRedirectsToGitHub(t *testing.T) {
	h := NewOAuthHandler(OAuthConfig{ClientID: "client-123", BaseURL: "http://localhost:8081"},
		nil, nil, testLogger(), nil)

	req := httptest.NewRequest("GET", "/auth/github", nil)
	rec := httptest.NewRecorder()
	h.BeginLogin(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "github.com/login/oauth/authorize")
	assert.Contains(t, loc, "client_id=client-123")
	assert.Contains(t, loc, "state=")
}
