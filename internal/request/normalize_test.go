package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaitKey = "sk_live_51HoneypotBaitKey000000"

func TestClientIPPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "forwarded-for first token wins",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "X-Real-IP": "10.9.9.9"},
			want:    "203.0.113.7",
		},
		{
			name:    "forwarded-for single value",
			headers: map[string]string{"X-Forwarded-For": " 198.51.100.2 "},
			want:    "198.51.100.2",
		},
		{
			name:    "real-ip fallback",
			headers: map[string]string{"X-Real-IP": "198.51.100.9"},
			want:    "198.51.100.9",
		},
		{
			name:    "cloudflare fallback",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.99"},
			want:    "203.0.113.99",
		},
		{
			name:    "no forwarding headers",
			headers: nil,
			want:    "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/users", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			m := Normalize(req, testBaitKey)
			assert.Equal(t, tt.want, m.IP)
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/docs?page=1&page=2&q=test", nil)
	m := Normalize(req, testBaitKey)

	assert.Equal(t, "unknown", m.UserAgent)
	assert.Equal(t, "GET", m.Method)
	assert.Equal(t, "/api/docs", m.Path)
	assert.Equal(t, map[string]string{"page": "2", "q": "test"}, m.Query)
	assert.Nil(t, m.Body)
	assert.Equal(t, APIKeyNone, m.APIKeyStatus)
	assert.Empty(t, m.APIKeyUsed)
	assert.False(t, m.ReceivedAt.IsZero())
}

func TestParseBody(t *testing.T) {
	t.Run("json object", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/login", strings.NewReader(`{"user":"admin","pass":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		m := Normalize(req, testBaitKey)

		body, ok := m.Body.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "admin", body["user"])
	})

	t.Run("malformed json is absent", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/login", strings.NewReader(`{"user":`))
		req.Header.Set("Content-Type", "application/json")
		m := Normalize(req, testBaitKey)
		assert.Nil(t, m.Body)
	})

	t.Run("form urlencoded", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/login", strings.NewReader("user=admin&pass=secret&pass=last"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		m := Normalize(req, testBaitKey)

		body, ok := m.Body.(map[string]string)
		require.True(t, ok)
		assert.Equal(t, "admin", body["user"])
		assert.Equal(t, "last", body["pass"])
	})

	t.Run("other content types absent", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/upload", strings.NewReader("binary stuff"))
		req.Header.Set("Content-Type", "application/octet-stream")
		m := Normalize(req, testBaitKey)
		assert.Nil(t, m.Body)
	})
}

func TestSanitizeHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("User-Agent", "curl/8.4.0")
	req.Header.Set("Cookie", "session=abc123")
	req.Header.Set("Set-Cookie", "tracking=1")
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Accept", "text/html")

	m := Normalize(req, testBaitKey)

	assert.NotContains(t, m.Headers, "Cookie")
	assert.NotContains(t, m.Headers, "Set-Cookie")
	assert.Equal(t, "curl/8.4.0", m.Headers["User-Agent"])
	assert.Equal(t, "application/json, text/html", m.Headers["Accept"])
	assert.Equal(t, "curl/8.4.0", m.UserAgent)
}

func TestClassifyAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus string
		wantUsed   string
	}{
		{
			name:       "bait key in authorization",
			headers:    map[string]string{"Authorization": "Bearer " + testBaitKey},
			wantStatus: APIKeyCorrect,
			wantUsed:   "Bearer " + testBaitKey,
		},
		{
			name:       "exact bait key in x-api-key",
			headers:    map[string]string{"X-Api-Key": testBaitKey},
			wantStatus: APIKeyCorrect,
			wantUsed:   testBaitKey,
		},
		{
			name:       "wrong key by header name",
			headers:    map[string]string{"X-Api-Key": "sk_test_wrong123"},
			wantStatus: APIKeyWrong,
			wantUsed:   "sk_test_wrong123",
		},
		{
			name:       "wrong key by value marker only",
			headers:    map[string]string{"X-Custom-Token": "sk-proj-abcdef"},
			wantStatus: APIKeyWrong,
			wantUsed:   "sk-proj-abcdef",
		},
		{
			name: "bait key wins over earlier wrong key",
			headers: map[string]string{
				"Api-Key":   "sk_test_nope",
				"X-Api-Key": testBaitKey,
			},
			wantStatus: APIKeyCorrect,
			wantUsed:   testBaitKey,
		},
		{
			name:       "no credential headers",
			headers:    map[string]string{"Accept": "application/json"},
			wantStatus: APIKeyNone,
			wantUsed:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/users", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			m := Normalize(req, testBaitKey)
			assert.Equal(t, tt.wantStatus, m.APIKeyStatus)
			assert.Equal(t, tt.wantUsed, m.APIKeyUsed)
		})
	}
}
