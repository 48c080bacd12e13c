package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBucket(t *testing.T) {
	l := New()
	bucket := Bucket{MaxRequests: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("k", bucket), "request %d should pass", i+1)
	}
	assert.False(t, l.Allow("k", bucket), "fourth request must be rejected")
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l := New()
	bucket := Bucket{MaxRequests: 1, Window: time.Minute}

	assert.True(t, l.Allow("a", bucket))
	assert.False(t, l.Allow("a", bucket))
	assert.True(t, l.Allow("b", bucket))
}

func TestCheckWritesTooManyRequests(t *testing.T) {
	l := New()

	var rejected bool
	for i := 0; i < DefaultBuckets["auth"].MaxRequests+1; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		r.Header.Set("X-Real-IP", "203.0.113.50")
		rejected = l.Check(w, r, "auth")
		if rejected {
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
			assert.JSONEq(t, `{"error":"Rate limited","retry_after_seconds":60}`, w.Body.String())
		}
	}
	assert.True(t, rejected, "limit must eventually trip")
}

func TestCheckUnknownBucketUsesDefault(t *testing.T) {
	l := New()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/whatever", nil)

	assert.False(t, l.Check(w, r, "nonexistent"))
	assert.Equal(t, http.StatusOK, w.Code)
}
