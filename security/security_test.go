package security

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPKCE(t *testing.T) {
	verifier := NewCodeVerifier()
	require.NotEmpty(t, verifier)
	assert.NotEqual(t, verifier, NewCodeVerifier(), "verifiers must be unique")

	challenge := ChallengeS256(verifier)
	require.NotEmpty(t, challenge)
	assert.NotEqual(t, verifier, challenge)
	assert.NotContains(t, challenge, "=", "challenge must be unpadded base64url")
}

func TestNewState(t *testing.T) {
	state := NewState()
	require.NotEmpty(t, state)
	assert.NotEqual(t, state, NewState(), "state nonces must be unique")
}

func TestIsExpiringSoon(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{name: "far from expiry", expiry: now.Add(10 * time.Minute), want: false},
		{name: "inside the window", expiry: now.Add(30 * time.Second), want: true},
		{name: "already expired", expiry: now.Add(-time.Minute), want: true},
		{name: "zero expiry never expires", expiry: time.Time{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpiringSoon(tt.expiry, DefaultRefreshWindow, now))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "third request exceeds the burst")

	assert.True(t, rl.Allow("10.0.0.2"), "limits are per identifier")
	assert.Equal(t, 2, rl.Len())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.1:5000", want: "192.0.2.1"},
		{
			name:       "xff ignored without trust",
			remoteAddr: "192.0.2.1:5000",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:       "192.0.2.1",
		},
		{
			name:       "xff leftmost with trust",
			remoteAddr: "192.0.2.1:5000",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "192.0.2.1:5000",
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			trustProxy: true,
			want:       "203.0.113.7",
		},
		{
			name:       "garbage xff falls through",
			remoteAddr: "192.0.2.1:5000",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			trustProxy: true,
			want:       "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r, tt.trustProxy))
		})
	}
}

func TestRequestIDFromRequest(t *testing.T) {
	t.Run("valid inbound id is kept", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(RequestIDHeader, "abc-123_XYZ")
		assert.Equal(t, "abc-123_XYZ", RequestIDFromRequest(r))
	})

	t.Run("malformed id is replaced", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(RequestIDHeader, "evil\r\ninjection")
		got := RequestIDFromRequest(r)
		assert.NotEqual(t, "evil\r\ninjection", got)
		assert.NotEmpty(t, got)
	})

	t.Run("oversized id is replaced", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(RequestIDHeader, strings.Repeat("a", 129))
		assert.Len(t, RequestIDFromRequest(r), 36)
	})

	t.Run("absent id is generated", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		assert.NotEmpty(t, RequestIDFromRequest(r))
	})
}

func TestRequestIDContext(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	ctx := WithRequestID(r.Context(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(r.Context()))
}

func TestHashForLogging(t *testing.T) {
	hash := HashForLogging("super-secret-token")
	assert.Len(t, hash, 16)
	assert.NotContains(t, hash, "super-secret")
	assert.Equal(t, hash, HashForLogging("super-secret-token"), "hashing is deterministic")
	assert.Equal(t, "<empty>", HashForLogging(""))
}

func TestSetSecurityHeaders(t *testing.T) {
	t.Run("https base gets HSTS", func(t *testing.T) {
		w := httptest.NewRecorder()
		SetSecurityHeaders(w, "https://connector.example.com")
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	})

	t.Run("http base skips HSTS", func(t *testing.T) {
		w := httptest.NewRecorder()
		SetSecurityHeaders(w, "http://localhost:8080")
		assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
	})
}
