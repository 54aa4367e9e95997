package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-auth/pkg/ratelimit"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSessionRoundTrip(t *testing.T) {
	m := NewAuthMiddleware(sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef")))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/signup-with-otp", nil)
	require.NoError(t, m.SetUserSession(rec, req, 42))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	protected := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := m.GetUserID(r)
		assert.True(t, ok)
		assert.Equal(t, 42, id)
		w.WriteHeader(http.StatusNoContent)
	}))

	authed := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	for _, c := range cookies {
		authed.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, authed)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Unauthorized"`)
}

func TestRequestIDIsGeneratedOrPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc-123", seen)
}

func TestRateLimitOnlyCountsUnsafeMethods(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	defer limiter.Close()

	h := RateLimit(limiter, 2, time.Minute, nil, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(method string) int {
		req := httptest.NewRequest(method, "/auth/send-otp", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost))
	assert.Equal(t, http.StatusOK, do(http.MethodPost))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost))
	assert.Equal(t, http.StatusOK, do(http.MethodGet))
}

func TestClientIPIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.2:1234"
	req.Header.Set("X-Forwarded-For", "192.0.2.9")

	var none TrustedProxies
	assert.Equal(t, "198.51.100.2", none.ClientIP(req))

	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.2", proxies.ClientIP(req))
}

func TestClientIPBehindTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "172.16.0.5"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		forwarded string
		want      string
	}{
		{"single hop", "192.0.2.9", "192.0.2.9"},
		{"spoofed prefix", "6.6.6.6, 192.0.2.9", "192.0.2.9"},
		{"proxy chain", "192.0.2.9, 172.16.0.5", "192.0.2.9"},
		{"no header", "", "10.0.0.1"},
		{"garbage hop", "192.0.2.9, not-an-ip", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:443"
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, proxies.ClientIP(req))
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	_, err := ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)
}

func TestRateLimitIgnoresRotatingForwardedFor(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	defer limiter.Close()

	h := RateLimit(limiter, 2, time.Minute, nil, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	admitted := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/verify-otp", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted)
}
