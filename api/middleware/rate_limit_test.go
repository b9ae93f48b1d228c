package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/enums"
)

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(time.Minute)
	tier := RateTier{Name: "webhook", Limit: 1, Burst: 2}
	handler := limiter.Middleware(tier, nil)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/razorpay", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterSeparatesIdentitiesAndTiers(t *testing.T) {
	limiter := NewRateLimiter(time.Minute)
	strict := RateTier{Name: "webhook", Limit: 1, Burst: 1}
	general := RateTier{Name: "general", Limit: 1, Burst: 1}

	assert.True(t, limiter.Allow("ip:1", strict))
	assert.False(t, limiter.Allow("ip:1", strict))
	assert.True(t, limiter.Allow("ip:2", strict))
	assert.True(t, limiter.Allow("ip:1", general))
}

func TestRateLimiterKeysAuthenticatedCallersByUser(t *testing.T) {
	limiter := NewRateLimiter(time.Minute)
	tier := RateTier{Name: "general", Limit: 1, Burst: 1}
	handler := limiter.Middleware(tier, nil)(okHandler())
	principal := auth.Principal{UserID: uuid.New(), Role: enums.RoleUser}

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.RemoteAddr = ip + ":80"
		req = req.WithContext(WithPrincipal(req.Context(), principal))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, send("10.0.0.2"))
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	tier := RateTier{Name: "general", Limit: 1, Burst: 1}

	limiter.Allow("ip:idle", tier)
	now = now.Add(2 * time.Minute)
	limiter.Allow("ip:fresh", tier)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	_, idle := limiter.visitors["ip:idle:general"]
	_, fresh := limiter.visitors["ip:fresh:general"]
	assert.False(t, idle)
	assert.True(t, fresh)
}

func TestRateLimiterDisabledTierPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(0)
	handler := limiter.Middleware(RateTier{Name: "off"}, nil)(okHandler())
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

type fakeWindowStore struct {
	mu     sync.Mutex
	counts map[string]int64
	scopes []string
}

func (f *fakeWindowStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[scope]++
	f.scopes = append(f.scopes, scope)
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func TestWindowRateLimitPerUser(t *testing.T) {
	store := &fakeWindowStore{}
	handler := WindowRateLimit(NewWindowPolicy("Verify", time.Minute, 2), store, nil)(okHandler())
	principal := auth.Principal{UserID: uuid.New(), Role: enums.RoleUser}

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/pay/verify", nil)
		req = req.WithContext(WithPrincipal(req.Context(), principal))
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		if i < 2 {
			require.Equal(t, http.StatusOK, last.Code)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))
	assert.Equal(t, "verify:user:"+principal.UserID.String(), store.scopes[0])
}

func TestWindowRateLimitFallsBackToIP(t *testing.T) {
	store := &fakeWindowStore{}
	handler := WindowRateLimit(NewWindowPolicy("verify", time.Minute, 5), store, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, store.scopes, 1)
	assert.Equal(t, "verify:ip:203.0.113.9", store.scopes[0])
}
