package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/covercraft/covercraft-backend/api/responses"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/logger"
)

const defaultVisitorTTL = 3 * time.Minute

// RateTier is one token-bucket policy. Callers get a separate bucket per tier.
type RateTier struct {
	Name  string
	Limit rate.Limit
	Burst int
}

func (t RateTier) enabled() bool {
	return t.Limit > 0 && t.Burst > 0
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps in-process token buckets keyed by caller identity. Idle
// buckets are dropped once they have not been seen for the visitor TTL.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(visitorTTL time.Duration) *RateLimiter {
	if visitorTTL <= 0 {
		visitorTTL = defaultVisitorTTL
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		ttl:      visitorTTL,
		now:      time.Now,
	}
}

// Allow spends one token from the caller's bucket for tier.
func (l *RateLimiter) Allow(identity string, tier RateTier) bool {
	if l == nil || !tier.enabled() {
		return true
	}
	return l.limiter(identity+":"+tier.Name, tier).Allow()
}

func (l *RateLimiter) limiter(key string, tier RateTier) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.ttl {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.ttl {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(tier.Limit, tier.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Middleware throttles requests for tier. Authenticated callers are keyed by
// user, everyone else by client IP.
func (l *RateLimiter) Middleware(tier RateTier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || !tier.enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := "ip:" + clientIP(r)
			if userID := UserIDFromContext(r.Context()); userID != "" {
				identity = "user:" + userID
			}
			if !l.Allow(identity, tier) {
				if logg != nil {
					ctx := logg.WithFields(r.Context(), map[string]any{"tier": tier.Name, "identity": identity})
					logg.Warn(ctx, "rate_limit.blocked")
				}
				responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
