package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/covercraft/covercraft-backend/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	// Razorpay stamps every webhook delivery; redeliveries reuse the id.
	razorpayEventIDHeader = "X-Razorpay-Event-Id"
	maxRequestIDLength    = 128
)

// RequestID propagates the caller's request id, falls back to the gateway's
// webhook event id and otherwise mints one.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := requestIDFor(r)
			w.Header().Set(requestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestIDFor(r *http.Request) string {
	for _, header := range []string{requestIDHeader, razorpayEventIDHeader} {
		if id := r.Header.Get(header); id != "" && len(id) <= maxRequestIDLength {
			return id
		}
	}
	return uuid.NewString()
}
