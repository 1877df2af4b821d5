package purchase

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/atmx/transit-fare/internal/metrics"
)

// RateLimit rejects requests with 429 once the limiter's bucket is empty.
// A single limiter is shared by every caller of the wrapped routes.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", "1")
				writeError(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
