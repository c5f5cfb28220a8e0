package handler

import (
	"math"
	"net/http"
	"strconv"

	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/guard"
)

// RateLimit rejects requests once the client IP exceeds limiter's budget for scope.
func RateLimit(limiter *guard.RateLimiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Check(r.Context(), scope+":"+ClientIP(r))
			if !d.Allowed {
				setRetryAfter(w, d)
				RespondError(w, domain.ErrRateLimited(d.Reason))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setRetryAfter(w http.ResponseWriter, d guard.Decision) {
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
	}
}
