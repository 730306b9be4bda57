package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	apperrors "github.com/3leaps/fleetplan/internal/errors"
)

// RateLimit rejects requests beyond rps with 429. A non-positive rps
// disables limiting.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				apperrors.RespondWithError(w, r, apperrors.NewRateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
