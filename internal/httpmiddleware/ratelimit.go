package httpmiddleware

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit blocks each request until limiter grants a token or the request context ends.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if err := limiter.Wait(req.Context()); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}

			return next.RoundTrip(req)
		})
	}
}
