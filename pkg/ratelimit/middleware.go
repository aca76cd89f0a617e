package ratelimit

import (
	"math"
	"net/http"
	"strconv"
)

// KeyFunc returns the bucket key for a request. An empty key skips limiting.
type KeyFunc func(*http.Request) string

// LimitHandler writes the response for a throttled request.
type LimitHandler func(w http.ResponseWriter, r *http.Request, res Result)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middleware)

type middleware struct {
	onLimit LimitHandler
}

// WithOnLimitReached replaces the default plain text 429 response.
// Retry-After and X-RateLimit-* headers are already set when it runs.
func WithOnLimitReached(h LimitHandler) MiddlewareOption {
	return func(m *middleware) {
		if h != nil {
			m.onLimit = h
		}
	}
}

// Middleware throttles requests per key and answers 429 with Retry-After.
func Middleware(l *Limiter, keyFunc KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if l == nil || keyFunc == nil {
		panic("ratelimit: limiter and keyFunc are required")
	}
	m := &middleware{
		onLimit: func(w http.ResponseWriter, _ *http.Request, _ Result) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		},
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			res := l.Allow(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				secs := max(int(math.Ceil(res.RetryAfter.Seconds())), 1)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				m.onLimit(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
