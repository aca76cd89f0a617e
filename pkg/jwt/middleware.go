package jwt

import (
	"errors"
	"net/http"
	"strings"
)

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middleware)

type middleware struct {
	svc     *Service
	cookie  string
	onError ErrorHandler
}

// WithCookieName sets the session cookie name. Default "session".
func WithCookieName(name string) MiddlewareOption {
	return func(m *middleware) {
		if name != "" {
			m.cookie = name
		}
	}
}

// WithErrorHandler replaces the default plain text 401/403 response.
func WithErrorHandler(h ErrorHandler) MiddlewareOption {
	return func(m *middleware) {
		if h != nil {
			m.onError = h
		}
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, ErrForbidden) {
		status = http.StatusForbidden
	}
	http.Error(w, http.StatusText(status), status)
}

// Middleware authenticates requests with the session cookie, falling back
// to an "Authorization: Bearer" header. Requests without a valid token are
// rejected with ErrUnauthorized before reaching next.
func Middleware(svc *Service, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if svc == nil {
		panic("jwt: service cannot be nil")
	}
	m := &middleware{svc: svc, cookie: "session", onError: defaultErrorHandler}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := m.token(r)
			if token == "" {
				m.onError(w, r, ErrUnauthorized)
				return
			}
			session, err := m.svc.Parse(token)
			if err != nil {
				m.onError(w, r, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

func (m *middleware) token(r *http.Request) string {
	if c, err := r.Cookie(m.cookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// RequireRole lets through sessions with the given role and rejects the
// rest with ErrForbidden. It must run after Middleware.
func RequireRole(role string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{onError: defaultErrorHandler}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok {
				m.onError(w, r, ErrUnauthorized)
				return
			}
			if s.Role != role {
				m.onError(w, r, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
