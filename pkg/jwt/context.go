package jwt

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type sessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session set by Middleware.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// UserIDFromContext returns uuid.Nil when there is no session.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	s, _ := SessionFromContext(ctx)
	return s.UserID
}

// LoggerExtractor adds user_id to log records made inside an authenticated
// request.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := UserIDFromContext(ctx); id != uuid.Nil {
			return slog.String("user_id", id.String()), true
		}
		return slog.Attr{}, false
	}
}
