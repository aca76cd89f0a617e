package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Logger builds events and hands them to Storage. Log never fails the
// caller; storage errors are written to the application log.
type Logger struct {
	storage            Storage
	log                *slog.Logger
	now                func() time.Time
	requestIDExtractor func(context.Context) string
}

// Option configures a Logger.
type Option func(*Logger)

// WithLogger sets the slog logger used to report storage failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithRequestIDExtractor copies the request id from ctx into events.
func WithRequestIDExtractor(fn func(context.Context) string) Option {
	return func(l *Logger) {
		l.requestIDExtractor = fn
	}
}

// WithClock overrides time.Now. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger panics on nil storage.
func NewLogger(storage Storage, opts ...Option) *Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	l := &Logger{
		storage: storage,
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log records action for userID. A non-nil result marks the event as an
// error. The "resource" and "resource_id" metadata keys are lifted into
// their own columns.
func (l *Logger) Log(ctx context.Context, userID uuid.UUID, action string, result error, metadata map[string]any) {
	e := Event{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    action,
		Result:    ResultSuccess,
		CreatedAt: l.now().UTC(),
	}
	if result != nil {
		e.Result = ResultError
		e.Error = result.Error()
	}
	if l.requestIDExtractor != nil {
		e.RequestID = l.requestIDExtractor(ctx)
	}
	if len(metadata) > 0 {
		e.Metadata = make(map[string]any, len(metadata))
		for k, v := range metadata {
			switch k {
			case "resource":
				e.Resource, _ = v.(string)
			case "resource_id":
				e.ResourceID, _ = v.(string)
			default:
				e.Metadata[k] = v
			}
		}
	}

	if err := e.Validate(); err != nil {
		l.log.ErrorContext(ctx, "invalid audit event", slog.String("action", action), slog.Any("error", err))
		return
	}
	if err := l.storage.StoreBatch(ctx, []Event{e}); err != nil {
		l.log.ErrorContext(ctx, "failed to store audit event",
			slog.String("action", action),
			slog.String("user_id", userID.String()),
			slog.Any("error", err),
		)
	}
}
