package handler

import (
	"log/slog"
	"net/http"

	"github.com/cenety/saaskit/pkg/logger"
	"github.com/cenety/saaskit/pkg/requestid"
)

// Response renders itself to the client.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// HandlerFunc handles a request and returns what to render.
type HandlerFunc func(r *http.Request) Response

// ErrorHandler writes the response for a failed request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// WrapOption configures Wrap.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	onError ErrorHandler
}

// WithErrorHandler sets the handler used when rendering fails or the
// handler returns nil.
func WithErrorHandler(h ErrorHandler) WrapOption {
	return func(c *wrapConfig) {
		if h != nil {
			c.onError = h
		}
	}
}

type errorResponse struct {
	err error
}

func (e errorResponse) Render(http.ResponseWriter, *http.Request) error {
	return e.err
}

// Error returns a Response that hands err to the ErrorHandler of Wrap,
// so failures are logged and rendered in one place.
func Error(err error) Response {
	return errorResponse{err: err}
}

// Wrap adapts h to http.HandlerFunc.
func Wrap(h HandlerFunc, opts ...WrapOption) http.HandlerFunc {
	cfg := &wrapConfig{onError: NewErrorHandler(nil)}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		resp := h(r)
		if resp == nil {
			cfg.onError(w, r, ErrNilResponse)
			return
		}
		if err := resp.Render(w, r); err != nil {
			cfg.onError(w, r, err)
		}
	}
}

// NewErrorHandler logs err, at warn level for 4xx and error level otherwise,
// then writes a JSON error envelope. A nil log discards.
func NewErrorHandler(log *slog.Logger) ErrorHandler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		resp := JSONError(err)
		status := resp.(*jsonResponse).status

		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.LogAttrs(r.Context(), level, "request failed",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("http"),
		)
		_ = resp.Render(w, r)
	}
}
