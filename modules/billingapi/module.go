package billingapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cenety/saaskit/handler"
	"github.com/cenety/saaskit/pkg/billing"
	"github.com/cenety/saaskit/pkg/jwt"
	"github.com/cenety/saaskit/pkg/logger"
	"github.com/cenety/saaskit/pkg/ratelimit"
)

// Syncer reconciles local subscription state with the payment providers.
// *billing.Synchronizer implements it.
type Syncer interface {
	SyncFromProvider(ctx context.Context, userID uuid.UUID) billing.SyncResult
	SyncFromCheckoutSession(ctx context.Context, userID uuid.UUID, provider billing.Provider, sessionID string) billing.SyncResult
	HandleWebhook(ctx context.Context, provider billing.Provider, payload []byte, header http.Header) error
	CustomerPortalURL(ctx context.Context, userID uuid.UUID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, userID uuid.UUID) billing.SyncResult
	ReactivateSubscription(ctx context.Context, userID uuid.UUID) billing.SyncResult
}

// LimitChecker reports plan limit usage. *billing.Enforcer implements it.
type LimitChecker interface {
	CheckLimit(ctx context.Context, userID uuid.UUID, resource billing.Resource) billing.LimitResult
	Usage(ctx context.Context, userID uuid.UUID) []billing.LimitResult
	CanDowngrade(ctx context.Context, userID uuid.UUID, targetKey string) error
}

// Module serves the billing HTTP endpoints.
type Module struct {
	plans    billing.PlanResolver
	sync     Syncer
	limits   LimitChecker
	sessions *jwt.Service

	cookie          string
	refreshLimiter  *ratelimit.Limiter
	portalReturnURL string
	log             *slog.Logger
	onError         handler.ErrorHandler
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the logger for request failures and webhook outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.log = l
		}
	}
}

// WithSessionCookie sets the name of the cookie holding the session token.
func WithSessionCookie(name string) Option {
	return func(m *Module) {
		if name != "" {
			m.cookie = name
		}
	}
}

// WithRefreshLimiter throttles POST /billing/refresh per user.
func WithRefreshLimiter(l *ratelimit.Limiter) Option {
	return func(m *Module) {
		m.refreshLimiter = l
	}
}

// WithPortalReturnURL sets where the provider portal sends users back to.
func WithPortalReturnURL(url string) Option {
	return func(m *Module) {
		m.portalReturnURL = url
	}
}

// New panics when a dependency is nil.
func New(plans billing.PlanResolver, sync Syncer, limits LimitChecker, sessions *jwt.Service, opts ...Option) *Module {
	if plans == nil || sync == nil || limits == nil || sessions == nil {
		panic("billingapi: plans, sync, limits and sessions are required")
	}
	m := &Module{
		plans:    plans,
		sync:     sync,
		limits:   limits,
		sessions: sessions,
		cookie:   "session",
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.onError = handler.NewErrorHandler(m.log)
	return m
}

// Handle returns the router with every billing route mounted.
//
//	r := chi.NewRouter()
//	r.Mount("/", billingapi.New(resolver, synchronizer, enforcer, sessions).Handle())
func (m *Module) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/billing/plans", m.wrap(m.listPlans))
	r.Post("/webhooks/stripe", m.webhook(billing.ProviderStripe))
	r.Post("/webhooks/polar", m.webhook(billing.ProviderPolar))

	r.Group(func(r chi.Router) {
		r.Use(jwt.Middleware(m.sessions,
			jwt.WithCookieName(m.cookie),
			jwt.WithErrorHandler(m.authError),
		))

		r.Get("/billing/plan", m.wrap(m.currentPlan))
		r.Get("/billing/plans/{key}/compare", m.wrap(m.comparePlan))
		r.Get("/billing/checkout/return", m.wrap(m.checkoutReturn))
		r.Get("/billing/limits", m.wrap(m.usage))
		r.Get("/billing/limits/{resource}", m.wrap(m.checkLimit))
		r.Post("/billing/portal", m.wrap(m.portal))
		r.Post("/billing/subscription/cancel", m.wrap(m.cancelSubscription))
		r.Post("/billing/subscription/reactivate", m.wrap(m.reactivateSubscription))

		refresh := r.With()
		if m.refreshLimiter != nil {
			refresh = r.With(ratelimit.Middleware(m.refreshLimiter, userKey,
				ratelimit.WithOnLimitReached(m.throttled),
			))
		}
		refresh.Post("/billing/refresh", m.wrap(m.refresh))

		r.Route("/admin/billing/users/{id}", func(r chi.Router) {
			r.Use(jwt.RequireRole(jwt.RoleAdmin, jwt.WithErrorHandler(m.authError)))
			r.Get("/plan", m.wrap(m.adminPlan))
			r.Post("/sync", m.wrap(m.adminSync))
		})
	})

	return r
}

func (m *Module) wrap(h handler.HandlerFunc) http.HandlerFunc {
	return handler.Wrap(h, handler.WithErrorHandler(m.onError))
}

func (m *Module) authError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, jwt.ErrForbidden) {
		m.onError(w, r, handler.ErrForbidden)
		return
	}
	m.onError(w, r, handler.ErrUnauthorized)
}

func (m *Module) throttled(w http.ResponseWriter, r *http.Request, _ ratelimit.Result) {
	m.onError(w, r, handler.ErrTooManyRequests.WithMessage("Too many refresh requests. Please try again later."))
}

func userKey(r *http.Request) string {
	if id := jwt.UserIDFromContext(r.Context()); id != uuid.Nil {
		return "refresh:" + id.String()
	}
	return ""
}
