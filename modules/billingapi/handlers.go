package billingapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/cenety/saaskit/handler"
	"github.com/cenety/saaskit/pkg/billing"
	"github.com/cenety/saaskit/pkg/binder"
	"github.com/cenety/saaskit/pkg/jwt"
	"github.com/cenety/saaskit/pkg/logger"
)

// MaxWebhookBodySize bounds webhook payloads.
const MaxWebhookBodySize = 1 << 20

// CheckoutReturnRequest carries the provider checkout id appended to the
// success URL: session_id for Stripe, checkout_id for Polar.
type CheckoutReturnRequest struct {
	SessionID  string `query:"session_id"`
	CheckoutID string `query:"checkout_id"`
}

// PortalRequest optionally overrides the portal return URL.
type PortalRequest struct {
	ReturnURL string `json:"return_url"`
}

// PortalResponse is the body of POST /billing/portal.
type PortalResponse struct {
	URL string `json:"url"`
}

// CompareResponse is the body of GET /billing/plans/{key}/compare.
type CompareResponse struct {
	Current      string                 `json:"current"`
	Target       string                 `json:"target"`
	Comparison   billing.PlanComparison `json:"comparison"`
	CanDowngrade bool                   `json:"can_downgrade"`
	Blockers     string                 `json:"blockers,omitempty"`
}

type adminPath struct {
	UserID uuid.UUID `path:"id"`
}

func (m *Module) listPlans(_ *http.Request) handler.Response {
	return handler.JSON(m.plans.Catalog().Plans())
}

func (m *Module) currentPlan(r *http.Request) handler.Response {
	return m.resolve(r, jwt.UserIDFromContext(r.Context()))
}

// resolve serves the default plan when the store cannot be read, so pages
// keep rendering during a database outage.
func (m *Module) resolve(r *http.Request, userID uuid.UUID) handler.Response {
	plan, err := m.plans.ResolvePlan(r.Context(), userID)
	switch {
	case errors.Is(err, billing.ErrUserNotFound):
		return handler.Error(handler.ErrNotFound.WithMessage("User not found"))
	case err != nil:
		m.log.ErrorContext(r.Context(), "plan resolution failed, serving default plan",
			logger.UserID(userID),
			logger.Error(err),
		)
		def := m.plans.Catalog().Default()
		return handler.JSON(billing.ResolvedPlan{
			Plan:     def,
			Title:    def.Title,
			Limits:   def.Limits,
			Provider: billing.ProviderNone,
		})
	}
	return handler.JSON(plan)
}

func (m *Module) comparePlan(r *http.Request) handler.Response {
	ctx := r.Context()
	userID := jwt.UserIDFromContext(ctx)

	var req struct {
		Key string `path:"key"`
	}
	if err := binder.Path(r, &req); err != nil {
		return handler.Error(handler.ErrBadRequest.WithMessage(err.Error()))
	}
	target, ok := m.plans.Catalog().Plan(req.Key)
	if !ok {
		return handler.Error(handler.ErrNotFound.WithMessage("Plan not found"))
	}
	current, err := m.plans.ResolvePlan(ctx, userID)
	if err != nil {
		return handler.Error(err)
	}

	resp := CompareResponse{
		Current:      current.Plan.Key,
		Target:       target.Key,
		Comparison:   billing.ComparePlans(current.Plan, target),
		CanDowngrade: true,
	}
	if resp.Comparison.HasResourceDecreases() {
		if err := m.limits.CanDowngrade(ctx, userID, target.Key); err != nil {
			if !errors.Is(err, billing.ErrDowngradeNotPossible) {
				return handler.Error(err)
			}
			resp.CanDowngrade = false
			resp.Blockers = err.Error()
		}
	}
	return handler.JSON(resp)
}

func (m *Module) refresh(r *http.Request) handler.Response {
	res := m.sync.SyncFromProvider(r.Context(), jwt.UserIDFromContext(r.Context()))
	return handler.JSON(res, handler.WithStatus(SyncStatus(res)))
}

func (m *Module) cancelSubscription(r *http.Request) handler.Response {
	res := m.sync.CancelSubscription(r.Context(), jwt.UserIDFromContext(r.Context()))
	return handler.JSON(res, handler.WithStatus(SyncStatus(res)))
}

func (m *Module) reactivateSubscription(r *http.Request) handler.Response {
	res := m.sync.ReactivateSubscription(r.Context(), jwt.UserIDFromContext(r.Context()))
	return handler.JSON(res, handler.WithStatus(SyncStatus(res)))
}

func (m *Module) checkoutReturn(r *http.Request) handler.Response {
	var req CheckoutReturnRequest
	if err := binder.Query(r, &req); err != nil {
		return handler.Error(handler.ErrBadRequest.WithMessage(err.Error()))
	}

	provider, id := billing.ProviderStripe, req.SessionID
	if id == "" {
		provider, id = billing.ProviderPolar, req.CheckoutID
	}
	if id == "" {
		res := billing.SyncResult{Message: billing.FailureMessage(billing.ErrInvalidInput), Err: billing.ErrInvalidInput}
		return handler.JSON(res, handler.WithStatus(SyncStatus(res)))
	}

	res := m.sync.SyncFromCheckoutSession(r.Context(), jwt.UserIDFromContext(r.Context()), provider, id)
	return handler.JSON(res, handler.WithStatus(SyncStatus(res)))
}

func (m *Module) usage(r *http.Request) handler.Response {
	return handler.JSON(m.limits.Usage(r.Context(), jwt.UserIDFromContext(r.Context())))
}

func (m *Module) checkLimit(r *http.Request) handler.Response {
	var req struct {
		Resource string `path:"resource"`
	}
	if err := binder.Path(r, &req); err != nil {
		return handler.Error(handler.ErrBadRequest.WithMessage(err.Error()))
	}
	resource := billing.Resource(req.Resource)
	if !resource.Valid() {
		return handler.Error(handler.ErrBadRequest.WithMessage("Unknown resource type"))
	}
	return handler.JSON(m.limits.CheckLimit(r.Context(), jwt.UserIDFromContext(r.Context()), resource))
}

func (m *Module) portal(r *http.Request) handler.Response {
	var req PortalRequest
	if err := binder.JSON(r, &req); err != nil {
		return handler.Error(handler.ErrBadRequest.WithMessage(err.Error()))
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = m.portalReturnURL
	}

	url, err := m.sync.CustomerPortalURL(r.Context(), jwt.UserIDFromContext(r.Context()), returnURL)
	switch {
	case errors.Is(err, billing.ErrCustomerNotFound), errors.Is(err, billing.ErrUserNotFound):
		return handler.Error(handler.ErrNotFound.WithMessage(billing.FailureMessage(billing.ErrCustomerNotFound)))
	case errors.Is(err, billing.ErrProviderNotConfigured):
		return handler.Error(handler.ErrServiceUnavailable.WithMessage(billing.FailureMessage(err)))
	case errors.Is(err, billing.ErrProviderUnavailable):
		return handler.Error(handler.ErrServiceUnavailable.WithMessage(billing.FailureMessage(err)))
	case err != nil:
		return handler.Error(err)
	}
	return handler.JSON(PortalResponse{URL: url})
}

func (m *Module) adminPlan(r *http.Request) handler.Response {
	var p adminPath
	if err := binder.Path(r, &p); err != nil {
		return handler.Error(handler.ErrBadRequest.WithMessage("Invalid user id"))
	}
	return m.resolve(r, p.UserID)
}

func (m *Module) adminSync(r *http.Request) handler.Response {
	var p adminPath
	if err := binder.Path(r, &p); err != nil {
		return handler.Error(handler.ErrBadRequest.WithMessage("Invalid user id"))
	}
	res := m.sync.SyncFromProvider(r.Context(), p.UserID)
	if errors.Is(res.Err, billing.ErrUserNotFound) {
		return handler.JSON(res, handler.WithStatus(http.StatusNotFound))
	}
	return handler.JSON(res, handler.WithStatus(SyncStatus(res)))
}

// webhook answers 2xx only once the event is applied or deliberately
// ignored; any other failure makes the provider retry.
func (m *Module) webhook(provider billing.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodySize))
		if err != nil {
			m.onError(w, r, handler.ErrBadRequest.WithMessage("Unreadable payload"))
			return
		}

		err = m.sync.HandleWebhook(r.Context(), provider, payload, r.Header)
		switch {
		case err == nil:
			_ = handler.JSON(map[string]bool{"received": true}).Render(w, r)
		case errors.Is(err, billing.ErrInvalidSignature):
			m.onError(w, r, handler.ErrBadRequest.WithMessage("Invalid signature"))
		case errors.Is(err, billing.ErrInvalidPayload):
			m.onError(w, r, handler.ErrBadRequest.WithMessage("Invalid payload"))
		case errors.Is(err, billing.ErrProviderNotConfigured):
			m.onError(w, r, handler.ErrServiceUnavailable.WithMessage("Webhook provider not configured"))
		default:
			m.log.ErrorContext(r.Context(), "webhook processing failed",
				logger.Provider(string(provider)),
				logger.Error(err),
			)
			m.onError(w, r, handler.ErrInternal.WithMessage("Webhook processing failed"))
		}
	}
}
