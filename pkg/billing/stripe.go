package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/cenety/saaskit/pkg/logger"
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	// APIURL overrides the API base URL. Used against stripe-mock and tests.
	APIURL  string        `env:"STRIPE_API_URL"`
	Timeout time.Duration `env:"STRIPE_TIMEOUT" envDefault:"15s"`
}

// Enabled reports whether an API key is configured.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != ""
}

// StripeProvider adapts the Stripe API to PaymentProvider.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider builds a client that makes a single attempt per call and
// routes SDK logs to log.
func NewStripeProvider(cfg StripeConfig, log *slog.Logger) (*StripeProvider, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY is empty", ErrProviderNotConfigured)
	}
	if log == nil {
		log = logger.Discard()
	}

	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     stripeLogger{log: log.With(logger.Component("stripe"))},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}

	return &StripeProvider{
		api:           client.New(cfg.SecretKey, stripe.NewBackendsWithConfig(bc)),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (p *StripeProvider) Name() Provider { return ProviderStripe }

func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	it := p.api.Customers.List(params)
	if it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", stripeError(err, ErrCustomerNotFound)
	}
	return "", ErrCustomerNotFound
}

// ListActiveSubscriptions lists active and trialing subscriptions. Stripe
// filters on a single status per request and omits trialing ones from
// status=active, so both statuses are fetched.
func (p *StripeProvider) ListActiveSubscriptions(ctx context.Context, customerID string) ([]Snapshot, error) {
	var subs []Snapshot
	for _, status := range []stripe.SubscriptionStatus{stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing} {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String(string(status)),
		}
		params.Context = ctx

		it := p.api.Subscriptions.List(params)
		for it.Next() {
			subs = append(subs, stripeSnapshot(it.Subscription()))
		}
		if err := it.Err(); err != nil {
			return nil, stripeError(err, ErrCustomerNotFound)
		}
	}
	return subs, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (Snapshot, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return Snapshot{}, stripeError(err, ErrSubscriptionNotFound)
	}
	return stripeSnapshot(sub), nil
}

// SetCancelAtPeriodEnd toggles cancel_at_period_end on the subscription.
func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (Snapshot, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return Snapshot{}, stripeError(err, ErrSubscriptionNotFound)
	}
	return stripeSnapshot(sub), nil
}

func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	cs, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return CheckoutSession{}, stripeError(err, ErrCheckoutNotFound)
	}

	out := CheckoutSession{
		ID:              cs.ID,
		Provider:        ProviderStripe,
		Status:          string(cs.Status),
		Completed:       cs.Status == stripe.CheckoutSessionStatusComplete,
		CustomerEmail:   cs.CustomerEmail,
		ClientReference: cs.ClientReferenceID,
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		out.CustomerEmail = cs.CustomerDetails.Email
	}
	if cs.Subscription != nil {
		out.SubscriptionID = cs.Subscription.ID
	}
	return out, nil
}

func (p *StripeProvider) CustomerPortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", stripeError(err, ErrCustomerNotFound)
	}
	return sess.URL, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (p *StripeProvider) ParseWebhook(payload []byte, header http.Header) (WebhookEvent, error) {
	if p.webhookSecret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is empty", ErrProviderNotConfigured)
	}

	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, errors.Join(ErrInvalidSignature, err)
	}

	evt := WebhookEvent{ID: event.ID, Type: string(event.Type), Kind: WebhookIgnored}
	if event.Data == nil {
		return evt, nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return evt, errors.Join(ErrInvalidPayload, err)
		}
		evt.Kind = WebhookCheckoutCompleted
		evt.ClientReference = cs.ClientReferenceID
		evt.CustomerEmail = cs.CustomerEmail
		if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
			evt.CustomerEmail = cs.CustomerDetails.Email
		}
		if cs.Customer != nil {
			evt.CustomerID = cs.Customer.ID
		}
		if cs.Subscription != nil {
			evt.SubscriptionID = cs.Subscription.ID
		}

	case stripe.EventTypeInvoicePaymentSucceeded:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return evt, errors.Join(ErrInvalidPayload, err)
		}
		evt.Kind = WebhookSubscriptionChanged
		evt.CustomerEmail = inv.CustomerEmail
		if inv.Customer != nil {
			evt.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			evt.SubscriptionID = inv.Subscription.ID
		}

	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionResumed,
		stripe.EventTypeCustomerSubscriptionPaused,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return evt, errors.Join(ErrInvalidPayload, err)
		}
		snap := stripeSnapshot(&sub)
		evt.Kind = WebhookSubscriptionChanged
		if event.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			evt.Kind = WebhookSubscriptionCanceled
		}
		evt.SubscriptionID = snap.SubscriptionID
		evt.CustomerID = snap.CustomerID
		evt.PriceID = snap.PriceID
	}

	return evt, nil
}

func stripeSnapshot(sub *stripe.Subscription) Snapshot {
	snap := Snapshot{
		Provider:          ProviderStripe,
		SubscriptionID:    sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		snap.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Created > 0 {
		snap.CreatedAt = time.Unix(sub.Created, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		snap.PriceID = sub.Items.Data[0].Price.ID
	}
	return snap
}

// stripeError maps a missing-object response to notFound and everything
// else to ErrProviderUnavailable.
func stripeError(err error, notFound error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound {
			return errors.Join(notFound, err)
		}
	}
	return errors.Join(ErrProviderUnavailable, err)
}

// stripeLogger routes SDK logs to slog. SDK info output is demoted to debug.
type stripeLogger struct {
	log *slog.Logger
}

func (l stripeLogger) Debugf(format string, v ...any) { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l stripeLogger) Infof(format string, v ...any)  { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l stripeLogger) Warnf(format string, v ...any)  { l.log.Warn(fmt.Sprintf(format, v...)) }
func (l stripeLogger) Errorf(format string, v ...any) { l.log.Error(fmt.Sprintf(format, v...)) }
