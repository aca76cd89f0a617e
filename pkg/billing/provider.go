package billing

import (
	"context"
	"net/http"
)

// PaymentProvider abstracts Stripe and Polar behind normalized types.
// Implementations return ErrProviderUnavailable (joined with the cause) for
// network and API failures, and the matching not-found sentinel when the
// provider reports a missing object.
type PaymentProvider interface {
	// Name returns the provider tag used on snapshots and stored selectors.
	Name() Provider

	// FindCustomerByEmail returns the provider customer id for email.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)

	// ListActiveSubscriptions returns the customer's subscriptions in
	// active or trialing status, in provider order.
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]Snapshot, error)

	// GetSubscription retrieves a subscription by id.
	GetSubscription(ctx context.Context, subscriptionID string) (Snapshot, error)

	// SetCancelAtPeriodEnd schedules (cancel=true) or revokes the
	// cancellation of a subscription at the end of its paid period and
	// returns the updated subscription.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (Snapshot, error)

	// GetCheckoutSession retrieves a hosted checkout by id.
	GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)

	// CustomerPortalURL creates a short-lived self-service portal link.
	CustomerPortalURL(ctx context.Context, customerID, returnURL string) (string, error)

	// ParseWebhook verifies the request signature and normalizes the event.
	ParseWebhook(payload []byte, header http.Header) (WebhookEvent, error)
}

// WebhookEventKind is the normalized meaning of a provider event.
type WebhookEventKind string

const (
	WebhookIgnored              WebhookEventKind = "ignored"
	WebhookCheckoutCompleted    WebhookEventKind = "checkout_completed"
	WebhookSubscriptionChanged  WebhookEventKind = "subscription_changed"
	WebhookSubscriptionCanceled WebhookEventKind = "subscription_canceled"
)

// WebhookEvent is a verified, provider-neutral webhook notification.
// The synchronizer re-fetches SubscriptionID from the provider, so only
// routing keys are carried here.
type WebhookEvent struct {
	ID              string
	Type            string // raw provider event type
	Kind            WebhookEventKind
	SubscriptionID  string
	CustomerID      string
	CustomerEmail   string
	ClientReference string
	PriceID         string
}
