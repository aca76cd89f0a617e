package billing

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionFields are the cached subscription columns of one provider.
type SubscriptionFields struct {
	CustomerID       string
	SubscriptionID   string
	PriceID          string // Stripe price id or Polar product id
	CurrentPeriodEnd time.Time

	// From the subscriptions ledger row of SubscriptionID, if any.
	Status            string
	CancelAtPeriodEnd bool
}

// User is the identity record with cached provider subscription state.
// Subscription fields are written only by the Synchronizer.
type User struct {
	ID              uuid.UUID
	Email           string
	Role            Role
	PaymentProvider Provider
	Stripe          SubscriptionFields
	Polar           SubscriptionFields
	UpdatedAt time.Time
}

// Fields returns the cached subscription fields for provider.
func (u User) Fields(p Provider) SubscriptionFields {
	switch p {
	case ProviderStripe:
		return u.Stripe
	case ProviderPolar:
		return u.Polar
	}
	return SubscriptionFields{}
}

// IsAdmin reports whether the user has the ADMIN role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// providerOrder returns the user's selected provider first, followed by
// the remaining providers in default order.
func (u User) providerOrder() []Provider {
	order := make([]Provider, 0, len(Providers))
	if u.PaymentProvider != ProviderNone && u.PaymentProvider != "" {
		order = append(order, u.PaymentProvider)
	}
	for _, p := range Providers {
		if p != u.PaymentProvider {
			order = append(order, p)
		}
	}
	return order
}

// UserLookup carries the keys a webhook can be routed by.
// Empty keys are skipped.
type UserLookup struct {
	UserID         uuid.UUID
	CustomerID     string
	SubscriptionID string
	Email          string
}
