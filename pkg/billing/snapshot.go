package billing

import (
	"cmp"
	"slices"
	"time"
)

// Snapshot is the provider-reported subscription state, normalized so
// that resolution and enforcement never branch on provider identity.
type Snapshot struct {
	Provider          Provider
	CustomerID        string
	SubscriptionID    string
	PriceID           string
	Status            string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	CreatedAt         time.Time
}

// Active reports whether the subscription grants a paid plan at now.
// A missing period end is treated as expired.
func (s Snapshot) Active(now time.Time) bool {
	if s.Status != StatusActive && s.Status != StatusTrialing {
		return false
	}
	return s.CurrentPeriodEnd.After(now)
}

// Fields converts the snapshot into the cached user columns.
func (s Snapshot) Fields() SubscriptionFields {
	return SubscriptionFields{
		CustomerID:       s.CustomerID,
		SubscriptionID:   s.SubscriptionID,
		PriceID:          s.PriceID,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		Status:            s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
}

// pickLatest returns the most recently created subscription.
// Ties are broken by the greatest subscription id so the choice never
// depends on the provider's listing order.
func pickLatest(subs []Snapshot) (Snapshot, bool) {
	if len(subs) == 0 {
		return Snapshot{}, false
	}
	return slices.MaxFunc(subs, func(a, b Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SubscriptionID, b.SubscriptionID)
	}), true
}

// CheckoutSession is the provider-reported state of a hosted checkout.
type CheckoutSession struct {
	ID             string
	Provider       Provider
	Completed      bool
	Status         string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	PriceID        string
	// ClientReference is the user id the checkout was opened for, when the
	// integration passed one (Stripe client_reference_id, Polar external id).
	ClientReference string
}
