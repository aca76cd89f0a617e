package billing_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cenety/saaskit/pkg/billing"
)

type syncFixture struct {
	store  *MockStore
	stripe *MockProvider
	polar  *MockProvider
	audit  *recordingAudit
	obs    *recordingObserver
	inv    *countingInvalidator
	sync   *billing.Synchronizer
}

func newSyncFixture(withProviders ...billing.Provider) *syncFixture {
	f := &syncFixture{
		store:  new(MockStore),
		stripe: newMockProvider(billing.ProviderStripe),
		polar:  newMockProvider(billing.ProviderPolar),
		audit:  &recordingAudit{},
		obs:    &recordingObserver{},
		inv:    &countingInvalidator{},
	}
	if len(withProviders) == 0 {
		withProviders = billing.Providers
	}

	opts := []billing.SyncOption{
		billing.WithAuditLogger(f.audit),
		billing.WithObserver(f.obs),
		billing.WithInvalidator(f.inv),
		billing.WithSyncClock(fixedClock),
	}
	for _, p := range withProviders {
		switch p {
		case billing.ProviderStripe:
			opts = append(opts, billing.WithProvider(f.stripe))
		case billing.ProviderPolar:
			opts = append(opts, billing.WithProvider(f.polar))
		}
	}

	f.sync = billing.NewSynchronizer(f.store, newTestResolver(f.store), opts...)
	return f
}

func (f *syncFixture) assertNoWrites(t *testing.T) {
	t.Helper()
	f.store.AssertNotCalled(t, "SaveSnapshot", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "ClearSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "SetCustomerID", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.inv.count())
}

func activeSnapshot(id, price string, created time.Time) billing.Snapshot {
	return billing.Snapshot{
		SubscriptionID:   id,
		PriceID:          price,
		Status:           billing.StatusActive,
		CurrentPeriodEnd: testNow.Add(30 * 24 * time.Hour),
		CreatedAt:        created,
	}
}

func TestSynchronizer_SyncFromProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("stores most recent active subscription", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture(billing.ProviderStripe)
		userID := uuid.New()
		user := billing.User{ID: userID, Email: "ann@example.com", Stripe: billing.SubscriptionFields{CustomerID: "cus_1"}}

		older := activeSnapshot("sub_old", "price_pro_month", testNow.Add(-48*time.Hour))
		newer := activeSnapshot("sub_new", "price_ent_year", testNow.Add(-time.Hour))
		ended := activeSnapshot("sub_ended", "price_ent_month", testNow)
		ended.CurrentPeriodEnd = testNow.Add(-time.Minute)

		want := newer
		want.Provider = billing.ProviderStripe
		want.CustomerID = "cus_1"

		synced := user
		synced.PaymentProvider = billing.ProviderStripe
		synced.Stripe = want.Fields()

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil).Once()
		f.store.On("GetUser", mock.Anything, userID).Return(synced, nil)
		f.stripe.On("ListActiveSubscriptions", mock.Anything, "cus_1").Return([]billing.Snapshot{older, ended, newer}, nil)
		f.store.On("SaveSnapshot", mock.Anything, userID, want).Return(true, nil)

		res := f.sync.SyncFromProvider(ctx, userID)
		require.True(t, res.Success, res.Message)
		assert.True(t, res.Changed)
		require.NotNil(t, res.Plan)
		assert.Equal(t, "enterprise", res.Plan.Plan.Key)
		assert.Equal(t, billing.IntervalYearly, res.Plan.Interval)
		assert.Equal(t, "Subscription synchronized: Enterprise plan", res.Message)
		assert.Equal(t, 1, f.inv.count())
		assert.Equal(t, []string{billing.AuditSubscriptionSynced}, f.audit.actions())
		assert.Equal(t, []string{billing.OutcomeSynced}, f.obs.outcomes)
		f.stripe.AssertNotCalled(t, "FindCustomerByEmail", mock.Anything, mock.Anything)
		f.store.AssertExpectations(t)
	})

	t.Run("discovers customer by email", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture(billing.ProviderStripe)
		userID := uuid.New()
		user := billing.User{ID: userID, Email: "bob@example.com"}

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil)
		f.stripe.On("FindCustomerByEmail", mock.Anything, "bob@example.com").Return("cus_found", nil)
		f.stripe.On("ListActiveSubscriptions", mock.Anything, "cus_found").Return([]billing.Snapshot{}, nil)
		f.store.On("SetCustomerID", mock.Anything, userID, billing.ProviderStripe, "cus_found").Return(nil)

		res := f.sync.SyncFromProvider(ctx, userID)
		require.True(t, res.Success)
		assert.False(t, res.Changed)
		assert.Equal(t, "No active subscription found", res.Message)
		require.NotNil(t, res.Plan)
		assert.Equal(t, "free", res.Plan.Plan.Key)
		f.store.AssertNotCalled(t, "ClearSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.store.AssertExpectations(t)
	})

	t.Run("clears stale subscription when none is active", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture(billing.ProviderStripe)
		userID := uuid.New()
		user := billing.User{
			ID:              userID,
			PaymentProvider: billing.ProviderStripe,
			Stripe: billing.SubscriptionFields{
				CustomerID:       "cus_1",
				SubscriptionID:   "sub_1",
				PriceID:          "price_pro_month",
				CurrentPeriodEnd: testNow.Add(time.Hour),
			},
		}

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil)
		f.stripe.On("ListActiveSubscriptions", mock.Anything, "cus_1").Return([]billing.Snapshot{}, nil)
		f.store.On("ClearSubscription", mock.Anything, userID, billing.ProviderStripe, "").Return(true, nil)

		res := f.sync.SyncFromProvider(ctx, userID)
		require.True(t, res.Success)
		assert.True(t, res.Changed)
		assert.Equal(t, 1, f.inv.count())
		assert.Equal(t, []string{billing.AuditSubscriptionCleared}, f.audit.actions())
		assert.Equal(t, []string{billing.OutcomeNoSubscription}, f.obs.outcomes)
	})

	t.Run("provider outage keeps local state", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture(billing.ProviderStripe)
		userID := uuid.New()
		user := billing.User{
			ID:     userID,
			Stripe: billing.SubscriptionFields{CustomerID: "cus_1", SubscriptionID: "sub_1", PriceID: "price_pro_month"},
		}

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil)
		f.stripe.On("ListActiveSubscriptions", mock.Anything, "cus_1").
			Return(nil, errors.Join(billing.ErrProviderUnavailable, errors.New("502 bad gateway")))

		res := f.sync.SyncFromProvider(ctx, userID)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, billing.ErrProviderUnavailable)
		assert.Contains(t, res.Message, "temporarily unavailable")
		f.assertNoWrites(t)
		assert.Equal(t, []string{billing.AuditSyncFailed}, f.audit.actions())
		assert.Equal(t, []string{billing.OutcomeFailed}, f.obs.outcomes)
	})

	t.Run("falls back to the other provider", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		user := billing.User{
			ID:              userID,
			PaymentProvider: billing.ProviderStripe,
			Stripe:          billing.SubscriptionFields{CustomerID: "cus_1"},
			Polar:           billing.SubscriptionFields{CustomerID: "polar_cus"},
		}
		sub := activeSnapshot("polar_sub", "8bc98233-3a2c-46e5-ae90-c71ac7b4e22f", testNow.Add(-time.Hour))
		want := sub
		want.Provider = billing.ProviderPolar
		want.CustomerID = "polar_cus"

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil)
		f.stripe.On("ListActiveSubscriptions", mock.Anything, "cus_1").Return([]billing.Snapshot{}, nil)
		f.polar.On("ListActiveSubscriptions", mock.Anything, "polar_cus").Return([]billing.Snapshot{sub}, nil)
		f.store.On("SaveSnapshot", mock.Anything, userID, want).Return(true, nil)

		res := f.sync.SyncFromProvider(ctx, userID)
		require.True(t, res.Success, res.Message)
		f.store.AssertCalled(t, "SaveSnapshot", mock.Anything, userID, want)
	})

	t.Run("trialing subscription stays paid", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture(billing.ProviderStripe)
		userID := uuid.New()

		trial := activeSnapshot("sub_trial", "price_pro_month", testNow.Add(-time.Hour))
		trial.Status = billing.StatusTrialing
		want := trial
		want.Provider = billing.ProviderStripe
		want.CustomerID = "cus_1"

		user := billing.User{
			ID:              userID,
			PaymentProvider: billing.ProviderStripe,
			Stripe:          want.Fields(),
		}

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil)
		f.stripe.On("ListActiveSubscriptions", mock.Anything, "cus_1").Return([]billing.Snapshot{trial}, nil)
		f.store.On("SaveSnapshot", mock.Anything, userID, want).Return(false, nil)

		res := f.sync.SyncFromProvider(ctx, userID)
		require.True(t, res.Success, res.Message)
		assert.False(t, res.Changed)
		require.NotNil(t, res.Plan)
		assert.Equal(t, "pro", res.Plan.Plan.Key)
		assert.True(t, res.Plan.IsPaid)
		f.store.AssertNotCalled(t, "ClearSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("repeated sync against unchanged provider is idempotent", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture(billing.ProviderStripe)
		userID := uuid.New()
		user := billing.User{ID: userID, Stripe: billing.SubscriptionFields{CustomerID: "cus_1"}}

		sub := activeSnapshot("sub_1", "price_pro_month", testNow.Add(-time.Hour))
		want := sub
		want.Provider = billing.ProviderStripe
		want.CustomerID = "cus_1"

		synced := user
		synced.PaymentProvider = billing.ProviderStripe
		synced.Stripe = want.Fields()

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil).Once()
		f.store.On("GetUser", mock.Anything, userID).Return(synced, nil)
		f.stripe.On("ListActiveSubscriptions", mock.Anything, "cus_1").Return([]billing.Snapshot{sub}, nil)
		f.store.On("SaveSnapshot", mock.Anything, userID, want).Return(true, nil).Once()
		f.store.On("SaveSnapshot", mock.Anything, userID, want).Return(false, nil).Once()

		first := f.sync.SyncFromProvider(ctx, userID)
		second := f.sync.SyncFromProvider(ctx, userID)

		require.True(t, first.Success, first.Message)
		require.True(t, second.Success, second.Message)
		assert.True(t, first.Changed)
		assert.False(t, second.Changed)
		assert.Equal(t, first.Plan, second.Plan)
		f.store.AssertNumberOfCalls(t, "SaveSnapshot", 2)
		f.store.AssertNotCalled(t, "ClearSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.store.AssertExpectations(t)
	})

	t.Run("customer missing everywhere fails without writes", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		user := billing.User{ID: userID, Email: "ghost@example.com"}

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil)
		f.stripe.On("FindCustomerByEmail", mock.Anything, "ghost@example.com").Return("", billing.ErrCustomerNotFound)
		f.polar.On("FindCustomerByEmail", mock.Anything, "ghost@example.com").Return("", billing.ErrCustomerNotFound)

		res := f.sync.SyncFromProvider(ctx, userID)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, billing.ErrCustomerNotFound)
		assert.Equal(t, "No customer found for this account", res.Message)
		f.assertNoWrites(t)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(billing.User{}, billing.ErrUserNotFound)

		res := f.sync.SyncFromProvider(ctx, userID)
		assert.False(t, res.Success)
		assert.Equal(t, "User not found", res.Message)
	})

	t.Run("no providers configured", func(t *testing.T) {
		t.Parallel()

		store := new(MockStore)
		userID := uuid.New()
		store.On("GetUser", mock.Anything, userID).Return(billing.User{ID: userID}, nil)

		s := billing.NewSynchronizer(store, newTestResolver(store))
		res := s.SyncFromProvider(ctx, userID)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, billing.ErrProviderNotConfigured)
		assert.False(t, s.Configured(billing.ProviderStripe))
	})
}

func TestSynchronizer_SyncFromCheckoutSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty session id is rejected before any I/O", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		res := f.sync.SyncFromCheckoutSession(ctx, uuid.New(), billing.ProviderStripe, "  ")
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, billing.ErrInvalidInput)
		f.store.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything)
		f.stripe.AssertNotCalled(t, "GetCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture(billing.ProviderStripe)
		res := f.sync.SyncFromCheckoutSession(ctx, uuid.New(), billing.ProviderPolar, "chk_1")
		assert.ErrorIs(t, res.Err, billing.ErrProviderNotConfigured)
		assert.Contains(t, res.Message, "not configured")
	})

	t.Run("unknown session leaves rows untouched", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(billing.User{ID: userID}, nil)
		f.stripe.On("GetCheckoutSession", mock.Anything, "cs_missing").
			Return(billing.CheckoutSession{}, billing.ErrCheckoutNotFound)

		res := f.sync.SyncFromCheckoutSession(ctx, userID, billing.ProviderStripe, "cs_missing")
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, billing.ErrCheckoutNotFound)
		f.assertNoWrites(t)
	})

	t.Run("incomplete checkout", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(billing.User{ID: userID}, nil)
		f.stripe.On("GetCheckoutSession", mock.Anything, "cs_open").
			Return(billing.CheckoutSession{ID: "cs_open", Status: "open", ClientReference: userID.String()}, nil)

		res := f.sync.SyncFromCheckoutSession(ctx, userID, billing.ProviderStripe, "cs_open")
		assert.ErrorIs(t, res.Err, billing.ErrCheckoutIncomplete)
		assert.Equal(t, "Checkout not completed yet", res.Message)
		f.assertNoWrites(t)
	})

	t.Run("checkout of another account", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(billing.User{ID: userID, Email: "me@example.com"}, nil)
		f.stripe.On("GetCheckoutSession", mock.Anything, "cs_other").Return(billing.CheckoutSession{
			ID:              "cs_other",
			Completed:       true,
			SubscriptionID:  "sub_1",
			CustomerEmail:   "me@example.com",
			ClientReference: uuid.NewString(),
		}, nil)

		res := f.sync.SyncFromCheckoutSession(ctx, userID, billing.ProviderStripe, "cs_other")
		assert.ErrorIs(t, res.Err, billing.ErrCheckoutNotOwned)
		f.stripe.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
		f.assertNoWrites(t)
	})

	t.Run("applies subscription of completed checkout", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		user := billing.User{ID: userID, Email: "Buyer@Example.com"}

		sub := activeSnapshot("polar_sub", "77c6e131-56bc-46cf-8c5b-d8e6814a356b", testNow)
		want := sub
		want.Provider = billing.ProviderPolar
		want.CustomerID = "polar_cus"

		synced := user
		synced.PaymentProvider = billing.ProviderPolar
		synced.Polar = want.Fields()

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil).Once()
		f.store.On("GetUser", mock.Anything, userID).Return(synced, nil)
		f.polar.On("GetCheckoutSession", mock.Anything, "chk_1").Return(billing.CheckoutSession{
			ID:             "chk_1",
			Completed:      true,
			Status:         "succeeded",
			CustomerID:     "polar_cus",
			CustomerEmail:  "buyer@example.com",
			SubscriptionID: "polar_sub",
		}, nil)
		f.polar.On("GetSubscription", mock.Anything, "polar_sub").Return(sub, nil)
		f.store.On("SaveSnapshot", mock.Anything, userID, want).Return(true, nil)

		res := f.sync.SyncFromCheckoutSession(ctx, userID, billing.ProviderPolar, "chk_1")
		require.True(t, res.Success, res.Message)
		assert.True(t, res.Changed)
		require.NotNil(t, res.Plan)
		assert.Equal(t, "pro", res.Plan.Plan.Key)
		assert.True(t, res.Plan.IsPaid)
		assert.Equal(t, 1, f.inv.count())
		f.store.AssertExpectations(t)
	})

	t.Run("inactive subscription", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		sub := activeSnapshot("sub_1", "price_pro_month", testNow)
		sub.Status = billing.StatusPastDue

		f.store.On("GetUser", mock.Anything, userID).Return(billing.User{ID: userID}, nil)
		f.stripe.On("GetCheckoutSession", mock.Anything, "cs_1").Return(billing.CheckoutSession{
			ID: "cs_1", Completed: true, SubscriptionID: "sub_1", ClientReference: userID.String(),
		}, nil)
		f.stripe.On("GetSubscription", mock.Anything, "sub_1").Return(sub, nil)

		res := f.sync.SyncFromCheckoutSession(ctx, userID, billing.ProviderStripe, "cs_1")
		assert.ErrorIs(t, res.Err, billing.ErrNoActiveSubscription)
		f.assertNoWrites(t)
	})
}

func TestSynchronizer_HandleWebhook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	payload := []byte(`{}`)
	header := http.Header{}

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		f.stripe.On("ParseWebhook", payload, header).Return(billing.WebhookEvent{}, billing.ErrInvalidSignature)

		err := f.sync.HandleWebhook(ctx, billing.ProviderStripe, payload, header)
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture(billing.ProviderStripe)
		err := f.sync.HandleWebhook(ctx, billing.ProviderPolar, payload, header)
		assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
	})

	t.Run("ignored event", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		f.stripe.On("ParseWebhook", payload, header).
			Return(billing.WebhookEvent{Type: "customer.created", Kind: billing.WebhookIgnored}, nil)

		require.NoError(t, f.sync.HandleWebhook(ctx, billing.ProviderStripe, payload, header))
		f.stripe.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
		assert.Equal(t, []string{billing.OutcomeIgnored}, f.obs.outcomes)
	})

	t.Run("applies active subscription", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		sub := activeSnapshot("sub_1", "price_pro_month", testNow)
		sub.CustomerID = "cus_1"
		want := sub
		want.Provider = billing.ProviderStripe

		f.stripe.On("ParseWebhook", payload, header).Return(billing.WebhookEvent{
			Type:            "checkout.session.completed",
			Kind:            billing.WebhookCheckoutCompleted,
			SubscriptionID:  "sub_1",
			CustomerEmail:   "ann@example.com",
			ClientReference: userID.String(),
		}, nil)
		f.stripe.On("GetSubscription", mock.Anything, "sub_1").Return(sub, nil)
		f.store.On("FindUser", mock.Anything, billing.ProviderStripe, billing.UserLookup{
			UserID:         userID,
			CustomerID:     "cus_1",
			SubscriptionID: "sub_1",
			Email:          "ann@example.com",
		}).Return(billing.User{ID: userID}, nil)
		f.store.On("SaveSnapshot", mock.Anything, userID, want).Return(true, nil)

		require.NoError(t, f.sync.HandleWebhook(ctx, billing.ProviderStripe, payload, header))
		assert.Equal(t, 1, f.inv.count())
		assert.Equal(t, []string{billing.OutcomeSynced}, f.obs.outcomes)
		f.store.AssertExpectations(t)
	})

	t.Run("deleted subscription clears guarded by id", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()

		f.polar.On("ParseWebhook", payload, header).Return(billing.WebhookEvent{
			Type:           "subscription.revoked",
			Kind:           billing.WebhookSubscriptionCanceled,
			SubscriptionID: "polar_sub",
			CustomerID:     "polar_cus",
		}, nil)
		f.polar.On("GetSubscription", mock.Anything, "polar_sub").Return(billing.Snapshot{}, billing.ErrSubscriptionNotFound)
		f.store.On("FindUser", mock.Anything, billing.ProviderPolar, billing.UserLookup{
			CustomerID:     "polar_cus",
			SubscriptionID: "polar_sub",
		}).Return(billing.User{ID: userID}, nil)
		f.store.On("ClearSubscription", mock.Anything, userID, billing.ProviderPolar, "polar_sub").Return(true, nil)

		require.NoError(t, f.sync.HandleWebhook(ctx, billing.ProviderPolar, payload, header))
		assert.Equal(t, []string{billing.AuditSubscriptionCleared}, f.audit.actions())
		assert.Equal(t, 1, f.inv.count())
		f.store.AssertNotCalled(t, "SaveSnapshot", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown user is acknowledged", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		f.stripe.On("ParseWebhook", payload, header).Return(billing.WebhookEvent{
			Kind: billing.WebhookSubscriptionChanged, SubscriptionID: "sub_1",
		}, nil)
		f.stripe.On("GetSubscription", mock.Anything, "sub_1").Return(activeSnapshot("sub_1", "price_pro_month", testNow), nil)
		f.store.On("FindUser", mock.Anything, billing.ProviderStripe, mock.Anything).Return(billing.User{}, billing.ErrUserNotFound)

		require.NoError(t, f.sync.HandleWebhook(ctx, billing.ProviderStripe, payload, header))
		f.assertNoWrites(t)
	})

	t.Run("unknown subscription is acknowledged", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		f.stripe.On("ParseWebhook", payload, header).Return(billing.WebhookEvent{
			Kind: billing.WebhookSubscriptionChanged, SubscriptionID: "sub_gone",
		}, nil)
		f.stripe.On("GetSubscription", mock.Anything, "sub_gone").Return(billing.Snapshot{}, billing.ErrSubscriptionNotFound)

		require.NoError(t, f.sync.HandleWebhook(ctx, billing.ProviderStripe, payload, header))
		f.store.AssertNotCalled(t, "FindUser", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("provider outage asks for retry", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		f.stripe.On("ParseWebhook", payload, header).Return(billing.WebhookEvent{
			Kind: billing.WebhookSubscriptionChanged, SubscriptionID: "sub_1",
		}, nil)
		f.stripe.On("GetSubscription", mock.Anything, "sub_1").Return(billing.Snapshot{}, billing.ErrProviderUnavailable)

		err := f.sync.HandleWebhook(ctx, billing.ProviderStripe, payload, header)
		assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
		f.assertNoWrites(t)
	})
}

func TestSynchronizer_CustomerPortalURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("uses the provider holding a customer", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(billing.User{
			ID:    userID,
			Polar: billing.SubscriptionFields{CustomerID: "polar_cus"},
		}, nil)
		f.polar.On("CustomerPortalURL", mock.Anything, "polar_cus", "https://app.example.com/billing").
			Return("https://polar.sh/portal/abc", nil)

		url, err := f.sync.CustomerPortalURL(ctx, userID, "https://app.example.com/billing")
		require.NoError(t, err)
		assert.Equal(t, "https://polar.sh/portal/abc", url)
	})

	t.Run("no customer", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(billing.User{ID: userID}, nil)

		_, err := f.sync.CustomerPortalURL(ctx, userID, "")
		assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
	})
}

func TestSynchronizer_CancelSubscription(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	paidUser := func(userID uuid.UUID) billing.User {
		return billing.User{
			ID:              userID,
			PaymentProvider: billing.ProviderPolar,
			Polar: billing.SubscriptionFields{
				CustomerID:       "polar_cus",
				SubscriptionID:   "psub_1",
				PriceID:          "2a37d4e2-e513-4c3b-b463-9c79372a0e4f",
				CurrentPeriodEnd: testNow.Add(10 * 24 * time.Hour),
				Status:           billing.StatusActive,
			},
		}
	}

	t.Run("schedules cancellation and keeps the paid plan", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		user := paidUser(userID)

		snap := activeSnapshot("psub_1", "2a37d4e2-e513-4c3b-b463-9c79372a0e4f", testNow.Add(-time.Hour))
		snap.CancelAtPeriodEnd = true
		want := snap
		want.Provider = billing.ProviderPolar
		want.CustomerID = "polar_cus"
		canceled := user
		canceled.Polar = want.Fields()

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil).Once()
		f.store.On("GetUser", mock.Anything, userID).Return(canceled, nil)
		f.polar.On("SetCancelAtPeriodEnd", mock.Anything, "psub_1", true).Return(snap, nil)
		f.store.On("SaveSnapshot", mock.Anything, userID, want).Return(true, nil)

		res := f.sync.CancelSubscription(ctx, userID)
		require.True(t, res.Success, res.Message)
		assert.True(t, res.Changed)
		assert.Equal(t, "Subscription will be canceled at the end of the billing period", res.Message)
		require.NotNil(t, res.Plan)
		assert.Equal(t, "enterprise", res.Plan.Plan.Key)
		assert.True(t, res.Plan.IsPaid)
		assert.True(t, res.Plan.IsCanceled)
		assert.Equal(t, []string{billing.AuditCancelScheduled}, f.audit.actions())
		assert.Equal(t, 1, f.inv.count())
		f.stripe.AssertNotCalled(t, "SetCancelAtPeriodEnd", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reactivation revokes the cancellation", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		user := paidUser(userID)
		user.Polar.CancelAtPeriodEnd = true

		snap := activeSnapshot("psub_1", "2a37d4e2-e513-4c3b-b463-9c79372a0e4f", testNow.Add(-time.Hour))
		want := snap
		want.Provider = billing.ProviderPolar
		want.CustomerID = "polar_cus"
		active := user
		active.Polar = want.Fields()

		f.store.On("GetUser", mock.Anything, userID).Return(user, nil).Once()
		f.store.On("GetUser", mock.Anything, userID).Return(active, nil)
		f.polar.On("SetCancelAtPeriodEnd", mock.Anything, "psub_1", false).Return(snap, nil)
		f.store.On("SaveSnapshot", mock.Anything, userID, want).Return(true, nil)

		res := f.sync.ReactivateSubscription(ctx, userID)
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "Subscription reactivated", res.Message)
		require.NotNil(t, res.Plan)
		assert.False(t, res.Plan.IsCanceled)
		assert.Equal(t, []string{billing.AuditSubscriptionReactivated}, f.audit.actions())
	})

	t.Run("free user has nothing to cancel", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(billing.User{ID: userID}, nil)

		res := f.sync.CancelSubscription(ctx, userID)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, billing.ErrNoActiveSubscription)
		assert.Equal(t, "No active subscription found", res.Message)
		f.assertNoWrites(t)
	})

	t.Run("provider outage writes nothing", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(paidUser(userID), nil)
		f.polar.On("SetCancelAtPeriodEnd", mock.Anything, "psub_1", true).
			Return(billing.Snapshot{}, errors.Join(billing.ErrProviderUnavailable, errors.New("timeout")))

		res := f.sync.CancelSubscription(ctx, userID)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, billing.ErrProviderUnavailable)
		assert.Equal(t, []string{billing.OutcomeFailed}, f.obs.outcomes)
		f.assertNoWrites(t)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture(billing.ProviderStripe)
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(paidUser(userID), nil)

		res := f.sync.CancelSubscription(ctx, userID)
		assert.ErrorIs(t, res.Err, billing.ErrProviderNotConfigured)
		f.assertNoWrites(t)
	})

	t.Run("ended subscription is not stored", func(t *testing.T) {
		t.Parallel()

		f := newSyncFixture()
		userID := uuid.New()
		f.store.On("GetUser", mock.Anything, userID).Return(paidUser(userID), nil)
		f.polar.On("SetCancelAtPeriodEnd", mock.Anything, "psub_1", false).Return(billing.Snapshot{
			SubscriptionID: "psub_1",
			Status:         billing.StatusCanceled,
		}, nil)

		res := f.sync.ReactivateSubscription(ctx, userID)
		assert.ErrorIs(t, res.Err, billing.ErrNoActiveSubscription)
		f.assertNoWrites(t)
	})
}

func TestSynchronizer_LogsFailures(t *testing.T) {
	t.Parallel()

	store := new(MockStore)
	userID := uuid.New()
	store.On("GetUser", mock.Anything, userID).Return(billing.User{}, billing.ErrUserNotFound)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	s := billing.NewSynchronizer(store, newTestResolver(store),
		billing.WithProvider(newMockProvider(billing.ProviderStripe)),
		billing.WithSyncLogger(log),
		billing.WithSyncClock(fixedClock),
	)

	res := s.SyncFromProvider(context.Background(), userID)
	assert.False(t, res.Success)
	assert.Contains(t, buf.String(), "subscription sync failed")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), userID.String())
}

func TestFailureMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Checkout session not found", billing.FailureMessage(billing.ErrCheckoutNotFound))
	assert.Equal(t, "Missing checkout session id",
		billing.FailureMessage(errors.Join(billing.ErrInvalidInput, errors.New("empty"))))
	assert.Equal(t, "Subscription sync failed. Please use the refresh button.",
		billing.FailureMessage(errors.New("boom")))
}
