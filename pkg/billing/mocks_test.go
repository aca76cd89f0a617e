package billing_test

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/cenety/saaskit/pkg/billing"
)

// MockStore is a mock implementation of billing.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetUser(ctx context.Context, id uuid.UUID) (billing.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(billing.User), args.Error(1)
}

func (m *MockStore) FindUser(ctx context.Context, provider billing.Provider, lookup billing.UserLookup) (billing.User, error) {
	args := m.Called(ctx, provider, lookup)
	return args.Get(0).(billing.User), args.Error(1)
}

func (m *MockStore) SaveSnapshot(ctx context.Context, userID uuid.UUID, snap billing.Snapshot) (bool, error) {
	args := m.Called(ctx, userID, snap)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ClearSubscription(ctx context.Context, userID uuid.UUID, provider billing.Provider, subscriptionID string) (bool, error) {
	args := m.Called(ctx, userID, provider, subscriptionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) SetCustomerID(ctx context.Context, userID uuid.UUID, provider billing.Provider, customerID string) error {
	args := m.Called(ctx, userID, provider, customerID)
	return args.Error(0)
}

// MockProvider is a mock implementation of billing.PaymentProvider.
type MockProvider struct {
	mock.Mock
	name billing.Provider
}

func newMockProvider(name billing.Provider) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() billing.Provider { return m.name }

func (m *MockProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) ListActiveSubscriptions(ctx context.Context, customerID string) ([]billing.Snapshot, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.Snapshot), args.Error(1)
}

func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (billing.Snapshot, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(billing.Snapshot), args.Error(1)
}

func (m *MockProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (billing.Snapshot, error) {
	args := m.Called(ctx, subscriptionID, cancel)
	return args.Get(0).(billing.Snapshot), args.Error(1)
}

func (m *MockProvider) GetCheckoutSession(ctx context.Context, sessionID string) (billing.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(billing.CheckoutSession), args.Error(1)
}

func (m *MockProvider) CustomerPortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) ParseWebhook(payload []byte, header http.Header) (billing.WebhookEvent, error) {
	args := m.Called(payload, header)
	return args.Get(0).(billing.WebhookEvent), args.Error(1)
}

// MockPlanResolver is a mock implementation of billing.PlanResolver.
type MockPlanResolver struct {
	mock.Mock
	catalog *billing.Catalog
}

func (m *MockPlanResolver) ResolvePlan(ctx context.Context, userID uuid.UUID) (billing.ResolvedPlan, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(billing.ResolvedPlan), args.Error(1)
}

func (m *MockPlanResolver) Catalog() *billing.Catalog { return m.catalog }

// MockUsageCounter is a mock implementation of billing.UsageCounter.
type MockUsageCounter struct {
	mock.Mock
}

func (m *MockUsageCounter) Count(ctx context.Context, userID uuid.UUID, resource billing.Resource) (int64, error) {
	args := m.Called(ctx, userID, resource)
	return args.Get(0).(int64), args.Error(1)
}

type auditEntry struct {
	UserID   uuid.UUID
	Action   string
	Result   error
	Metadata map[string]any
}

// recordingAudit captures audit events.
type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *recordingAudit) Log(_ context.Context, userID uuid.UUID, action string, result error, metadata map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{UserID: userID, Action: action, Result: result, Metadata: metadata})
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

// recordingObserver captures observer callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	verdicts []string
}

func (o *recordingObserver) SyncCompleted(_ billing.Provider, _, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) LimitChecked(_ billing.Resource, verdict string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdicts = append(o.verdicts, verdict)
}

// countingInvalidator records invalidated users.
type countingInvalidator struct {
	mu    sync.Mutex
	users []uuid.UUID
}

func (i *countingInvalidator) Invalidate(_ context.Context, userID uuid.UUID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.users = append(i.users, userID)
	return nil
}

func (i *countingInvalidator) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.users)
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testCatalog() *billing.Catalog {
	c, err := billing.NewCatalog(billing.DefaultPlans(
		billing.PriceIDs{Monthly: "price_pro_month", Yearly: "price_pro_year"},
		billing.PriceIDs{Monthly: "price_ent_month", Yearly: "price_ent_year"},
	)...)
	if err != nil {
		panic(err)
	}
	return c
}
