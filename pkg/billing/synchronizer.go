package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cenety/saaskit/pkg/logger"
)

// Sync triggers, used for logs, metrics and audit events.
const (
	TriggerRefresh  = "refresh"
	TriggerCheckout = "checkout"
	TriggerWebhook  = "webhook"

	TriggerCancel     = "cancel"
	TriggerReactivate = "reactivate"
)

// Sync outcomes reported to the Observer.
const (
	OutcomeSynced         = "synced"
	OutcomeNoSubscription = "no_subscription"
	OutcomeFailed         = "failed"
	OutcomeIgnored        = "ignored"
)

// Audit actions.
const (
	AuditSubscriptionSynced  = "subscription.synced"
	AuditSubscriptionCleared = "subscription.cleared"
	AuditSyncFailed          = "subscription.sync_failed"

	AuditCancelScheduled         = "subscription.cancel_scheduled"
	AuditSubscriptionReactivated = "subscription.reactivated"
)

// SyncResult is the non-throwing outcome of a synchronization.
// Err keeps the cause for status mapping and is never serialized.
type SyncResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Plan    *ResolvedPlan `json:"plan,omitempty"`
	Changed bool          `json:"changed"`
	Err     error         `json:"-"`
}

// Synchronizer reconciles the cached subscription columns with the live
// state at the payment providers. Failed syncs never write, so a provider
// outage cannot downgrade a user.
type Synchronizer struct {
	store       Store
	resolver    *Resolver
	providers   map[Provider]PaymentProvider
	invalidator Invalidator
	audit       AuditLogger
	observer    Observer
	log         *slog.Logger
	now         func() time.Time
}

// NewSynchronizer panics on a nil store or resolver.
func NewSynchronizer(store Store, resolver *Resolver, opts ...SyncOption) *Synchronizer {
	if store == nil {
		panic("billing: store is required")
	}
	if resolver == nil {
		panic("billing: resolver is required")
	}
	s := &Synchronizer{
		store:       store,
		resolver:    resolver,
		providers:   make(map[Provider]PaymentProvider, len(Providers)),
		invalidator: resolver,
		audit:       noopAudit{},
		observer:    noopObserver{},
		log:         logger.Discard(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether provider is registered.
func (s *Synchronizer) Configured(provider Provider) bool {
	_, ok := s.providers[provider]
	return ok
}

// SyncFromProvider pulls the user's active subscriptions from every
// configured provider, the user's selected one first, and stores the most
// recent one. When the providers report no active subscription, stale
// local fields are cleared and the user resolves to the default plan.
func (s *Synchronizer) SyncFromProvider(ctx context.Context, userID uuid.UUID) SyncResult {
	start := s.now()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return s.fail(ctx, userID, ProviderNone, TriggerRefresh, start, err)
	}
	if len(s.providers) == 0 {
		return s.fail(ctx, userID, ProviderNone, TriggerRefresh, start, ErrProviderNotConfigured)
	}

	var (
		found      *Snapshot
		errs       []error
		answered   []Provider
		discovered = make(map[Provider]string)
	)
	for _, name := range user.providerOrder() {
		p, ok := s.providers[name]
		if !ok {
			continue
		}

		customerID, err := s.customerID(ctx, p, user)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if customerID != user.Fields(name).CustomerID {
			discovered[name] = customerID
		}

		subs, err := p.ListActiveSubscriptions(ctx, customerID)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		active := subs[:0:0]
		for _, sub := range subs {
			sub.Provider = name
			if sub.CustomerID == "" {
				sub.CustomerID = customerID
			}
			if sub.Active(start) {
				active = append(active, sub)
			}
		}
		if snap, ok := pickLatest(active); ok {
			found = &snap
			break
		}
		answered = append(answered, name)
	}

	if found == nil {
		// Any hard provider failure keeps local state as is.
		if err := firstHardError(errs); err != nil {
			return s.fail(ctx, userID, user.PaymentProvider, TriggerRefresh, start, err)
		}
		if len(answered) == 0 {
			return s.fail(ctx, userID, user.PaymentProvider, TriggerRefresh, start, ErrCustomerNotFound)
		}
	}

	changed := false
	for _, name := range answered {
		if id, ok := discovered[name]; ok {
			if err := s.store.SetCustomerID(ctx, userID, name, id); err != nil {
				return s.fail(ctx, userID, name, TriggerRefresh, start, err)
			}
		}
		if user.Fields(name).SubscriptionID == "" {
			continue
		}
		cleared, err := s.store.ClearSubscription(ctx, userID, name, "")
		if err != nil {
			return s.fail(ctx, userID, name, TriggerRefresh, start, err)
		}
		if cleared {
			changed = true
			s.audit.Log(ctx, userID, AuditSubscriptionCleared, nil, map[string]any{
				"provider":        string(name),
				"subscription_id": user.Fields(name).SubscriptionID,
				"trigger":         TriggerRefresh,
			})
		}
	}

	if found == nil {
		s.invalidate(ctx, userID)
		res := s.succeed(ctx, userID, ProviderNone, TriggerRefresh, OutcomeNoSubscription, start, changed)
		res.Message = "No active subscription found"
		return res
	}

	saved, err := s.store.SaveSnapshot(ctx, userID, *found)
	if err != nil {
		return s.fail(ctx, userID, found.Provider, TriggerRefresh, start, errors.Join(ErrFailedToStoreSnapshot, err))
	}
	s.invalidate(ctx, userID)
	s.auditSnapshot(ctx, userID, *found, TriggerRefresh)
	return s.succeed(ctx, userID, found.Provider, TriggerRefresh, OutcomeSynced, start, changed || saved)
}

// SyncFromCheckoutSession applies the subscription created by a completed
// hosted checkout. The session must belong to userID. An unknown session
// id leaves every row untouched.
func (s *Synchronizer) SyncFromCheckoutSession(ctx context.Context, userID uuid.UUID, provider Provider, sessionID string) SyncResult {
	start := s.now()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, errors.Join(ErrInvalidInput, errors.New("checkout session id is required")))
	}
	p, ok := s.providers[provider]
	if !ok {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, ErrProviderNotConfigured)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, err)
	}

	cs, err := p.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, err)
	}
	if !cs.Completed {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, fmt.Errorf("%w: status %s", ErrCheckoutIncomplete, cs.Status))
	}
	if !owns(user, provider, cs) {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, ErrCheckoutNotOwned)
	}
	if cs.SubscriptionID == "" {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, ErrNoActiveSubscription)
	}

	snap, err := p.GetSubscription(ctx, cs.SubscriptionID)
	if err != nil {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, err)
	}
	snap.Provider = provider
	if snap.CustomerID == "" {
		snap.CustomerID = cs.CustomerID
	}
	if !snap.Active(start) {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, fmt.Errorf("%w: status %s", ErrNoActiveSubscription, snap.Status))
	}

	saved, err := s.store.SaveSnapshot(ctx, userID, snap)
	if err != nil {
		return s.fail(ctx, userID, provider, TriggerCheckout, start, errors.Join(ErrFailedToStoreSnapshot, err))
	}
	s.invalidate(ctx, userID)
	s.auditSnapshot(ctx, userID, snap, TriggerCheckout)
	return s.succeed(ctx, userID, provider, TriggerCheckout, OutcomeSynced, start, saved)
}

// CancelSubscription schedules the user's current paid subscription to end
// with its billing period. The plan stays paid until then.
func (s *Synchronizer) CancelSubscription(ctx context.Context, userID uuid.UUID) SyncResult {
	res := s.setCancelAtPeriodEnd(ctx, userID, true)
	if res.Success {
		res.Message = "Subscription will be canceled at the end of the billing period"
	}
	return res
}

// ReactivateSubscription revokes a scheduled cancellation.
func (s *Synchronizer) ReactivateSubscription(ctx context.Context, userID uuid.UUID) SyncResult {
	res := s.setCancelAtPeriodEnd(ctx, userID, false)
	if res.Success {
		res.Message = "Subscription reactivated"
	}
	return res
}

// setCancelAtPeriodEnd updates the subscription the user's plan resolves
// through and stores the provider's answer.
func (s *Synchronizer) setCancelAtPeriodEnd(ctx context.Context, userID uuid.UUID, cancel bool) SyncResult {
	start := s.now()
	trigger, action := TriggerCancel, AuditCancelScheduled
	if !cancel {
		trigger, action = TriggerReactivate, AuditSubscriptionReactivated
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return s.fail(ctx, userID, ProviderNone, trigger, start, err)
	}
	current := s.resolver.Resolve(ctx, user)
	if !current.IsPaid || current.SubscriptionID == "" {
		return s.fail(ctx, userID, current.Provider, trigger, start, ErrNoActiveSubscription)
	}
	p, ok := s.providers[current.Provider]
	if !ok {
		return s.fail(ctx, userID, current.Provider, trigger, start, ErrProviderNotConfigured)
	}

	snap, err := p.SetCancelAtPeriodEnd(ctx, current.SubscriptionID, cancel)
	if err != nil {
		return s.fail(ctx, userID, current.Provider, trigger, start, err)
	}
	snap.Provider = current.Provider
	if snap.CustomerID == "" {
		snap.CustomerID = current.CustomerID
	}
	// An ended subscription is left for the next refresh or webhook to clear.
	if !snap.Active(start) {
		return s.fail(ctx, userID, current.Provider, trigger, start, fmt.Errorf("%w: status %s", ErrNoActiveSubscription, snap.Status))
	}

	saved, err := s.store.SaveSnapshot(ctx, userID, snap)
	if err != nil {
		return s.fail(ctx, userID, current.Provider, trigger, start, errors.Join(ErrFailedToStoreSnapshot, err))
	}
	s.invalidate(ctx, userID)
	s.audit.Log(ctx, userID, action, nil, map[string]any{
		"provider":           string(snap.Provider),
		"subscription_id":    snap.SubscriptionID,
		"current_period_end": snap.CurrentPeriodEnd,
	})
	return s.succeed(ctx, userID, current.Provider, trigger, OutcomeSynced, start, saved)
}

// HandleWebhook verifies and applies a provider notification.
// Subscriptions are re-fetched so the provider's current state wins over
// out-of-order deliveries. Events for unknown users are acknowledged.
// A returned error other than ErrInvalidSignature or ErrInvalidPayload
// means the provider should retry.
func (s *Synchronizer) HandleWebhook(ctx context.Context, provider Provider, payload []byte, header http.Header) error {
	start := s.now()

	p, ok := s.providers[provider]
	if !ok {
		return ErrProviderNotConfigured
	}

	evt, err := p.ParseWebhook(payload, header)
	if err != nil {
		return err
	}

	log := s.log.With(logger.Provider(string(provider)), logger.EventType(evt.Type))
	if evt.Kind == WebhookIgnored || evt.SubscriptionID == "" {
		log.DebugContext(ctx, "webhook event ignored")
		s.observer.SyncCompleted(provider, TriggerWebhook, OutcomeIgnored, s.now().Sub(start))
		return nil
	}

	snap, err := p.GetSubscription(ctx, evt.SubscriptionID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound) && evt.Kind == WebhookSubscriptionCanceled:
		snap = Snapshot{SubscriptionID: evt.SubscriptionID, CustomerID: evt.CustomerID, Status: StatusCanceled}
	case errors.Is(err, ErrSubscriptionNotFound):
		log.WarnContext(ctx, "webhook references unknown subscription", logger.SubscriptionID(evt.SubscriptionID))
		s.observer.SyncCompleted(provider, TriggerWebhook, OutcomeIgnored, s.now().Sub(start))
		return nil
	case err != nil:
		log.ErrorContext(ctx, "failed to fetch webhook subscription", logger.SubscriptionID(evt.SubscriptionID), logger.Error(err))
		s.observer.SyncCompleted(provider, TriggerWebhook, OutcomeFailed, s.now().Sub(start))
		return err
	}
	snap.Provider = provider
	if snap.CustomerID == "" {
		snap.CustomerID = evt.CustomerID
	}

	lookup := UserLookup{
		CustomerID:     snap.CustomerID,
		SubscriptionID: snap.SubscriptionID,
		Email:          evt.CustomerEmail,
	}
	if id, err := uuid.Parse(evt.ClientReference); err == nil {
		lookup.UserID = id
	}

	user, err := s.store.FindUser(ctx, provider, lookup)
	if errors.Is(err, ErrUserNotFound) {
		log.WarnContext(ctx, "webhook for unknown user",
			logger.CustomerID(lookup.CustomerID),
			logger.SubscriptionID(lookup.SubscriptionID),
		)
		s.observer.SyncCompleted(provider, TriggerWebhook, OutcomeIgnored, s.now().Sub(start))
		return nil
	}
	if err != nil {
		s.observer.SyncCompleted(provider, TriggerWebhook, OutcomeFailed, s.now().Sub(start))
		return err
	}

	if snap.Active(start) {
		if _, err := s.store.SaveSnapshot(ctx, user.ID, snap); err != nil {
			s.observer.SyncCompleted(provider, TriggerWebhook, OutcomeFailed, s.now().Sub(start))
			return errors.Join(ErrFailedToStoreSnapshot, err)
		}
		s.auditSnapshot(ctx, user.ID, snap, TriggerWebhook)
		s.observer.SyncCompleted(provider, TriggerWebhook, OutcomeSynced, s.now().Sub(start))
	} else {
		// Guarded by subscription id: a late cancel of an old subscription
		// must not clear a newer one.
		cleared, err := s.store.ClearSubscription(ctx, user.ID, provider, snap.SubscriptionID)
		if err != nil {
			s.observer.SyncCompleted(provider, TriggerWebhook, OutcomeFailed, s.now().Sub(start))
			return err
		}
		if cleared {
			s.audit.Log(ctx, user.ID, AuditSubscriptionCleared, nil, map[string]any{
				"provider":        string(provider),
				"subscription_id": snap.SubscriptionID,
				"status":          snap.Status,
				"trigger":         TriggerWebhook,
			})
		}
		s.observer.SyncCompleted(provider, TriggerWebhook, OutcomeNoSubscription, s.now().Sub(start))
	}

	s.invalidate(ctx, user.ID)
	log.InfoContext(ctx, "webhook applied",
		logger.UserID(user.ID),
		logger.SubscriptionID(snap.SubscriptionID),
		slog.String("status", snap.Status),
	)
	return nil
}

// CustomerPortalURL returns a self-service billing portal link for the
// user's payment provider.
func (s *Synchronizer) CustomerPortalURL(ctx context.Context, userID uuid.UUID, returnURL string) (string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, name := range user.providerOrder() {
		customerID := user.Fields(name).CustomerID
		if customerID == "" {
			continue
		}
		p, ok := s.providers[name]
		if !ok {
			return "", ErrProviderNotConfigured
		}
		return p.CustomerPortalURL(ctx, customerID, returnURL)
	}
	return "", ErrCustomerNotFound
}

func (s *Synchronizer) customerID(ctx context.Context, p PaymentProvider, user User) (string, error) {
	if id := user.Fields(p.Name()).CustomerID; id != "" {
		return id, nil
	}
	if user.Email == "" {
		return "", ErrCustomerNotFound
	}
	return p.FindCustomerByEmail(ctx, user.Email)
}

func (s *Synchronizer) invalidate(ctx context.Context, userID uuid.UUID) {
	if err := s.invalidator.Invalidate(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "failed to invalidate plan cache", logger.UserID(userID), logger.Error(err))
	}
}

func (s *Synchronizer) auditSnapshot(ctx context.Context, userID uuid.UUID, snap Snapshot, trigger string) {
	s.audit.Log(ctx, userID, AuditSubscriptionSynced, nil, map[string]any{
		"provider":        string(snap.Provider),
		"subscription_id": snap.SubscriptionID,
		"price_id":        snap.PriceID,
		"status":          snap.Status,
		"trigger":         trigger,
	})
}

func (s *Synchronizer) succeed(ctx context.Context, userID uuid.UUID, provider Provider, trigger, outcome string, start time.Time, changed bool) SyncResult {
	d := s.now().Sub(start)
	s.observer.SyncCompleted(provider, trigger, outcome, d)

	res := SyncResult{Success: true, Changed: changed}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.log.WarnContext(ctx, "failed to reload user after sync", logger.UserID(userID), logger.Error(err))
		res.Message = "Subscription synchronized"
		return res
	}
	plan := s.resolver.Resolve(ctx, user)
	res.Plan = &plan
	res.Message = fmt.Sprintf("Subscription synchronized: %s plan", plan.Title)

	s.log.InfoContext(ctx, "subscription synchronized",
		logger.UserID(userID),
		logger.Provider(string(provider)),
		logger.Trigger(trigger),
		logger.PlanKey(plan.Plan.Key),
		slog.Bool("changed", changed),
		logger.Duration(d),
	)
	return res
}

func (s *Synchronizer) fail(ctx context.Context, userID uuid.UUID, provider Provider, trigger string, start time.Time, err error) SyncResult {
	s.observer.SyncCompleted(provider, trigger, OutcomeFailed, s.now().Sub(start))

	level := slog.LevelWarn
	if errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrFailedToStoreSnapshot) {
		level = slog.LevelError
	}
	s.log.Log(ctx, level, "subscription sync failed",
		logger.UserID(userID),
		logger.Provider(string(provider)),
		logger.Trigger(trigger),
		logger.Error(err),
	)
	s.audit.Log(ctx, userID, AuditSyncFailed, err, map[string]any{
		"provider": string(provider),
		"trigger":  trigger,
	})

	return SyncResult{Success: false, Message: FailureMessage(err), Err: err}
}

// FailureMessage maps a sync error to a user-facing message.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "Missing checkout session id"
	case errors.Is(err, ErrCheckoutNotFound):
		return "Checkout session not found"
	case errors.Is(err, ErrCheckoutIncomplete):
		return "Checkout not completed yet"
	case errors.Is(err, ErrCheckoutNotOwned):
		return "Checkout session does not belong to this account"
	case errors.Is(err, ErrUserNotFound):
		return "User not found"
	case errors.Is(err, ErrCustomerNotFound):
		return "No customer found for this account"
	case errors.Is(err, ErrNoActiveSubscription), errors.Is(err, ErrSubscriptionNotFound):
		return "No active subscription found"
	case errors.Is(err, ErrProviderNotConfigured):
		return "Payment provider is not configured. Please contact support."
	case errors.Is(err, ErrProviderUnavailable):
		return "Payment provider is temporarily unavailable. Please use the refresh button later."
	}
	return "Subscription sync failed. Please use the refresh button."
}

// firstHardError returns the first error that is not a missing customer.
func firstHardError(errs []error) error {
	for _, err := range errs {
		if !errors.Is(err, ErrCustomerNotFound) {
			return err
		}
	}
	return nil
}

// owns reports whether a checkout was opened by user. An explicit client
// reference is authoritative; otherwise customer id or email must match.
func owns(user User, provider Provider, cs CheckoutSession) bool {
	if cs.ClientReference != "" {
		return cs.ClientReference == user.ID.String()
	}
	if cs.CustomerID != "" && cs.CustomerID == user.Fields(provider).CustomerID {
		return true
	}
	return cs.CustomerEmail != "" && strings.EqualFold(cs.CustomerEmail, user.Email)
}
