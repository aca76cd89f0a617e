package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cenety/saaskit/pkg/logger"
)

// NearLimitThreshold is the usage ratio from which a resource is flagged
// as close to its limit.
const NearLimitThreshold = 0.8

// Limit-check verdicts reported to the Observer.
const (
	VerdictUnlimited = "unlimited"
	VerdictAllowed   = "allowed"
	VerdictNearLimit = "near_limit"
	VerdictBlocked   = "blocked"
	VerdictDegraded  = "degraded"
	VerdictInvalid   = "invalid"
)

// LimitResult is the advisory verdict for creating one more resource.
type LimitResult struct {
	Resource     Resource `json:"resource"`
	Current      int64    `json:"current"`
	Limit        int64    `json:"limit"` // -1 represents unlimited
	Allowed      bool     `json:"allowed"`
	NearLimit    bool     `json:"near_limit"`
	AtLimit      bool     `json:"at_limit"`
	UsagePercent float64  `json:"usage_percent"`
	Message      string   `json:"message,omitempty"`
	// Degraded is set when usage or plan could not be determined and the
	// check failed open.
	Degraded bool `json:"degraded,omitempty"`
}

// Unlimited reports whether the resource has no limit on the plan.
func (r LimitResult) Unlimited() bool {
	return r.Limit == Unlimited
}

func (r LimitResult) verdict() string {
	switch {
	case r.Degraded:
		return VerdictDegraded
	case r.Unlimited():
		return VerdictUnlimited
	case !r.Allowed:
		return VerdictBlocked
	case r.NearLimit:
		return VerdictNearLimit
	}
	return VerdictAllowed
}

// Evaluate compares current usage with limit.
// A limit of 0 means the resource is not available and is always at limit.
func Evaluate(resource Resource, current, limit int64) LimitResult {
	res := LimitResult{Resource: resource, Current: current, Limit: limit}
	if limit == Unlimited {
		res.Allowed = true
		return res
	}

	ratio := 1.0
	if limit > 0 {
		ratio = float64(current) / float64(limit)
	}
	res.UsagePercent = ratio * 100
	res.AtLimit = ratio >= 1
	res.NearLimit = ratio >= NearLimitThreshold && !res.AtLimit
	res.Allowed = current < limit
	if !res.Allowed {
		res.Message = limitMessage(resource, limit)
	}
	return res
}

func limitMessage(resource Resource, limit int64) string {
	switch resource {
	case ResourceCustomers:
		return fmt.Sprintf("You have reached the limit of %d customers. Upgrade to Pro or Enterprise to add unlimited customers.", limit)
	case ResourceQRCodes:
		return fmt.Sprintf("You have reached the limit of %d QR codes. Upgrade to Pro or Enterprise to create unlimited QR codes.", limit)
	case ResourceDocuments:
		return fmt.Sprintf("You have reached the monthly limit of %d documents. Upgrade to Pro or Enterprise to create unlimited documents.", limit)
	}
	return fmt.Sprintf("You have reached the limit of %d %s.", limit, resource)
}

// PlanResolver resolves a user's effective plan.
type PlanResolver interface {
	ResolvePlan(ctx context.Context, userID uuid.UUID) (ResolvedPlan, error)
	Catalog() *Catalog
}

// Enforcer compares live usage with the resolved plan's limits.
// Its checks are advisory: callers must consult Allowed before creating a
// resource, and two concurrent creates can both pass.
type Enforcer struct {
	plans    PlanResolver
	counter  UsageCounter
	observer Observer
	log      *slog.Logger
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithEnforcerLogger sets the logger used when a check fails open.
func WithEnforcerLogger(l *slog.Logger) EnforcerOption {
	return func(e *Enforcer) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEnforcerObserver reports each check verdict, usually to metrics.
func WithEnforcerObserver(o Observer) EnforcerOption {
	return func(e *Enforcer) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewEnforcer panics on nil dependencies.
func NewEnforcer(plans PlanResolver, counter UsageCounter, opts ...EnforcerOption) *Enforcer {
	if plans == nil {
		panic("billing: plan resolver is required")
	}
	if counter == nil {
		panic("billing: usage counter is required")
	}
	e := &Enforcer{
		plans:    plans,
		counter:  counter,
		observer: noopObserver{},
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckLimit reports whether userID may create one more resource.
// Unknown resources are rejected without any I/O. Failures to resolve the
// plan or count usage fail open with Degraded set.
func (e *Enforcer) CheckLimit(ctx context.Context, userID uuid.UUID, resource Resource) LimitResult {
	if !resource.Valid() {
		e.observer.LimitChecked(resource, VerdictInvalid)
		return LimitResult{Resource: resource, Message: ErrUnknownResource.Error()}
	}

	var res LimitResult
	if plan, err := e.plans.ResolvePlan(ctx, userID); err != nil {
		res = e.degraded(ctx, userID, resource, err)
	} else {
		res = e.check(ctx, userID, resource, plan.Limit(resource))
	}
	e.observer.LimitChecked(resource, res.verdict())
	return res
}

// Enforce returns ErrLimitExceeded, carrying the user-facing message, when
// the resource is at its limit.
func (e *Enforcer) Enforce(ctx context.Context, userID uuid.UUID, resource Resource) error {
	res := e.CheckLimit(ctx, userID, resource)
	if res.Allowed {
		return nil
	}
	if !resource.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	return fmt.Errorf("%w: %s", ErrLimitExceeded, res.Message)
}

// Usage reports the limit status of every resource, counted concurrently.
func (e *Enforcer) Usage(ctx context.Context, userID uuid.UUID) []LimitResult {
	results := make([]LimitResult, len(Resources))

	plan, err := e.plans.ResolvePlan(ctx, userID)
	if err != nil {
		for i, r := range Resources {
			results[i] = e.degraded(ctx, userID, r, err)
		}
		return results
	}

	var g errgroup.Group
	for i, r := range Resources {
		g.Go(func() error {
			results[i] = e.check(ctx, userID, r, plan.Limit(r))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// CanDowngrade returns ErrDowngradeNotPossible listing every resource whose
// current usage exceeds the limit of the plan named by targetKey.
func (e *Enforcer) CanDowngrade(ctx context.Context, userID uuid.UUID, targetKey string) error {
	target, ok := e.plans.Catalog().Plan(targetKey)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, targetKey)
	}

	var violations []error
	for _, r := range Resources {
		limit := target.Limit(r)
		if limit == Unlimited {
			continue
		}
		current, err := e.counter.Count(ctx, userID, r)
		if err != nil {
			return errors.Join(ErrFailedToCountUsage, err)
		}
		if current > limit {
			violations = append(violations, fmt.Errorf("%s: %d in use, %s plan allows %d", r, current, target.Title, limit))
		}
	}
	if len(violations) > 0 {
		return errors.Join(append([]error{ErrDowngradeNotPossible}, violations...)...)
	}
	return nil
}

func (e *Enforcer) check(ctx context.Context, userID uuid.UUID, resource Resource, limit int64) LimitResult {
	if limit == Unlimited {
		return Evaluate(resource, 0, Unlimited)
	}
	current, err := e.counter.Count(ctx, userID, resource)
	if err != nil {
		return e.degraded(ctx, userID, resource, errors.Join(ErrFailedToCountUsage, err))
	}
	return Evaluate(resource, current, limit)
}

func (e *Enforcer) degraded(ctx context.Context, userID uuid.UUID, resource Resource, err error) LimitResult {
	e.log.ErrorContext(ctx, "limit check failed open",
		logger.UserID(userID),
		logger.Resource(string(resource)),
		logger.Error(err),
	)
	return LimitResult{Resource: resource, Limit: Unlimited, Allowed: true, Degraded: true}
}
