package billing

import "errors"

var (
	ErrInvalidCatalog = errors.New("invalid plan catalog")
	ErrPlanNotFound   = errors.New("plan not found")

	ErrUserNotFound         = errors.New("user not found")
	ErrCustomerNotFound     = errors.New("payment provider customer not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrCheckoutNotFound     = errors.New("checkout session not found")
	ErrCheckoutIncomplete   = errors.New("checkout session not completed")
	ErrCheckoutNotOwned     = errors.New("checkout session belongs to another account")
	ErrNoActiveSubscription = errors.New("no active subscription")

	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrInvalidPayload        = errors.New("invalid webhook payload")
	ErrInvalidInput          = errors.New("invalid input")

	ErrUnknownResource       = errors.New("unknown resource type")
	ErrLimitExceeded         = errors.New("plan limit exceeded")
	ErrDowngradeNotPossible  = errors.New("plan downgrade not possible")
	ErrFailedToCountUsage    = errors.New("failed to count resource usage")
	ErrFailedToResolvePlan   = errors.New("failed to resolve subscription plan")
	ErrFailedToStoreSnapshot = errors.New("failed to store subscription snapshot")
)
