package billingapi

import (
	"errors"
	"net/http"

	"github.com/cenety/saaskit/pkg/billing"
)

// SyncStatus maps a sync result to its HTTP status. Failures other than
// bad input, unknown checkouts and missing configuration answer 200 with
// success=false so the page can show the message.
func SyncStatus(res billing.SyncResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case errors.Is(res.Err, billing.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(res.Err, billing.ErrCheckoutNotFound):
		return http.StatusNotFound
	case errors.Is(res.Err, billing.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
