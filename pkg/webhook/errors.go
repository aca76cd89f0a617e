package webhook

import "errors"

// Verification errors. Callers wrap them with errors.Join to keep context.
var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrMissingHeaders       = errors.New("missing webhook signature headers")
	ErrInvalidTimestamp     = errors.New("webhook timestamp outside tolerance")
	ErrSignatureMismatch    = errors.New("webhook signature mismatch")
)
