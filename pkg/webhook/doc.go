// Package webhook verifies and signs webhook payloads following the
// Standard Webhooks scheme used by Polar and other providers.
//
// A signed request carries three headers:
//
//	webhook-id:        unique message id
//	webhook-timestamp: unix seconds
//	webhook-signature: space separated list of "v1,<base64 signature>"
//
// The signature is HMAC-SHA256 over "<id>.<timestamp>.<payload>" keyed with
// the endpoint secret. Secrets prefixed with "whsec_" carry a base64 key.
//
// # Usage
//
//	v, err := webhook.NewVerifier(secret)
//	if err != nil {
//	    return err
//	}
//	if err := v.Verify(payload, r.Header); err != nil {
//	    // reject with 400
//	}
//
// Sign produces the same headers and is used for tests and outgoing
// deliveries.
package webhook
