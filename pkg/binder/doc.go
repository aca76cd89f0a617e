// Package binder fills request structs from query strings, chi path
// parameters and JSON bodies using struct tags:
//
//	type checkoutReturn struct {
//		SessionID  string `query:"session_id"`
//		CheckoutID string `query:"checkout_id"`
//	}
//
//	var req checkoutReturn
//	if err := binder.Query(r, &req); err != nil { ... }
//
// Fields whose type implements encoding.TextUnmarshaler, such as
// uuid.UUID, are decoded with UnmarshalText.
package binder
