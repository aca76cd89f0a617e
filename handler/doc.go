// Package handler provides the JSON response conventions of the HTTP API.
//
// Handlers return a Response instead of writing to the ResponseWriter:
//
//	r.Get("/billing/plan", handler.Wrap(func(r *http.Request) handler.Response {
//		plan, err := resolver.ResolvePlan(r.Context(), userID)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(plan)
//	}))
//
// Successful bodies are {"data": ...}; failures are
// {"error": {"code": ..., "message": ...}} with the status taken from an
// HTTPError, or 500 for anything else.
package handler
