// Package audit records an append-only trail of billing actions.
//
// Logger turns a call such as
//
//	audit.Log(ctx, userID, "subscription.synced", nil, map[string]any{"plan": "pro"})
//
// into an Event and passes it to a Storage. Log has no error return: an
// audit write that fails is logged and otherwise ignored, so it can never
// fail the operation being audited.
//
// AsyncStorage decouples request latency from the database. It queues
// events, writes them in batches from one goroutine and falls back to a
// synchronous write when its buffer is full. Close flushes the queue and
// belongs in the shutdown path:
//
//	store := audit.NewAsyncStorage(pgStorage, log, audit.AsyncOptions{})
//	defer store.Close(shutdownCtx)
//	auditLog := audit.NewLogger(store, audit.WithRequestIDExtractor(requestid.FromContext))
package audit
