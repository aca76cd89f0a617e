// Package logger builds *slog.Logger values with functional options and
// injects request-scoped attributes from context.Context.
//
// New picks a text or JSON handler, applies static attributes, and wraps the
// result in LogHandlerDecorator, which runs every registered ContextExtractor
// on each record:
//
//	log := logger.New(
//		logger.WithEnvironment("production", "billing"),
//		logger.WithContextExtractors(requestid.LogExtractor(), jwt.LogExtractor()),
//	)
//	log.InfoContext(ctx, "subscription synced",
//		logger.UserID(userID),
//		logger.Provider("stripe"),
//		logger.PlanKey("pro"),
//	)
//
// Attribute helpers return an empty slog.Attr for empty input so call sites
// never need to branch before logging.
package logger
