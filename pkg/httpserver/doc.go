// Package httpserver runs the API's http.Server with graceful shutdown and
// serves dependency health checks.
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log), httpserver.WithStopHook(auditStore.Close))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// Run returns after SIGINT, SIGTERM or cancellation of ctx, once in-flight
// requests finished and stop hooks ran.
package httpserver
