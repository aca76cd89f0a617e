// Package jwt authenticates HTTP requests with HS256 session tokens built on
// github.com/golang-jwt/jwt/v5.
//
// The token subject is the user id and an optional role claim grants admin
// access. Middleware reads the token from the session cookie or a Bearer
// header, verifies it and stores the Session in the request context:
//
//	svc, err := jwt.NewFromConfig(cfg)
//	r.With(jwt.Middleware(svc, jwt.WithCookieName(cfg.Cookie))).Get("/billing/plan", h)
//
//	userID := jwt.UserIDFromContext(r.Context())
//
// RequireRole guards admin routes and answers 403 for other roles.
package jwt
