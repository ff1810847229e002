// Package middleware provides HTTP middleware for session authentication,
// authorization guards, and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: session token authentication
//
//	auth := middleware.NewAuthMiddleware(tokens, false)
//	router.Use(auth.Handler)
//	// Extracts the bearer token or session cookie, verifies it, and adds
//	// the claims to the request context.
//
// RequireRoles / RequireGroups: authorization guards
//
//	router.Handle("/admin", middleware.RequireRoles("admin")(handler))
//
// RateLimitMiddleware: in-memory rate limiting
//
//	router.Use(middleware.NewRateLimitMiddleware().Handler)
//
// DistributedRateLimitMiddleware: Redis-backed rate limiting shared across
// instances
//
//	router.Use(middleware.NewDistributedRateLimitMiddleware(redisClient).Handler)
//
// # Rate Limiting
//
// Login surface (per IP): 30 req/min, 10 burst
// Session surface (per session): 300 req/min, 50 burst
//
// # Related Packages
//
//   - pkg/token: token verification
//   - pkg/contextkeys: context key definitions
package middleware
