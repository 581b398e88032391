// Package middleware provides the HTTP middleware of the bridge API.
//
// Middleware stack:
//   - CORS: cross-origin access, normally narrowed to the host origin
//   - RateLimit: per-IP token buckets with idle cleanup
//   - GlobalRateLimit: one shared token bucket
//   - Logger: request logging through zap
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.CORSForOrigins(cfg.Bridge.HostOrigin)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
