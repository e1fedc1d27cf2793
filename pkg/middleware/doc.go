// Package middleware provides the request identity and rate limiting
// middleware mounted in front of the role endpoints.
//
// IdentityMiddleware trusts the X-Identity-ID header set by the gateway and
// stores the identity on the request context:
//
//	router.Use(middleware.NewIdentityMiddleware("", false).Handler)
//
// RateLimit throttles role mutations per identity. RateLimiter keeps token
// buckets in process; RedisRateLimiter shares a fixed window across replicas:
//
//	limiter := middleware.NewRedisRateLimiter(redisClient, cfg, "")
//	roles.Use(middleware.RateLimit(limiter, logger))
package middleware
