// Package config provides 12-factor configuration management for the gateway.
//
// Configuration is loaded from environment variables (optionally seeded from
// a .env file) with sensible defaults. CLI flags in cmd/server override
// individual values.
//
// Configuration Sections:
//   - Server: HTTP listen address, CORS origins, shutdown timeout
//   - Auth: JWT verification
//   - Apps: allow-list, concurrency limit, display, stop grace period
//   - Sessions: idle timeout and sweep interval
//   - Stream: frame rate, quality, per-subscriber queue, send deadline
//   - Capture: encoder, audio capture
//   - Events: Redis and webhook sinks
//   - Logging, RateLimit
//
// Example Usage:
//
//	_ = config.LoadDotEnv()
//	cfg, err := config.Load()
package config
