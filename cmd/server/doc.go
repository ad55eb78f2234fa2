// Package main is the entry point of the appshare gateway.
//
// The gateway launches allow-listed desktop applications on a shared X
// display, groups users into collaborative sessions and streams each
// application (or the whole desktop) to the browsers watching it, feeding
// their mouse and keyboard input back to the display.
//
// Configuration:
//   - Environment variables (12-factor), optionally from .env files
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	JWT_SECRET=... ./server --port 8000
//
//	# Development mode (debug logs, no token check)
//	./server --dev --no-auth
//
// Signals:
//   - SIGINT, SIGTERM: stop capture, stop every application, then exit
package main
