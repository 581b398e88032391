// Package main is the entry point for the bridge host.
//
// The host serves the HTTP API that evaluates scripts in a sandboxed guest
// and performs the guest's network I/O on its behalf.
//
// Architecture:
//
//	API client → Host (HTTP) ⇄ channel ⇄ Guest (script runtime)
//	             ↓
//	             upstream HTTP / WebSocket
//
// The guest either runs in-process over an in-memory pipe (mode inproc) or
// dials in over /guest from a separate process (mode remote, see cmd/guest).
//
// Configuration:
//   - Environment variables (12-factor)
//   - YAML or TOML file via -config (overrides env vars)
//   - CLI flags (override both)
//
// Usage:
//
//	# In-process guest
//	./bridge -port 8000
//
//	# Wait for a remote guest, development logging
//	./bridge -mode remote -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
