// Package main is the entry point for a remote bridge guest.
//
// The guest dials the host's /guest endpoint, announcing its own origin,
// and then runs scripts the host sends it. Messages are accepted only from
// the host origin derived from -embed-url:
//
//	http://sandbox.app.example/           -> http://app.example
//	http://x/origin/https%3A%2F%2Fapp/... -> https://app
//
// When no origin can be derived the guest refuses to start unless
// -allow-wildcard is set.
//
// Usage:
//
//	./guest -host ws://app.example/guest -embed-url http://sandbox.app.example/
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
