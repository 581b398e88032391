// Package server assembles the bridge host process.
//
// It wires:
//   - HTTP routing with Gin (API, metrics, console and guest websockets)
//   - Middleware stack (recovery, tracing, logging, metrics, CORS, rate limit)
//   - The guest, either in-process over an in-memory pipe or remote over
//     the /guest websocket
//
// Server Lifecycle:
//  1. Load configuration from environment and file
//  2. Build logger, metrics registry and tracer
//  3. Set up routes and middleware
//  4. Serve HTTP; start the in-process guest and handshake with it
//  5. On context cancellation, shut down HTTP, detach the guest and flush
//     spans
//
// Example Usage:
//
//	cfg, _ := config.LoadFile(path)
//	srv, err := server.NewServer(cfg, logging.FromLevel(cfg.Logging.Level, false))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.Run(ctx)
package server
