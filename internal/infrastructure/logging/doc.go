// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Every bridge component receives a *zap.Logger and names itself, so log
// lines carry the party and forwarder they came from:
//
//	logger := logging.NewDefault()
//	fetchLog := logger.Named("host.fetch")
//	fetchLog.Warn("call against unknown fetch session", zap.String("key", key))
//
// The guest's local console is itself a zap logger named "guest.console";
// forwarded console output is logged on the host under "guest".
package logging
