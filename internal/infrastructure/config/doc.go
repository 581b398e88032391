// Package config provides 12-factor configuration for the bridge.
//
// Configuration is loaded from environment variables with defaults, and may
// be overlaid by a YAML or TOML file (selected by extension).
//
// Configuration Sections:
//   - Server: HTTP API listen address
//   - Bridge: negotiated origins, wildcard policy, session timeout, guest mode
//   - Guest: eval timeout and VM limits
//   - Fetch: host-side HTTP forwarding (timeouts, allowed hosts, body limits)
//   - Socket: host-side websocket relay limits
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting of the HTTP API
//
// Example Usage:
//
//	cfg, err := config.LoadFile(os.Getenv("BRIDGE_CONFIG"))
//	if err != nil {
//		return err
//	}
//	fmt.Println(cfg.Server.Addr())
//
// Durations are written as Go duration strings ("5s", "10m") everywhere.
package config
