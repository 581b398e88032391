// Package ws provides the WebSocket endpoints of the bridge.
//
//   - GET /guest    a remote guest dials in; the connection becomes the
//     bridge channel, origin-checked against the configured guest origin
//   - GET /console  streams the attached guest's console output
//
// Console stream messages (server to viewer):
//   - system: connection banner
//   - console: {level, args} for each forwarded console call
//   - pong: answer to a {type: "ping"} from the viewer
//
// Example Usage:
//
//	handler := ws.NewHandler(slot, cfg, logger, metrics)
//	router.GET("/guest", handler.Guest)
//	router.GET("/console", handler.Console)
package ws
