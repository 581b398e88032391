/*
Package host implements the trusted side of the bridge.

A Host drives a guest over a channel: it performs the init handshake,
sends eval requests and correlates their replies, and carries out the
network I/O that guest forwarders request.

  - FetchService performs HTTP requests with resty over a retrying
    transport, behind a rate limiter and a per-host circuit breaker.
    Responses are retained with their bodies unread until a deferred
    method call (text, json, arrayBuffer, bytes) pulls them, once.
  - SocketRelay dials one upstream websocket per guest socket key and
    reports open, message, error, close and finish events back.
  - ConsoleSink logs forwarded console entries and fans them out to
    subscribers such as the /console stream.

Calls against unknown fetch sessions and replies for unknown eval keys are
logged and dropped without a reply.
*/
package host
