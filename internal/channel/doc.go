/*
Package channel implements the origin-authenticated message link between a
guest and its host.

A Transport moves Envelopes between exactly two parties and stamps each one
with the sender's origin taken from the connection, never from the payload.
Pipe connects two parties in memory; WebSocket connects a guest process to a
host over gorilla/websocket.

A Channel sits on a transport. It sends protocol messages targeted at the
negotiated peer origin and accepts a received message only when its sender
origin equals the peer origin (or the peer is Wildcard) and it is addressed
to this party. DeriveHostOrigin negotiates the peer origin on the guest side.
*/
package channel
