/*
Package protocol defines the messages exchanged between guest and host.

# Wire format

Every message is a JSON object with exactly one top-level key:

	{"init": true}                                   host -> guest handshake
	{"init": "ack"}                                  guest -> host
	{"eval": {"script", "globals", "key"}}           host -> guest
	{"evalReply": {"key", "result", "success", "error"}}
	{"fetchForwarder": {"key", "args": [url, init]}} guest -> host, new fetch
	{"fetchForwarder": {"key", "for": "fetch", "result": descriptor}}
	{"fetchForwarder": {"key", "call": {"function", "key", "args"}}}
	{"fetchForwarder": {"key": callKey, "for": function, "result"}}
	{"fetchForwarder": {"key", "error": {...}}}
	{"webSocketForwarder": {"key", "method", "args"}}
	{"console": {"log" | "debug" | "warn": args}}

In memory the five fetchForwarder shapes are distinct variants of Message so
request/reply and method-call traffic cannot be confused; the shared wire key
is only a compatibility concern of Encode and Decode.

# Values

Serialize turns arbitrary Go values into something that crosses the wire,
falling back from a structural clone to a JSON round trip, to string
coercion, to a stashed failure message. Errors travel as SerializedError and
come back out as *RemoteError with their name and extra fields intact.

Bytes (request bodies, arrayBuffer results, binary socket frames) are carried
as base64 strings.
*/
package protocol
