/*
Package guest runs untrusted JavaScript in a goja runtime and forwards its
I/O to the host over a channel.

# Overview

A single Loop goroutine owns the VM. Channel messages, promise settlements
and socket events all reach the VM as jobs posted to that loop, so script
never runs concurrently with itself. Each job is bounded by the eval timeout
through vm.Interrupt.

# Services

  - eval: runs a script in the global scope with injected globals and replies
    with a serialized result or error. Awaitable results are awaited.
  - init: replaces fetch, WebSocket and console with forwarders and acks.
  - fetch: sends the request to the host and resolves with a response proxy.
    Body bytes and methods such as text() and json() are pulled from the
    host on demand.
  - WebSocket: a proxy whose send and close are forwarded; host events are
    dispatched to local listeners.
  - console: log, debug and warn run locally and are forwarded.

# Usage

	guestEnd, hostEnd := channel.Pipe(guestOrigin, hostOrigin)
	g := guest.New(channel.New(guestEnd, guestOrigin, hostOrigin), guest.DefaultConfig(), logger, metrics)
	go g.Run(ctx)
*/
package guest
