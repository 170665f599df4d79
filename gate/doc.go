// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

/*
Package gate implements the threshold rendezvous gate that session workers
block on before engaging their target. Its main structs are the Gate and the
Registry.

A Gate is created per session from the session's expected worker count and
the configured ready threshold percent. Workers report ready as they finish
provisioning; once the number of distinct ready workers reaches the derived
threshold the gate opens exactly once and every waiter, current and future,
is released. A session that ends before the threshold is met force-opens its
gate so no worker is left blocked.

	 worker A ──ready──┐
	 worker B ──ready──┤      ┌──────┐ open   ┌─────────────┐
	 worker C ─────────┼─────▶│ GATE │───────▶│ all waiters │
	 worker D ──ready──┤      └──────┘        │  released   │
	 worker E ──ready──┘   4/5 ready >= 60%   └─────────────┘

Opening is one way. A Gate never closes again, and a worker that arrives
after the gate opened passes through immediately.

The Registry maps session IDs to Gates and fronts them with a permissive
API: every lookup for a session without a gate behaves as if the gate were
already open. Workers therefore never block on sessions that do not use
gating, that already ended, or that raced session registration.
*/
package gate
