// Package abuseshield implements adaptive path-based rate limiting with
// automatic abuse blocking for HTTP services.
//
// Requests are classified into endpoint classes by path prefix, counted in
// fixed windows per client IP and per authenticated identity, and denied
// with escalating backoff once a class quota is exceeded. Repeat offenders
// cross an auto-block threshold and are banned outright for a growing,
// capped duration. Violations and blocks are written to durable stores for
// audit and manual override; the hot path runs entirely against a fast
// counter store with atomic increment-and-expire semantics.
//
// The decision engine is stateless: all mutable state lives in the injected
// stores, so a single engine safely serves concurrent requests and multiple
// processes can share one Redis-backed counter store. Storage failures
// degrade to allowing the request; a cache outage weakens limiting instead
// of taking the service down.
package abuseshield
