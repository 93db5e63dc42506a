// Package tracker implements client admission control for capture task requests.
//
// For every inbound request the Tracker decides whether a caller may start a new
// task, based on how many tasks that caller has outstanding on the farm. Callers
// are identified by their IP address and by an opaque identity token minted by
// the IdentityCodec. Tokens are self-verifying (nonce plus HMAC-SHA256 signature),
// so no session storage is needed to recognize a returning caller.
//
// The package is organized around four components:
//
//   - IdentityCodec mints and validates identity tokens.
//   - registry is the in-memory table of ClientRecords; it is only reachable
//     through the Tracker, which serializes every access with a single mutex.
//   - CompletionOracle reports whether a task reference reached a terminal state.
//     StatusOracle implements it over a StatusLookup with an explicit
//     FailurePolicy; FarmLookup adapts the farm API client to StatusLookup.
//   - Tracker runs the admission protocol (AddTask) and returns a Decision.
//
// Quota outcomes are Decisions, not errors. The only error the Tracker returns is
// a ConsistencyError, raised when the registry holds duplicate records for one
// identity or one anonymous IP address.
//
// Nothing is persisted: a restart forgets every caller.
package tracker
