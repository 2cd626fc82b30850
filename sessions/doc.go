// Package sessions defines the Store that owns game sessions, keyed by their
// opaque identifier. It knows nothing about transports.
//
// Ownership & concurrency
//
//	Create -> assigns a never-reused id and an empty session
//	Get    -> lock-free read of the latest published snapshot
//	Update -> exclusive, per-id serialized mutation (single writer per key)
//
// Update is the only way to mutate a session. Calls for the same id run one at
// a time in arrival order; calls for different ids never wait on each other.
// This lets the gateway hold a session across a slow Oracle call without
// blocking other games.
//
// Implementations
//
//	memory : in-process arena; the only implementation, sessions are not shared across processes
//
// Sessions are retained for the life of the process; there is no expiry.
package sessions
