// Package keystore defines the key-value capability the coordination
// primitives are written against, and two implementations of it.
//
// The capability:
//
//   - SetIfAbsent with a TTL (lease creation)
//   - CompareAndDelete and CompareAndExpire (owner-checked release and renew)
//   - Get, Set, Delete and TTL for plain entries
//   - Eval, which runs a Script atomically against one or more keys
//
// # Backends
//
// RedisStore runs every operation against Redis through go-redis. Scripts are
// executed as Lua with EVALSHA, falling back to EVAL when the server has lost
// its script cache, so a Redis restart does not surface NOSCRIPT errors.
//
// MemoryStore keeps entries in a process-local map guarded by a mutex. Scripts
// run their Go implementation while the mutex is held, which
// gives the same all-or-nothing behaviour as Lua on a single Redis node. It
// is intended for tests and single-instance deployments.
//
// # Errors
//
// Any failure other than "key absent" is reported as an error. Transport and
// server failures wrap ErrUnavailable so callers can fail closed with
// errors.Is(err, keystore.ErrUnavailable). Caller cancellation wraps
// context.Canceled only; deadline expiry wraps both context.DeadlineExceeded
// and ErrUnavailable.
package keystore
