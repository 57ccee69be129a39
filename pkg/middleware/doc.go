// Package middleware wraps net/http handlers with the rate limiter, the lock
// manager and the idempotency guard. Keys come from a caller supplied KeyFunc;
// the decorators never inspect handler internals.
package middleware
