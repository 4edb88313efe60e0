// Package limiters holds the Redis counters that slow down guessing:
// progressive sign-in lockout, per-action request throttles, second-factor
// attempt limits and the TOTP replay guard.
//
// Each limiter owns its key namespace and error values. Thresholds come from
// config structs; consequences (what to tell the caller, whether to notify)
// are decided by the engine.
//
// All limiters are nil-safe: a nil limiter allows everything.
package limiters
