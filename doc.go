// Package goTenant is the identity and billing core of a multi-tenant SaaS
// backend: users, accounts and memberships, signed session tokens, sign-in
// risk scoring, TOTP two-factor, API keys, subscription plans kept in step
// with a payment gateway, and metered usage reported on a schedule.
//
// An [Engine] is assembled with [Builder] from a [Config], a Redis client, a
// store backend (store/redisstore or store/sqlstore) and a billing.Gateway
// (billing/stripegw in production). Engine methods are safe for concurrent
// use once Build returns.
//
// # Architecture boundaries
//
// The root package is the public surface. Persistence sits behind the
// interfaces in package store; the payment provider sits behind
// billing.Gateway; notifications leave through a [NotificationSink] and are
// delivered by the host application. Redis is used directly only for
// throttling, the per-account plan lock and the job queue.
//
// Errors carry their HTTP status; see [StatusOf].
package goTenant
