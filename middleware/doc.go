// Package middleware adapts goTenant.Engine checks to net/http.
//
// # Guards
//
//   - [Require] authorizes a bearer session at a minimum permission level.
//   - [RequireUnverified] does the same for routes open to unverified users.
//   - [RequireAPIKey] authorizes an account API key for one scope.
//
// Guards attach what they verified to the request context; read it back with
// [ClaimsFromContext] or [APIKeyFromContext].
//
// [ClientMeta] records the caller's IP and User-Agent for sign-in risk
// scoring, and [BillingWebhook] forwards gateway events to the engine.
//
// Every decision is made by the engine. This package only reads headers and
// maps errors to HTTP statuses with goTenant.StatusOf.
package middleware
