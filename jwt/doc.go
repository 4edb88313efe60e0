// Package jwt signs and verifies the two token families the engine hands
// out: session credentials carrying account, user and permission claims,
// and short-lived challenge tokens bound to a single purpose.
package jwt
