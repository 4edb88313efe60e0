// Package internal holds helpers private to goTenant: API key and backup
// code generation. Subpackages carry the Redis limiters and the
// notification dispatcher.
package internal
