// Package permission defines the ordered membership levels
// (user < admin < owner < master) and the single policy function that
// decides whether one member may change another member's level.
//
// The package is pure: no I/O, no dependency on the engine or stores.
package permission
