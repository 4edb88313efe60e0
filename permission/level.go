package permission

import (
	"errors"
	"strings"
)

// Level is a membership permission. Levels are ordered; a higher level
// includes every right of the levels below it.
type Level string

const (
	User   Level = "user"
	Admin  Level = "admin"
	Owner  Level = "owner"
	Master Level = "master"
)

// ErrUnknownLevel is returned by Parse for names outside the hierarchy.
var ErrUnknownLevel = errors.New("permission: unknown level")

var rank = map[Level]int{
	User:   1,
	Admin:  2,
	Owner:  3,
	Master: 4,
}

// Parse normalizes and validates a level name.
func Parse(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rank[l]; !ok {
		return "", ErrUnknownLevel
	}
	return l, nil
}

// Valid reports whether l is part of the hierarchy.
func (l Level) Valid() bool {
	_, ok := rank[l]
	return ok
}

// Includes reports whether a holder of l may act at the required level.
func (l Level) Includes(required Level) bool {
	have, ok := rank[l]
	if !ok {
		return false
	}
	need, ok := rank[required]
	if !ok {
		return false
	}
	return have >= need
}

// Assignable reports whether l can be granted through a membership update.
// Owner and master are only ever set at account creation.
func (l Level) Assignable() bool {
	return l == User || l == Admin
}

func (l Level) String() string { return string(l) }
