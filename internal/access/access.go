// Package access decides which roles may run which map operations.
package access

import (
	"fmt"
	"strings"

	"ampnm/core-go/internal/model"
)

type Role int

const (
	// PublicGuest is the anonymous share-link visitor. It is the zero value.
	PublicGuest Role = iota
	Viewer
	Admin
)

func (r Role) String() string {
	switch r {
	case Admin:
		return "admin"
	case Viewer:
		return "viewer"
	default:
		return "public"
	}
}

// ParseRole maps a role name onto a Role. Unknown names are rejected.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return Admin, nil
	case "viewer", "user":
		return Viewer, nil
	case "public", "guest", "":
		return PublicGuest, nil
	default:
		return PublicGuest, model.Invalid("role", fmt.Sprintf("unknown role %q", s))
	}
}

// Class groups operations by the roles allowed to run them.
type Class int

const (
	// Read covers opening, viewing, streaming and closing the working map and
	// its status logs. Shared maps reach public guests through share.PublicView
	// only.
	Read Class = iota
	// Probe covers check-now and refresh-all.
	Probe
	// Mutate covers every create, update, delete, reposition and share toggle.
	Mutate
)

func (c Class) String() string {
	switch c {
	case Probe:
		return "probe"
	case Mutate:
		return "mutate"
	default:
		return "read"
	}
}

// Gate carries the caller's role into every entry point.
type Gate struct {
	role Role
}

func NewGate(r Role) Gate { return Gate{role: r} }

func (g Gate) Role() Role { return g.role }

// Allows reports whether the role may run operations of class c.
func (g Gate) Allows(c Class) bool {
	switch c {
	case Read, Probe:
		return g.role == Admin || g.role == Viewer
	case Mutate:
		return g.role == Admin
	default:
		return false
	}
}

// Check returns an error wrapping model.ErrPermissionDenied when the role may
// not run op.
func (g Gate) Check(c Class, op string) error {
	if g.Allows(c) {
		return nil
	}
	return fmt.Errorf("%s requires %s access, caller is %s: %w", op, requiredRole(c), g.role, model.ErrPermissionDenied)
}

func requiredRole(c Class) string {
	if c == Mutate {
		return "admin"
	}
	return "viewer"
}
