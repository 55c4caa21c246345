package authz

import "context"

// Role is a capability tag carried by a principal. A principal may hold any
// combination of roles, so checks are set intersections rather than type
// tests.
type Role string

const (
	RoleDriver    Role = "driver"
	RoleInspector Role = "inspector"
	RoleVendor    Role = "vendor"
	RoleAdmin     Role = "admin"
)

// RoleSet is the set of roles granted to a principal.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet from role names, ignoring unknown tags.
func NewRoleSet(names ...string) RoleSet {
	set := make(RoleSet, len(names))
	for _, name := range names {
		switch Role(name) {
		case RoleDriver, RoleInspector, RoleVendor, RoleAdmin:
			set[Role(name)] = struct{}{}
		}
	}
	return set
}

// Has reports membership of a single role.
func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}

// HasAny reports whether the intersection with required is non-empty.
func (s RoleSet) HasAny(required ...Role) bool {
	for _, role := range required {
		if _, ok := s[role]; ok {
			return true
		}
	}
	return false
}

// Names returns the sorted-insensitive slice form for persistence.
func (s RoleSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, role := range []Role{RoleDriver, RoleInspector, RoleVendor, RoleAdmin} {
		if _, ok := s[role]; ok {
			names = append(names, string(role))
		}
	}
	return names
}

// Principal is the authenticated actor threaded explicitly through every
// engine call. Services never read it from ambient state.
type Principal struct {
	ID      int64
	Email   string
	Name    string
	Balance float64
	Roles   RoleSet
}

// Authorize reports whether the principal holds at least one required role.
func Authorize(p *Principal, required ...Role) bool {
	if p == nil {
		return false
	}
	return p.Roles.HasAny(required...)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context, nil when absent.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
