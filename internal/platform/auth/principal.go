package auth

import (
	"context"
	"strings"
)

type contextKey struct{}

// Principal is the authenticated caller behind a request.
type Principal struct {
	ID    string
	Name  string
	Roles []string
}

// HasRole reports whether p holds role. Admins hold every role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == RoleAdmin || r == role {
			return true
		}
	}
	return false
}

// WithPrincipal stores p on ctx, lower-casing its roles.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	roles := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}
	p.Roles = roles
	return context.WithValue(ctx, contextKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

func UserIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.ID
}

func RolesFromContext(ctx context.Context) []string {
	p, _ := PrincipalFromContext(ctx)
	return p.Roles
}
