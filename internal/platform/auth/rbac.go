package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin     = "admin"
	RolePhysician = "physician"
	RoleNurse     = "nurse"
	RoleClerk     = "clerk"
)

// KnownRole reports whether role is one the API grants access by.
func KnownRole(role string) bool {
	switch role {
	case RoleAdmin, RolePhysician, RoleNurse, RoleClerk:
		return true
	}
	return false
}

// RequireRole lets the request through when the caller holds any of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, _ := PrincipalFromContext(c.Request().Context())
			for _, r := range roles {
				if p.HasRole(r) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
