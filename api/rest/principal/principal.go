// Package principal carries the caller identity set by the upstream
// authenticating proxy.
package principal

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultHeader = "X-Principal"
	contextKey    = "fanout.principal"
)

// Middleware copies the principal header into the request context.
func Middleware(header string) echo.MiddlewareFunc {
	if strings.TrimSpace(header) == "" {
		header = DefaultHeader
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(contextKey, strings.TrimSpace(c.Request().Header.Get(header)))
			return next(c)
		}
	}
}

// From returns the caller of c, or "" when none was given.
func From(c echo.Context) string {
	p, _ := c.Get(contextKey).(string)
	return p
}
