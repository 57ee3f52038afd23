package bind

import (
	"github.com/labstack/echo/v4"
)

// Controller mounts its routes on a versioned group.
type Controller interface {
	Bind(*echo.Group)
}

func All(g *echo.Group, controllers ...Controller) {
	for _, c := range controllers {
		if c != nil {
			c.Bind(g)
		}
	}
}
