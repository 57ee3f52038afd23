package batch

import (
	"net/http"

	"github.com/caesium-cloud/fanout/internal/result"
	"github.com/labstack/echo/v4"
)

// Results answers 409 until at least one child resolved or the batch is
// terminal.
func (ctrl *Controller) Results(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	view, err := ctrl.service(c.Request().Context()).Results(id)
	if err != nil {
		return httpError(err)
	}

	if view.State == result.StateNotReady {
		return echo.NewHTTPError(http.StatusConflict, "results not ready")
	}

	return c.JSON(http.StatusOK, view)
}
