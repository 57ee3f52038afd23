package batch

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (ctrl *Controller) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	cancelled, err := ctrl.coord.Cancel(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, &CancelResponse{Cancelled: cancelled})
}
