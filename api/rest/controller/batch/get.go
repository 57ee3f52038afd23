package batch

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	b, err := ctrl.service(c.Request().Context()).Get(id)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, b)
}

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	resp, err := ctrl.service(c.Request().Context()).List(req)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, resp)
}
