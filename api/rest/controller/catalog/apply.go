package catalog

import (
	"net/http"

	"github.com/caesium-cloud/fanout/internal/catalog"
	"github.com/caesium-cloud/fanout/pkg/log"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type Controller struct {
	importer *catalog.Importer
}

func New(db *gorm.DB) *Controller {
	return &Controller{importer: catalog.NewImporter(db)}
}

func (ctrl *Controller) Bind(g *echo.Group) {
	g.POST("/catalog/apply", ctrl.Apply)
}

// Apply upserts the queries, targets and grants in the request body.
func (ctrl *Controller) Apply(c echo.Context) error {
	var doc catalog.Document
	if err := c.Bind(&doc); err != nil {
		return err
	}

	sum, err := ctrl.importer.Apply(c.Request().Context(), &doc)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalid) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
		}
		log.Error("catalog apply failed", "error", err)
		return echo.ErrInternalServerError.SetInternal(err)
	}

	log.Info(
		"catalog applied",
		"queries", len(doc.Queries),
		"targets", len(doc.Targets),
		"grants_created", sum.GrantsCreated)

	return c.JSON(http.StatusOK, sum)
}
