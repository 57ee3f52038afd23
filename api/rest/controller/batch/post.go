package batch

import (
	"net/http"

	"github.com/caesium-cloud/fanout/api/rest/principal"
	corebatch "github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/pkg/log"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type PostResponse struct {
	BatchID      uuid.UUID `json:"batch_id"`
	Status       string    `json:"status"`
	TotalTargets int       `json:"total_targets"`
}

func (ctrl *Controller) Post(c echo.Context) error {
	req := &corebatch.SubmitRequest{}
	if err := c.Bind(req); err != nil {
		return err
	}

	b, err := ctrl.coord.Submit(c.Request().Context(), principal.From(c), req)
	if err != nil {
		log.Warn("batch rejected", "query_id", req.QueryID, "targets", len(req.TargetIDs), "error", err)
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, &PostResponse{
		BatchID:      b.ID,
		Status:       b.Status,
		TotalTargets: b.TotalTargets,
	})
}
