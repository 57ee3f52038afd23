package batch

import (
	"context"
	"net/http"
	"strconv"

	bsvc "github.com/caesium-cloud/fanout/api/rest/service/batch"
	corebatch "github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/event"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/caesium-cloud/fanout/internal/result"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Coordinator is the write side the controller drives.
type Coordinator interface {
	Submit(ctx context.Context, principal string, req *corebatch.SubmitRequest) (*models.Batch, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

type Controller struct {
	coord   Coordinator
	bus     event.Bus
	db      *gorm.DB
	maxRows int
}

type Option func(*Controller)

// WithDatabase reads batches from conn instead of the process connection.
func WithDatabase(conn *gorm.DB) Option {
	return func(ctrl *Controller) { ctrl.db = conn }
}

func WithMaxRows(n int) Option {
	return func(ctrl *Controller) { ctrl.maxRows = n }
}

func New(coord Coordinator, bus event.Bus, opts ...Option) *Controller {
	if coord == nil {
		panic("batch controller requires a coordinator")
	}
	if bus == nil {
		bus = event.Nop{}
	}
	ctrl := &Controller{coord: coord, bus: bus, maxRows: result.DefaultMaxRows}
	for _, opt := range opts {
		opt(ctrl)
	}
	return ctrl
}

// Bind mounts the batch routes on g.
func (ctrl *Controller) Bind(g *echo.Group) {
	g.POST("/batches", ctrl.Post)
	g.GET("/batches", ctrl.List)
	g.GET("/batches/:id", ctrl.Get)
	g.GET("/batches/:id/results", ctrl.Results)
	g.GET("/batches/:id/events", ctrl.Events)
	g.POST("/batches/:id/cancel", ctrl.Cancel)
}

func (ctrl *Controller) service(ctx context.Context) bsvc.Batch {
	svc := bsvc.Service(ctx).WithMaxRows(ctrl.maxRows)
	if ctrl.db != nil {
		svc = svc.WithDatabase(ctrl.db)
	}
	return svc
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.ErrBadRequest.SetInternal(err)
	}
	return id, nil
}

// httpError maps domain errors to status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, corebatch.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case errors.Is(err, corebatch.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error()).SetInternal(err)
	case errors.Is(err, corebatch.ErrQueryNotFound),
		errors.Is(err, corebatch.ErrTargetNotFound),
		errors.Is(err, corebatch.ErrBatchNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
	default:
		return echo.ErrInternalServerError.SetInternal(err)
	}
}

func parseListRequest(c echo.Context) (req *bsvc.ListRequest, err error) {
	req = &bsvc.ListRequest{
		Owner:   c.QueryParam("owner"),
		QueryID: c.QueryParam("query_id"),
		Status:  c.QueryParam("status"),
	}

	if limit := c.QueryParam("limit"); limit != "" {
		if req.Limit, err = strconv.ParseUint(limit, 10, 64); err != nil {
			return nil, err
		}
	}

	if offset := c.QueryParam("offset"); offset != "" {
		if req.Offset, err = strconv.ParseUint(offset, 10, 64); err != nil {
			return nil, err
		}
	}

	return
}
