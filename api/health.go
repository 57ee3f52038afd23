package api

import (
	"net/http"
	"time"

	"github.com/caesium-cloud/fanout/internal/governor"
	"github.com/labstack/echo/v4"
)

var startedAt time.Time

func init() {
	startedAt = time.Now()
}

// HealthResponse defines the data the Health
// REST endpoint returns.
type HealthResponse struct {
	Status Status        `json:"status"`
	Uptime time.Duration `json:"uptime"`
	// Executions reports remote executions in flight against the
	// process-wide limit.
	Executions *Capacity `json:"executions,omitempty"`
}

type Capacity struct {
	InFlight int `json:"in_flight"`
	Limit    int `json:"limit"`
}

// Health reports whether fanout is up, for how long, and how busy its
// execution slots are.
func Health(gov *governor.Governor) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := HealthResponse{
			Status: Healthy,
			Uptime: time.Since(startedAt),
		}
		if gov != nil {
			resp.Executions = &Capacity{InFlight: gov.InFlight(), Limit: gov.Limit()}
			if resp.Executions.InFlight >= resp.Executions.Limit {
				resp.Status = Saturated
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// Status enumerates the health statues of fanout.
type Status string

const (
	// Healthy implies fanout is having no major issues.
	Healthy Status = "healthy"
	// Saturated means every execution slot is taken; new children queue.
	Saturated Status = "saturated"
)
