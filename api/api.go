package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/caesium-cloud/fanout/api/rest/bind"
	"github.com/caesium-cloud/fanout/api/rest/principal"
	"github.com/caesium-cloud/fanout/internal/governor"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type Config struct {
	Port            int
	PrincipalHeader string
	Governor        *governor.Governor
}

// Server is fanout's HTTP API.
type Server struct {
	e    *echo.Echo
	addr string
}

// New builds the API and mounts every controller under /v1.
func New(cfg Config, controllers ...bind.Controller) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// health
	e.GET("/health", Health(cfg.Governor))

	// metrics
	prometheus.NewPrometheus("fanout", nil).Use(e)

	// REST
	bind.All(e.Group("/v1", principal.Middleware(cfg.PrincipalHeader)), controllers...)

	return &Server{e: e, addr: fmt.Sprintf(":%v", cfg.Port)}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api server")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
