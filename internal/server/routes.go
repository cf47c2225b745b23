package server

import (
	"net/http"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/devices", s.DevicesHandler)
	e.GET("/api/devices/:id", s.DeviceHandler)
	if s.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}
	if s.wsHub != nil {
		e.GET("/api/ws", s.WebSocketHandler)
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) DevicesHandler(c echo.Context) error {
	devices, err := s.devices()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, devices)
}

func (s *Server) DeviceHandler(c echo.Context) error {
	devices, err := s.devices()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	id := c.Param("id")
	for _, dev := range devices {
		if dev.Id == id {
			return c.JSON(http.StatusOK, dev)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "device not found")
}

func (s *Server) devices() ([]domain.DeviceSnapshot, error) {
	res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.GetDevicesRequest{}, 5*time.Second).Result()
	if err != nil {
		return nil, err
	}
	response, ok := res.(domain.GetDevicesResponse)
	if !ok {
		return nil, echo.ErrServiceUnavailable
	}
	if response.HasResponseError() {
		return nil, response.GetResponseError()
	}
	return response.Devices, nil
}
