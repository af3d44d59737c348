package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"GoldCast/internal/domain/models"
	"GoldCast/internal/services/spot"
	"GoldCast/pkg/circuitbreaker"
	xhttp "GoldCast/pkg/http"
	xlogger "GoldCast/pkg/logger"
)

type Forecaster interface {
	Generate(ctx context.Context, req models.ForecastRequest) (*models.ForecastResult, error)
	FlushCache(ctx context.Context) error
}

type PriceReader interface {
	Latest(ctx context.Context, limit int) ([]models.PriceObservation, error)
	Health(ctx context.Context) error
}

type BreakerRegistry interface {
	Snapshot() []circuitbreaker.Snapshot
	Reset(service string) bool
}

// ForecastEchoHandler serves the forecast, price and breaker endpoints.
type ForecastEchoHandler struct {
	logger    *xlogger.Logger
	forecasts Forecaster
	prices    PriceReader
	breakers  BreakerRegistry
}

func NewForecastEchoHandler(logger *xlogger.Logger, forecasts Forecaster, prices PriceReader, breakers BreakerRegistry) *ForecastEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &ForecastEchoHandler{logger: logger, forecasts: forecasts, prices: prices, breakers: breakers}
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/forecast", h.Forecast)
	g.POST("/forecast/cache/flush", h.FlushCache)
	g.GET("/prices", h.Prices)
	g.GET("/breakers", h.Breakers)
	g.POST("/breakers/:name/reset", h.ResetBreaker)
}

func (h *ForecastEchoHandler) Forecast(c echo.Context) error {
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.forecasts.Generate(c.Request().Context(), *req)
	if err != nil {
		h.logger.Error("forecast usecase error",
			xlogger.Error(err), xlogger.Int("horizon_days", req.HorizonDays), xlogger.Bool("use_enhanced", req.UseEnhanced))
		return xhttp.AppErrorResponse(c, forecastError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastEchoHandler) FlushCache(c echo.Context) error {
	if err := h.forecasts.FlushCache(c.Request().Context()); err != nil {
		h.logger.Error("flush cache error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("failed to flush forecast cache").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]bool{"flushed": true})
}

func (h *ForecastEchoHandler) Prices(c echo.Context) error {
	req := &models.PricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	obs, err := h.prices.Latest(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("prices usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("failed to load prices").WithError(err))
	}
	return xhttp.SuccessResponse(c, obs)
}

func (h *ForecastEchoHandler) Breakers(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.breakers.Snapshot())
}

func (h *ForecastEchoHandler) ResetBreaker(c echo.Context) error {
	name := c.Param("name")
	if !h.breakers.Reset(name) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown circuit breaker %q", name))
	}
	h.logger.Info("circuit breaker reset", xlogger.String("service", name))
	return xhttp.SuccessResponse(c, map[string]string{"service": name, "state": string(circuitbreaker.StateClosed)})
}

func (h *ForecastEchoHandler) Health(c echo.Context) error {
	if err := h.prices.Health(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// forecastError maps orchestrator failures to API errors.
func forecastError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return xhttp.UnavailableError("forecast service temporarily unavailable").WithError(err)
	case errors.Is(err, spot.ErrSpotUnavailable):
		return xhttp.UnavailableError("spot price unavailable").WithError(err)
	default:
		return xhttp.InternalError("failed to generate forecast").WithError(err)
	}
}
