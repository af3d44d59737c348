package forecasting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GoldCast/internal/domain/models"
	domsvc "GoldCast/internal/domain/service"
)

const PathForecast = "/forecast"

var ErrEmptyForecast = errors.New("upstream returned no forecast points")

// ProphetClient calls the single-model forecast endpoint.
type ProphetClient struct {
	base *HTTPServiceBase
}

func NewProphetClient(baseURL string, timeout time.Duration, opts ...Option) *ProphetClient {
	return &ProphetClient{base: NewHTTPServiceBase(baseURL, timeout, opts...)}
}

type prophetRequest struct {
	Rows        []models.PriceRow `json:"rows"`
	HorizonDays int               `json:"horizon_days"`
}

type prophetResponse struct {
	Forecast []models.ForecastPoint `json:"forecast"`
}

func (c *ProphetClient) Forecast(ctx context.Context, rows []models.PriceRow, horizonDays int) ([]models.ForecastPoint, error) {
	var resp prophetResponse
	if err := c.base.PostJSON(ctx, PathForecast, prophetRequest{Rows: rows, HorizonDays: horizonDays}, &resp); err != nil {
		return nil, fmt.Errorf("prophet forecast: %w", err)
	}
	if len(resp.Forecast) == 0 {
		return nil, ErrEmptyForecast
	}
	return resp.Forecast, nil
}

var _ domsvc.BasicForecaster = (*ProphetClient)(nil)
