package forecasting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"GoldCast/internal/domain/models"
	domsvc "GoldCast/internal/domain/service"
)

const (
	PathEnhanced = "/forecast/enhanced"

	defaultEnhancedVersion = "ensemble"
)

// EnhancedClient calls the ensemble forecast endpoint.
type EnhancedClient struct {
	base *HTTPServiceBase
}

func NewEnhancedClient(baseURL string, timeout time.Duration, opts ...Option) *EnhancedClient {
	return &EnhancedClient{base: NewHTTPServiceBase(baseURL, timeout, opts...)}
}

type enhancedResponse struct {
	Forecast           []models.ForecastPoint `json:"forecast"`
	ModelVersion       string                 `json:"model_version"`
	EnsemblePrediction json.RawMessage        `json:"ensemble_prediction"`
	IndividualModels   json.RawMessage        `json:"individual_models"`
	FeatureImportance  map[string]float64     `json:"feature_importance"`
	MarketRegime       string                 `json:"market_regime"`
	ConfidenceScore    *float64               `json:"confidence_score"`
}

func (c *EnhancedClient) Forecast(ctx context.Context, req domsvc.EnhancedRequest) (domsvc.EnhancedResponse, error) {
	var out domsvc.EnhancedResponse
	if req.Rows == nil {
		req.Rows = []models.PriceRow{}
	}
	if req.ExternalFeatures == nil {
		req.ExternalFeatures = []models.FeatureRow{}
	}

	var resp enhancedResponse
	if err := c.base.PostJSON(ctx, PathEnhanced, req, &resp); err != nil {
		return out, fmt.Errorf("enhanced forecast: %w", err)
	}
	if len(resp.Forecast) == 0 {
		return out, ErrEmptyForecast
	}

	out.Forecast = resp.Forecast
	out.ModelVersion = resp.ModelVersion
	if out.ModelVersion == "" {
		out.ModelVersion = defaultEnhancedVersion
	}
	out.Ensemble = resp.ensemble()
	return out, nil
}

// ensemble returns nil when the upstream sent none of the ensemble fields.
func (r enhancedResponse) ensemble() *models.EnsembleInfo {
	info := &models.EnsembleInfo{
		EnsemblePrediction: present(r.EnsemblePrediction),
		IndividualModels:   present(r.IndividualModels),
		FeatureImportance:  r.FeatureImportance,
		MarketRegime:       r.MarketRegime,
		ConfidenceScore:    r.ConfidenceScore,
	}
	if info.EnsemblePrediction == nil && info.IndividualModels == nil && len(info.FeatureImportance) == 0 &&
		info.MarketRegime == "" && info.ConfidenceScore == nil {
		return nil
	}
	return info
}

func present(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}

var _ domsvc.EnhancedForecaster = (*EnhancedClient)(nil)
