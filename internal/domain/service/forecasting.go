package service

import (
	"context"
	"time"

	"GoldCast/internal/domain/models"
)

// BasicForecaster calls the single-model forecast endpoint.
type BasicForecaster interface {
	Forecast(ctx context.Context, rows []models.PriceRow, horizonDays int) ([]models.ForecastPoint, error)
}

type EnhancedRequest struct {
	Rows                     []models.PriceRow   `json:"rows"`
	ExternalFeatures         []models.FeatureRow `json:"external_features"`
	HorizonDays              int                 `json:"horizon_days"`
	UseEnsemble              bool                `json:"use_ensemble"`
	IncludeFeatureImportance bool                `json:"include_feature_importance"`
}

type EnhancedResponse struct {
	Forecast     []models.ForecastPoint
	ModelVersion string
	Ensemble     *models.EnsembleInfo
}

// EnhancedForecaster calls the multi-model ensemble forecast endpoint.
type EnhancedForecaster interface {
	Forecast(ctx context.Context, req EnhancedRequest) (EnhancedResponse, error)
}

// SpotProvider returns the current spot price.
type SpotProvider interface {
	GetCurrentSpot(ctx context.Context) (models.SpotQuote, error)
}

// FeatureCollector derives auxiliary signals from a chronological price series.
type FeatureCollector interface {
	Collect(prices []float64, dates []time.Time) models.RawFeatures
	FormatForEnhanced(raw models.RawFeatures) []models.FeatureRow
}

// QualityChecker scores and repairs a price series.
type QualityChecker interface {
	Score(points []models.PriceObservation) float64
	Clean(points []models.PriceObservation) (cleaned []models.PriceObservation, removed int)
	FillMissing(points []models.PriceObservation) []models.PriceObservation
}
