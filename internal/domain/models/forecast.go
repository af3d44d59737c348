package models

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ForecastRequest carries the knobs of a single forecast call.
type ForecastRequest struct {
	HorizonDays    int  `query:"horizon_days" json:"horizon_days" default:"14" validate:"gte=1,lte=365"`
	ForceCold      bool `query:"force_cold" json:"force_cold"`
	IncludeHistory bool `query:"include_history" json:"include_history"`
	UseEnhanced    bool `query:"use_enhanced" json:"use_enhanced" default:"true"`
	UseEnsemble    bool `query:"use_ensemble" json:"use_ensemble" default:"true"`
}

// DefaultForecastRequest mirrors the struct tag defaults for callers outside HTTP.
func DefaultForecastRequest() ForecastRequest {
	return ForecastRequest{HorizonDays: 14, UseEnhanced: true, UseEnsemble: true}
}

// ForecastPoint is a single horizon day. YhatLower <= Yhat <= YhatUpper.
type ForecastPoint struct {
	Date      string  `json:"ds"`
	Yhat      float64 `json:"yhat"`
	YhatLower float64 `json:"yhat_lower"`
	YhatUpper float64 `json:"yhat_upper"`
}

type HistoryPoint struct {
	Date  string  `json:"ds"`
	Price float64 `json:"price"`
}

type SeasonalityFlags struct {
	Daily  bool `json:"daily"`
	Weekly bool `json:"weekly"`
	Yearly bool `json:"yearly"`
}

// EnsembleInfo holds the enhanced upstream fields, passed through verbatim.
type EnsembleInfo struct {
	EnsemblePrediction json.RawMessage    `json:"ensemble_prediction,omitempty"`
	IndividualModels   json.RawMessage    `json:"individual_models,omitempty"`
	FeatureImportance  map[string]float64 `json:"feature_importance,omitempty"`
	MarketRegime       string             `json:"market_regime,omitempty"`
	ConfidenceScore    *float64           `json:"confidence_score,omitempty"`
}

type ForecastResult struct {
	GeneratedAt        time.Time        `json:"generated_at"`
	HorizonDays        int              `json:"horizon_days"`
	ModelVersion       string           `json:"model_version"`
	TrainingWindowDays int              `json:"training_window_days"`
	Seasonality        SeasonalityFlags `json:"seasonality"`
	HolidaysEnabled    bool             `json:"holidays"`
	Forecast           []ForecastPoint  `json:"forecast"`
	History            []HistoryPoint   `json:"history,omitempty"`
	Ensemble           *EnsembleInfo    `json:"ensemble,omitempty"`
	Degraded           bool             `json:"degraded"`
	Note               string           `json:"note,omitempty"`
}

// Clone returns a deep copy, so callers sharing one computed result can
// modify theirs freely.
func (r *ForecastResult) Clone() *ForecastResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Forecast = slices.Clone(r.Forecast)
	c.History = slices.Clone(r.History)
	c.Ensemble = r.Ensemble.Clone()
	return &c
}

func (e *EnsembleInfo) Clone() *EnsembleInfo {
	if e == nil {
		return nil
	}
	c := *e
	c.EnsemblePrediction = bytes.Clone(e.EnsemblePrediction)
	c.IndividualModels = bytes.Clone(e.IndividualModels)
	c.FeatureImportance = maps.Clone(e.FeatureImportance)
	if e.ConfidenceScore != nil {
		score := *e.ConfidenceScore
		c.ConfidenceScore = &score
	}
	return &c
}

// ForecastRun is the persisted request-level record of a basic forecast.
type ForecastRun struct {
	ID                 uuid.UUID
	GeneratedAt        time.Time
	HorizonDays        int
	ModelVersion       string
	RandomState        int
	TrainingWindowDays int
	Seasonality        string // serialized SeasonalityFlags
	LastObservation    time.Time
	Asset              string
	Currency           string
}

// ForecastPointRow is a persisted forecast point. Numeric fields are
// decimal strings.
type ForecastPointRow struct {
	RunID     uuid.UUID
	Date      time.Time
	Yhat      string
	YhatLower string
	YhatUpper string
}

// ForecastGenerated is announced after a forecast run is persisted.
type ForecastGenerated struct {
	RunID           string          `json:"run_id"`
	GeneratedAt     time.Time       `json:"generated_at"`
	HorizonDays     int             `json:"horizon_days"`
	ModelVersion    string          `json:"model_version"`
	LastObservation string          `json:"last_observation"`
	Asset           string          `json:"asset"`
	Currency        string          `json:"currency"`
	Points          []ForecastPoint `json:"points"`
}
