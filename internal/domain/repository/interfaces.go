package repository

import (
	"context"

	"GoldCast/internal/domain/models"
)

// PriceStore reads and writes daily price observations.
type PriceStore interface {
	// FindRecent returns up to limit observations, newest first.
	FindRecent(ctx context.Context, asset, currency string, limit int) ([]models.PriceObservation, error)
	SavePrices(ctx context.Context, prices []models.PriceObservation) error
	Health(ctx context.Context) error
}

// ForecastStore persists basic forecast runs and their points.
type ForecastStore interface {
	CreateForecastRun(ctx context.Context, run models.ForecastRun) error
	// CreateForecastPoints inserts all rows or none.
	CreateForecastPoints(ctx context.Context, rows []models.ForecastPointRow) error
}

// EventPublisher announces domain events to downstream consumers.
type EventPublisher interface {
	PublishForecastGenerated(ctx context.Context, ev models.ForecastGenerated) error
	Close() error
}

type Metrics interface {
	IncCacheHit(path string)
	IncCacheMiss(path string)
	ObserveColdLatency(path string, seconds float64)
	ObserveWarmLatency(path string, seconds float64)
	ObserveUpstream(endpoint string, seconds float64, err error)
	RecordPricesIngested(asset string, n int)
	RecordError(kind string)
}
