package usecase

import (
	"context"
	"errors"
	"fmt"

	"GoldCast/internal/domain/models"
	domrepo "GoldCast/internal/domain/repository"
)

// PriceService reads and stores observations of the configured asset pair.
type PriceService struct {
	store    domrepo.PriceStore
	metrics  domrepo.Metrics
	asset    string
	currency string
}

func NewPriceService(store domrepo.PriceStore, metrics domrepo.Metrics, asset, currency string) *PriceService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &PriceService{store: store, metrics: metrics, asset: asset, currency: currency}
}

// Latest returns up to limit observations, newest first.
func (s *PriceService) Latest(ctx context.Context, limit int) ([]models.PriceObservation, error) {
	obs, err := s.store.FindRecent(ctx, s.asset, s.currency, limit)
	if err != nil {
		s.metrics.RecordError("price_store")
		return nil, fmt.Errorf("latest prices: %w", err)
	}
	if obs == nil {
		obs = []models.PriceObservation{}
	}
	return obs, nil
}

// Ingest stores observations, filling in the default asset pair.
func (s *PriceService) Ingest(ctx context.Context, prices []models.PriceObservation) error {
	if len(prices) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for i := range prices {
		if prices[i].Asset == "" {
			prices[i].Asset = s.asset
		}
		if prices[i].Currency == "" {
			prices[i].Currency = s.currency
		}
		counts[prices[i].Asset]++
	}
	if err := s.store.SavePrices(ctx, prices); err != nil {
		s.metrics.RecordError("ingest_store")
		return fmt.Errorf("save prices: %w", err)
	}
	for asset, n := range counts {
		s.metrics.RecordPricesIngested(asset, n)
	}
	return nil
}

// Health pings the price store.
func (s *PriceService) Health(ctx context.Context) error {
	if err := s.store.Health(ctx); err != nil {
		return errors.Join(errors.New("price store unhealthy"), err)
	}
	return nil
}
