package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GoldCast/internal/domain/models"
	domsvc "GoldCast/internal/domain/service"
	"GoldCast/internal/services/spot"
	"GoldCast/pkg/logger"
	"GoldCast/pkg/util"
)

// Recorder backends.
const (
	RecordToStore = "store"
	RecordToKafka = "kafka"
)

// PricePublisher sends a price message to a topic.
type PricePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// SpotRecorder periodically turns the current spot price into today's
// observation, either upserting it directly or publishing it to the
// ingestion topic.
type SpotRecorder struct {
	spot     domsvc.SpotProvider
	prices   *PriceService
	pub      PricePublisher
	topic    string
	backend  string
	interval time.Duration
	log      *logger.Logger
}

func NewSpotRecorder(
	spotProvider domsvc.SpotProvider,
	prices *PriceService,
	pub PricePublisher,
	topic string,
	backend string,
	interval time.Duration,
	log *logger.Logger,
) *SpotRecorder {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &SpotRecorder{
		spot:     spotProvider,
		prices:   prices,
		pub:      pub,
		topic:    topic,
		backend:  backend,
		interval: interval,
		log:      log.With(logger.String("component", "spot_recorder"), logger.String("backend", backend)),
	}
}

// Run records once immediately and then every interval until ctx is done.
func (r *SpotRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.RecordOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("spot record failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RecordOnce stores the current spot price. A missing spot price is skipped.
func (r *SpotRecorder) RecordOnce(ctx context.Context) error {
	q, err := r.spot.GetCurrentSpot(ctx)
	if errors.Is(err, spot.ErrSpotUnavailable) {
		r.log.Debug("no spot price yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get spot: %w", err)
	}

	obs := models.PriceObservation{
		Date:     util.DayUTC(q.ObservedAt),
		Price:    q.USDPerOunce,
		Asset:    r.prices.asset,
		Currency: r.prices.currency,
	}

	switch r.backend {
	case RecordToKafka:
		if r.pub == nil {
			return errors.New("kafka backend without publisher")
		}
		msg := priceMessage{Asset: obs.Asset, Currency: obs.Currency, Date: util.FormatDay(obs.Date), Price: obs.Price}
		if err := r.pub.Publish(ctx, r.topic, []byte(obs.Asset), msg); err != nil {
			r.prices.metrics.RecordError("spot_publish")
			return fmt.Errorf("publish spot: %w", err)
		}
	case RecordToStore:
		if err := r.prices.Ingest(ctx, []models.PriceObservation{obs}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown backend: %s", r.backend)
	}

	r.log.Debug("spot recorded", logger.Float64("price", obs.Price), logger.String("date", util.FormatDay(obs.Date)))
	return nil
}
