package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"GoldCast/internal/domain/models"
	pkgkafka "GoldCast/pkg/kafka"
	"GoldCast/pkg/logger"
	"GoldCast/pkg/util"
)

var ErrInvalidPriceMessage = errors.New("invalid price message")

// PriceIngestHandler turns Kafka price messages into stored observations.
type PriceIngestHandler struct {
	prices *PriceService
	log    *logger.Logger
}

func NewPriceIngestHandler(prices *PriceService, log *logger.Logger) *PriceIngestHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &PriceIngestHandler{prices: prices, log: log.With(logger.String("component", "price_ingest"))}
}

// incoming message schema: {asset, currency, date | t, price}, or an array of them
type priceMessage struct {
	Asset    string      `json:"asset"`
	Currency string      `json:"currency"`
	Date     string      `json:"date,omitempty"`
	T        json.Number `json:"t,omitempty"`
	Price    float64     `json:"price"`
}

// Handle decodes and stores msg. Malformed payloads are permanent failures.
func (h *PriceIngestHandler) Handle(ctx context.Context, msg kafka.Message) error {
	batch, err := decodePrices(msg.Value)
	if err != nil {
		h.prices.metrics.RecordError("ingest_decode")
		h.log.Warn("rejecting price message",
			logger.Int64("offset", msg.Offset), logger.Int("partition", msg.Partition), logger.Error(err))
		return pkgkafka.Permanent(err)
	}
	if err := h.prices.Ingest(ctx, batch); err != nil {
		return err
	}
	h.log.Debug("prices ingested", logger.Int("count", len(batch)), logger.Int64("offset", msg.Offset))
	return nil
}

var _ pkgkafka.Handler = (*PriceIngestHandler)(nil).Handle

func decodePrices(b []byte) ([]models.PriceObservation, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPriceMessage)
	}

	var msgs []priceMessage
	if b[0] == '[' {
		if err := json.Unmarshal(b, &msgs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPriceMessage, err)
		}
	} else {
		var m priceMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPriceMessage, err)
		}
		msgs = []priceMessage{m}
	}

	out := make([]models.PriceObservation, 0, len(msgs))
	for i, m := range msgs {
		obs, err := m.observation()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, obs)
	}
	return out, nil
}

func (m priceMessage) observation() (models.PriceObservation, error) {
	if m.Price <= 0 || math.IsNaN(m.Price) || math.IsInf(m.Price, 0) {
		return models.PriceObservation{}, fmt.Errorf("%w: price %v", ErrInvalidPriceMessage, m.Price)
	}

	var at time.Time
	var ok bool
	switch {
	case m.Date != "":
		at, ok = util.ParseTime(m.Date)
	case m.T != "":
		at, ok = util.ParseTime(m.T.String())
	}
	if !ok {
		return models.PriceObservation{}, fmt.Errorf("%w: missing or bad date", ErrInvalidPriceMessage)
	}

	return models.PriceObservation{
		Date:     util.DayUTC(at),
		Price:    m.Price,
		Asset:    strings.ToUpper(strings.TrimSpace(m.Asset)),
		Currency: strings.ToUpper(strings.TrimSpace(m.Currency)),
	}, nil
}
