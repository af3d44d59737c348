package repository

import (
	"context"
	"fmt"
	"strings"

	"GoldCast/internal/domain/models"
	"GoldCast/internal/domain/repository"
	pkgch "GoldCast/pkg/clickhouse"
	"GoldCast/pkg/logger"
	"GoldCast/pkg/util"
)

// ClickHouseSchema creates the price history table. ReplacingMergeTree
// keeps the latest version per (asset, currency, date).
var ClickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_observations (
		asset      LowCardinality(String),
		currency   LowCardinality(String),
		date       Date,
		price      Float64,
		updated_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY (asset, currency, date)`,
}

const chInsertChunk = 2000

// ClickHousePriceStore reads and writes daily prices in ClickHouse.
type ClickHousePriceStore struct {
	client *pkgch.Client
	log    *logger.Logger
}

var _ repository.PriceStore = (*ClickHousePriceStore)(nil)

func NewClickHousePriceStore(client *pkgch.Client, log *logger.Logger) *ClickHousePriceStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &ClickHousePriceStore{client: client, log: log}
}

func (s *ClickHousePriceStore) FindRecent(ctx context.Context, asset, currency string, limit int) ([]models.PriceObservation, error) {
	// FINAL collapses versions not yet merged by ReplacingMergeTree
	const q = `SELECT date, price FROM price_observations FINAL
		WHERE asset = ? AND currency = ?
		ORDER BY date DESC
		LIMIT ?`
	rows, err := s.client.DB().QueryContext(ctx, q, asset, currency, limit)
	if err != nil {
		s.log.Error("clickhouse find_recent query error",
			logger.String("asset", asset),
			logger.Error(err))
		return nil, fmt.Errorf("find recent prices: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceObservation, 0, limit)
	for rows.Next() {
		obs := models.PriceObservation{Asset: asset, Currency: currency}
		if err := rows.Scan(&obs.Date, &obs.Price); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		obs.Date = util.DayUTC(obs.Date)
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// SavePrices inserts with multi-row VALUES to cut round trips.
func (s *ClickHousePriceStore) SavePrices(ctx context.Context, prices []models.PriceObservation) error {
	for start := 0; start < len(prices); start += chInsertChunk {
		end := start + chInsertChunk
		if end > len(prices) {
			end = len(prices)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*4)
		for _, p := range prices[start:end] {
			values = append(values, "(?, ?, ?, ?)")
			args = append(args, p.Asset, p.Currency, util.DayUTC(p.Date), p.Price)
		}
		q := "INSERT INTO price_observations (asset, currency, date, price) VALUES " + strings.Join(values, ",")
		if _, err := s.client.DB().ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert prices: %w", err)
		}
	}
	return nil
}

func (s *ClickHousePriceStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}
