package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"GoldCast/internal/domain/models"
	"GoldCast/internal/domain/repository"
	pkgpg "GoldCast/pkg/postgres"
	"GoldCast/pkg/util"
)

// PostgresSchema creates the price and forecast tables.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_observations (
		asset      TEXT NOT NULL,
		currency   TEXT NOT NULL,
		date       DATE NOT NULL,
		price      NUMERIC(18,6) NOT NULL CHECK (price > 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (asset, currency, date)
	)`,
	`CREATE TABLE IF NOT EXISTS forecast_runs (
		id                   UUID PRIMARY KEY,
		generated_at         TIMESTAMPTZ NOT NULL,
		horizon_days         INTEGER NOT NULL,
		model_version        TEXT NOT NULL,
		random_state         INTEGER NOT NULL,
		training_window_days INTEGER NOT NULL,
		seasonality          JSONB NOT NULL,
		last_observation     DATE NOT NULL,
		asset                TEXT NOT NULL,
		currency             TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS forecast_points (
		run_id     UUID NOT NULL REFERENCES forecast_runs(id) ON DELETE CASCADE,
		ds         DATE NOT NULL,
		yhat       NUMERIC(18,6) NOT NULL,
		yhat_lower NUMERIC(18,6) NOT NULL,
		yhat_upper NUMERIC(18,6) NOT NULL,
		PRIMARY KEY (run_id, ds)
	)`,
	`CREATE INDEX IF NOT EXISTS forecast_runs_generated_at_idx ON forecast_runs (generated_at DESC)`,
}

const (
	findRecentSQL = `SELECT date, price FROM price_observations
		WHERE asset = $1 AND currency = $2
		ORDER BY date DESC
		LIMIT $3`
	upsertPriceSQL = `INSERT INTO price_observations (asset, currency, date, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset, currency, date) DO UPDATE SET price = EXCLUDED.price, updated_at = now()`
	insertRunSQL = `INSERT INTO forecast_runs
		(id, generated_at, horizon_days, model_version, random_state, training_window_days, seasonality, last_observation, asset, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	insertPointSQL = `INSERT INTO forecast_points (run_id, ds, yhat, yhat_lower, yhat_upper)
		VALUES ($1, $2, $3, $4, $5)`
)

// PostgresStore keeps price observations and basic forecast runs.
type PostgresStore struct {
	client *pkgpg.Client
}

var (
	_ repository.PriceStore    = (*PostgresStore)(nil)
	_ repository.ForecastStore = (*PostgresStore)(nil)
)

func NewPostgresStore(client *pkgpg.Client) *PostgresStore {
	return &PostgresStore{client: client}
}

func (s *PostgresStore) FindRecent(ctx context.Context, asset, currency string, limit int) ([]models.PriceObservation, error) {
	rows, err := s.client.DB().QueryContext(ctx, findRecentSQL, asset, currency, limit)
	if err != nil {
		return nil, fmt.Errorf("find recent prices: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceObservation, 0, limit)
	for rows.Next() {
		var (
			obs   models.PriceObservation
			price decimal.Decimal
		)
		if err := rows.Scan(&obs.Date, &price); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		obs.Date = util.DayUTC(obs.Date)
		obs.Price = price.InexactFloat64()
		obs.Asset = asset
		obs.Currency = currency
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// SavePrices upserts all observations in one transaction.
func (s *PostgresStore) SavePrices(ctx context.Context, prices []models.PriceObservation) error {
	if len(prices) == 0 {
		return nil
	}
	return s.client.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertPriceSQL)
		if err != nil {
			return fmt.Errorf("prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			if _, err := stmt.ExecContext(ctx, p.Asset, p.Currency, util.DayUTC(p.Date), decimal.NewFromFloat(p.Price)); err != nil {
				return fmt.Errorf("upsert price %s: %w", util.FormatDay(p.Date), err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) CreateForecastRun(ctx context.Context, run models.ForecastRun) error {
	_, err := s.client.DB().ExecContext(ctx, insertRunSQL,
		run.ID,
		run.GeneratedAt.UTC(),
		run.HorizonDays,
		run.ModelVersion,
		run.RandomState,
		run.TrainingWindowDays,
		run.Seasonality,
		util.DayUTC(run.LastObservation),
		run.Asset,
		run.Currency,
	)
	if err != nil {
		return fmt.Errorf("insert forecast run: %w", err)
	}
	return nil
}

// CreateForecastPoints inserts the batch in one transaction with a single
// prepared statement. Either every row lands or none does.
func (s *PostgresStore) CreateForecastPoints(ctx context.Context, rows []models.ForecastPointRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.client.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertPointSQL)
		if err != nil {
			return fmt.Errorf("prepare point insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.RunID, util.DayUTC(r.Date), r.Yhat, r.YhatLower, r.YhatUpper); err != nil {
				return fmt.Errorf("insert forecast point %s: %w", util.FormatDay(r.Date), err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}
