package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoldCast/internal/domain/models"
	pkgpg "GoldCast/pkg/postgres"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(pkgpg.NewFromDB(db)), mock
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestPostgresFindRecent(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"date", "price"}).
		AddRow(day("2024-03-02"), "2051.250000").
		AddRow(day("2024-03-01"), "2040.100000")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT date, price FROM price_observations")).
		WithArgs("XAU", "USD", 30).
		WillReturnRows(rows)

	got, err := store.FindRecent(context.Background(), "XAU", "USD", 30)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day("2024-03-02"), got[0].Date)
	assert.InDelta(t, 2051.25, got[0].Price, 1e-9)
	assert.Equal(t, "XAU", got[1].Asset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindRecentQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT date, price").WillReturnError(errors.New("conn reset"))

	_, err := store.FindRecent(context.Background(), "XAU", "USD", 30)
	assert.ErrorContains(t, err, "conn reset")
}

func TestPostgresCreateForecastRun(t *testing.T) {
	store, mock := newMockStore(t)
	run := models.ForecastRun{
		ID:                 uuid.New(),
		GeneratedAt:        time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
		HorizonDays:        14,
		ModelVersion:       "prophet-1.1",
		RandomState:        42,
		TrainingWindowDays: 30,
		Seasonality:        `{"daily":false,"weekly":true,"yearly":true}`,
		LastObservation:    day("2024-03-01"),
		Asset:              "XAU",
		Currency:           "USD",
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO forecast_runs")).
		WithArgs(run.ID, run.GeneratedAt, 14, "prophet-1.1", 42, 30, run.Seasonality, day("2024-03-01"), "XAU", "USD").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateForecastRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateForecastPointsIsTransactional(t *testing.T) {
	store, mock := newMockStore(t)
	runID := uuid.New()
	rows := []models.ForecastPointRow{
		{RunID: runID, Date: day("2024-03-02"), Yhat: "2050.1", YhatLower: "2000", YhatUpper: "2100"},
		{RunID: runID, Date: day("2024-03-03"), Yhat: "2051.2", YhatLower: "2001", YhatUpper: "2101"},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO forecast_points"))
	prep.ExpectExec().WithArgs(runID, day("2024-03-02"), "2050.1", "2000", "2100").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(runID, day("2024-03-03"), "2051.2", "2001", "2101").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.CreateForecastPoints(context.Background(), rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateForecastPointsRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)
	runID := uuid.New()
	rows := []models.ForecastPointRow{
		{RunID: runID, Date: day("2024-03-02"), Yhat: "1", YhatLower: "1", YhatUpper: "1"},
		{RunID: runID, Date: day("2024-03-03"), Yhat: "1", YhatLower: "1", YhatUpper: "1"},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO forecast_points")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := store.CreateForecastPoints(context.Background(), rows)
	assert.ErrorContains(t, err, "unique violation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEmptyBatchesAreNoops(t *testing.T) {
	store, mock := newMockStore(t)
	require.NoError(t, store.CreateForecastPoints(context.Background(), nil))
	require.NoError(t, store.SavePrices(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSavePricesUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("ON CONFLICT (asset, currency, date) DO UPDATE"))
	prep.ExpectExec().WithArgs("XAU", "USD", day("2024-03-01"), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SavePrices(context.Background(), []models.PriceObservation{
		{Date: time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC), Price: 2040.1, Asset: "XAU", Currency: "USD"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
