package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoldCast/internal/domain/models"
	"GoldCast/internal/services/spot"
	"GoldCast/pkg/circuitbreaker"
)

type stubForecaster struct {
	got     models.ForecastRequest
	calls   int
	res     *models.ForecastResult
	err     error
	flushed int
}

func (s *stubForecaster) Generate(_ context.Context, req models.ForecastRequest) (*models.ForecastResult, error) {
	s.calls++
	s.got = req
	return s.res, s.err
}

func (s *stubForecaster) FlushCache(context.Context) error {
	s.flushed++
	return nil
}

type stubPrices struct {
	limit  int
	obs    []models.PriceObservation
	health error
}

func (s *stubPrices) Latest(_ context.Context, limit int) ([]models.PriceObservation, error) {
	s.limit = limit
	return s.obs, nil
}

func (s *stubPrices) Health(context.Context) error { return s.health }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func setup(f *stubForecaster, p *stubPrices) (*echo.Echo, *circuitbreaker.Manager) {
	mgr := circuitbreaker.NewManager()
	mgr.GetOrCreate("prophet", circuitbreaker.DefaultConfig())

	e := echo.New()
	NewForecastEchoHandler(nil, f, p, mgr).RegisterRoutes(e)
	return e, mgr
}

func do(t *testing.T, e *echo.Echo, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestForecastDefaults(t *testing.T) {
	f := &stubForecaster{res: &models.ForecastResult{
		Forecast:     []models.ForecastPoint{{Date: "2024-05-11", Yhat: 2400, YhatLower: 2350, YhatUpper: 2450}},
		ModelVersion: "prophet-1.1",
	}}
	e, _ := setup(f, &stubPrices{})

	rec, env := do(t, e, http.MethodGet, "/api/forecast")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=60", rec.Header().Get(echo.HeaderCacheControl))
	assert.Equal(t, models.DefaultForecastRequest(), f.got)

	var res models.ForecastResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "prophet-1.1", res.ModelVersion)
	require.Len(t, res.Forecast, 1)
	assert.Equal(t, 2400.0, res.Forecast[0].Yhat)
}

func TestForecastQueryParams(t *testing.T) {
	f := &stubForecaster{res: &models.ForecastResult{}}
	e, _ := setup(f, &stubPrices{})

	rec, _ := do(t, e, http.MethodGet, "/api/forecast?horizon_days=30&use_enhanced=false&force_cold=true&include_history=true")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ForecastRequest{
		HorizonDays:    30,
		ForceCold:      true,
		IncludeHistory: true,
		UseEnhanced:    false,
		UseEnsemble:    true,
	}, f.got)
}

func TestForecastValidation(t *testing.T) {
	for _, q := range []string{"horizon_days=0", "horizon_days=366", "horizon_days=abc"} {
		t.Run(q, func(t *testing.T) {
			f := &stubForecaster{}
			e, _ := setup(f, &stubPrices{})

			rec, env := do(t, e, http.MethodGet, "/api/forecast?"+q)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, http.StatusBadRequest, env.Status)
			assert.Zero(t, f.calls)
		})
	}
}

func TestForecastErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"open", fmt.Errorf("basic forecast: %w", circuitbreaker.ErrOpen), http.StatusServiceUnavailable, "ERR_UNAVAILABLE"},
		{"half open", circuitbreaker.ErrTooManyRequests, http.StatusServiceUnavailable, "ERR_UNAVAILABLE"},
		{"spot", fmt.Errorf("spot: %w", spot.ErrSpotUnavailable), http.StatusServiceUnavailable, "ERR_UNAVAILABLE"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := setup(&stubForecaster{err: tc.err}, &stubPrices{})

			rec, env := do(t, e, http.MethodGet, "/api/forecast?horizon_days=7")

			require.Equal(t, tc.status, rec.Code)
			var errs []struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &errs))
			require.Len(t, errs, 1)
			assert.Equal(t, tc.code, errs[0].Code)
			assert.NotContains(t, errs[0].Message, "boom")
		})
	}
}

func TestPrices(t *testing.T) {
	p := &stubPrices{obs: []models.PriceObservation{
		{Asset: "XAU", Currency: "USD", Date: time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC), Price: 2350.5},
	}}
	e, _ := setup(&stubForecaster{}, p)

	rec, env := do(t, e, http.MethodGet, "/api/prices")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, p.limit)

	var obs []models.PriceObservation
	require.NoError(t, json.Unmarshal(env.Data, &obs))
	require.Len(t, obs, 1)
	assert.Equal(t, 2350.5, obs[0].Price)

	rec, _ = do(t, e, http.MethodGet, "/api/prices?limit=5000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlushCache(t *testing.T) {
	f := &stubForecaster{}
	e, _ := setup(f, &stubPrices{})

	rec, _ := do(t, e, http.MethodPost, "/api/forecast/cache/flush")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.flushed)
}

func TestBreakers(t *testing.T) {
	e, mgr := setup(&stubForecaster{}, &stubPrices{})

	rec, env := do(t, e, http.MethodGet, "/api/breakers")
	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []circuitbreaker.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "prophet", snaps[0].Service)
	assert.Equal(t, circuitbreaker.StateClosed, snaps[0].State)

	rec, _ = do(t, e, http.MethodPost, "/api/breakers/prophet/reset")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, ok := mgr.Get("prophet")
	assert.True(t, ok)

	rec, _ = do(t, e, http.MethodPost, "/api/breakers/nope/reset")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	p := &stubPrices{}
	e, _ := setup(&stubForecaster{}, p)

	rec, _ := do(t, e, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	p.health = errors.New("postgres: connection refused")
	rec, env := do(t, e, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "unhealthy")
}
