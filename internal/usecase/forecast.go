package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"GoldCast/internal/domain/models"
	domrepo "GoldCast/internal/domain/repository"
	domsvc "GoldCast/internal/domain/service"
	"GoldCast/pkg/cache"
	"GoldCast/pkg/circuitbreaker"
	"GoldCast/pkg/logger"
	"GoldCast/pkg/util"
)

var ErrNoPrices = errors.New("no price observations")

const (
	ModelVersionProphet = "prophet-1.1"
	ModelVersionSpot    = "spot-synthetic"

	prophetRandomState = 42
	spotBand           = 0.02
	spotTrendPerDay    = 0.001
	spotNote           = "Generated from the current spot price: not enough recent history for a model forecast."

	pathBasic    = "basic"
	pathEnhanced = "enhanced"

	holidaysEnabled = false
)

// Seasonality the basic model is trained with.
var defaultSeasonality = models.SeasonalityFlags{Daily: false, Weekly: true, Yearly: true}

// ForecastOptions tunes the orchestrator. Zero fields take the defaults.
type ForecastOptions struct {
	EnhancedWindow    int
	BasicWindow       int
	RecentDays        int
	QualityThreshold  float64
	MinEnhancedPoints int
	CacheTTL          time.Duration
	BasicTimeout      time.Duration
	EnhancedTimeout   time.Duration
	Asset             string
	Currency          string
	SpotVariation     float64
}

func DefaultForecastOptions() ForecastOptions {
	return ForecastOptions{
		EnhancedWindow:    60,
		BasicWindow:       30,
		RecentDays:        7,
		QualityThreshold:  50,
		MinEnhancedPoints: 5,
		CacheTTL:          24 * time.Hour,
		BasicTimeout:      10 * time.Second,
		EnhancedTimeout:   30 * time.Second,
		Asset:             "XAU",
		Currency:          "USD",
		SpotVariation:     0.02,
	}
}

func (o ForecastOptions) withDefaults() ForecastOptions {
	d := DefaultForecastOptions()
	if o.EnhancedWindow <= 0 {
		o.EnhancedWindow = d.EnhancedWindow
	}
	if o.BasicWindow <= 0 {
		o.BasicWindow = d.BasicWindow
	}
	if o.RecentDays <= 0 {
		o.RecentDays = d.RecentDays
	}
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = d.QualityThreshold
	}
	if o.MinEnhancedPoints <= 0 {
		o.MinEnhancedPoints = d.MinEnhancedPoints
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.BasicTimeout <= 0 {
		o.BasicTimeout = d.BasicTimeout
	}
	if o.EnhancedTimeout <= 0 {
		o.EnhancedTimeout = d.EnhancedTimeout
	}
	if o.Asset == "" {
		o.Asset = d.Asset
	}
	if o.Currency == "" {
		o.Currency = d.Currency
	}
	if o.SpotVariation <= 0 {
		o.SpotVariation = d.SpotVariation
	}
	return o
}

// ForecastDeps are the collaborators of ForecastService. Metrics, Events and
// Log may be nil.
type ForecastDeps struct {
	Prices    domrepo.PriceStore
	Forecasts domrepo.ForecastStore
	Spot      domsvc.SpotProvider
	Basic     domsvc.BasicForecaster
	Enhanced  domsvc.EnhancedForecaster
	Features  domsvc.FeatureCollector
	Quality   domsvc.QualityChecker
	Cache     cache.Service
	Breaker   *circuitbreaker.Breaker
	Metrics   domrepo.Metrics
	Events    domrepo.EventPublisher
	Log       *logger.Logger
}

type ForecastOption func(*ForecastService)

func WithForecastOptions(o ForecastOptions) ForecastOption {
	return func(s *ForecastService) { s.opts = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ForecastOption {
	return func(s *ForecastService) { s.now = now }
}

// WithRandom overrides the [0,1) source used by the spot forecast.
func WithRandom(r func() float64) ForecastOption {
	return func(s *ForecastService) { s.random = r }
}

// ForecastService produces gold price forecasts, choosing between the
// cache, the enhanced ensemble, the basic model and a spot-based series.
type ForecastService struct {
	ForecastDeps
	opts   ForecastOptions
	now    func() time.Time
	random func() float64
	group  singleflight.Group
}

func NewForecastService(deps ForecastDeps, opts ...ForecastOption) (*ForecastService, error) {
	if deps.Prices == nil || deps.Forecasts == nil || deps.Spot == nil || deps.Basic == nil ||
		deps.Features == nil || deps.Quality == nil || deps.Cache == nil {
		return nil, errors.New("forecast service: missing dependency")
	}
	s := &ForecastService{
		ForecastDeps: deps,
		opts:         DefaultForecastOptions(),
		now:          time.Now,
		random:       rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.opts = s.opts.withDefaults()
	if s.Breaker == nil {
		s.Breaker = circuitbreaker.New("prophet", circuitbreaker.DefaultConfig())
	}
	if s.Metrics == nil {
		s.Metrics = nopMetrics{}
	}
	if s.Events == nil {
		s.Events = nopEvents{}
	}
	if s.Log == nil {
		s.Log = logger.NewNop()
	}
	s.Log = s.Log.With(logger.String("component", "forecast"))
	return s, nil
}

// prepared is a chronological, quality-checked training series.
type prepared struct {
	series  []models.PriceObservation
	lastDay time.Time
}

// Generate returns a forecast for req. It fails on store, basic upstream,
// spot and persistence errors; enhanced failures fall back to the basic path.
func (s *ForecastService) Generate(ctx context.Context, req models.ForecastRequest) (*models.ForecastResult, error) {
	start := s.now()
	if req.HorizonDays <= 0 {
		req.HorizonDays = models.DefaultForecastRequest().HorizonDays
	}

	limit := s.opts.BasicWindow
	if req.UseEnhanced {
		limit = s.opts.EnhancedWindow
	}
	observations, err := s.Prices.FindRecent(ctx, s.opts.Asset, s.opts.Currency, limit)
	if err != nil {
		s.Metrics.RecordError("price_store")
		return nil, fmt.Errorf("load prices: %w", err)
	}

	recent := s.recent(observations, start)
	if len(recent) < 2 {
		s.Log.Info("sparse history, using spot forecast",
			logger.Int("recent", len(recent)), logger.Int("loaded", len(observations)))
		return s.spotForecast(ctx, req, observations, start)
	}

	p := s.prepare(observations, recent)

	if req.UseEnhanced && len(p.series) >= s.opts.MinEnhancedPoints {
		res, err := s.cachedOrCompute(ctx, pathEnhanced, enhancedKey(p.lastDay, req.HorizonDays), req, start,
			func(ctx context.Context) (*models.ForecastResult, error) { return s.enhancedForecast(ctx, req, p, start) })
		if err == nil {
			return res, nil
		}
		s.Metrics.RecordError("enhanced_forecast")
		s.Log.Warn("enhanced forecast failed, falling back to basic", logger.Error(err))
	}

	res, err := s.cachedOrCompute(ctx, pathBasic, basicKey(p.lastDay, req.HorizonDays), req, start,
		func(ctx context.Context) (*models.ForecastResult, error) { return s.basicForecast(ctx, req, p, start) })
	if err != nil {
		return nil, err
	}
	// basic keys ignore include_history, so a hit may lack it
	if req.IncludeHistory && len(res.History) == 0 {
		res.History = toHistory(p.series)
	}
	return res, nil
}

// FlushCache drops every cached forecast.
func (s *ForecastService) FlushCache(ctx context.Context) error {
	if err := s.Cache.FlushAll(ctx); err != nil {
		return fmt.Errorf("flush forecast cache: %w", err)
	}
	s.Log.Info("forecast cache flushed")
	return nil
}

func enhancedKey(day time.Time, horizon int) string {
	return fmt.Sprintf("enhanced_%s_%d_ensemble", util.FormatDay(day), horizon)
}

func basicKey(day time.Time, horizon int) string {
	return fmt.Sprintf("%s-%d", util.FormatDay(day), horizon)
}

func (s *ForecastService) cachedOrCompute(
	ctx context.Context,
	path, key string,
	req models.ForecastRequest,
	start time.Time,
	compute func(ctx context.Context) (*models.ForecastResult, error),
) (*models.ForecastResult, error) {
	if !req.ForceCold {
		var hit models.ForecastResult
		err := s.Cache.Get(ctx, key, &hit)
		if err == nil {
			s.Metrics.IncCacheHit(path)
			s.Metrics.ObserveWarmLatency(path, s.now().Sub(start).Seconds())
			return &hit, nil
		}
		if !cache.IsMiss(err) {
			s.Log.Warn("cache read failed", logger.String("key", key), logger.Error(err))
		}
	}
	s.Metrics.IncCacheMiss(path)

	// joined callers share this run; only the upstream timeouts bound it
	detached := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do(key, func() (interface{}, error) { return compute(detached) })
	if err != nil {
		return nil, err
	}
	if shared {
		s.Log.Debug("joined in-flight forecast", logger.String("key", key))
	}
	s.Metrics.ObserveColdLatency(path, s.now().Sub(start).Seconds())
	return v.(*models.ForecastResult).Clone(), nil
}

// recent keeps observations dated within the trailing window.
func (s *ForecastService) recent(observations []models.PriceObservation, now time.Time) []models.PriceObservation {
	cutoff := now.Add(-time.Duration(s.opts.RecentDays) * 24 * time.Hour)
	out := make([]models.PriceObservation, 0, len(observations))
	for _, o := range observations {
		if !o.Date.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}

func (s *ForecastService) prepare(observations, recent []models.PriceObservation) prepared {
	var last time.Time
	for _, o := range observations {
		if d := util.DayUTC(o.Date); d.After(last) {
			last = d
		}
	}

	series := observations
	score := s.Quality.Score(recent)
	if score < s.opts.QualityThreshold {
		cleaned, removed := s.Quality.Clean(observations)
		s.Log.Info("low quality price series",
			logger.Float64("score", score), logger.Int("removed", removed), logger.Int("kept", len(cleaned)))
		if len(cleaned) > 0 {
			series = cleaned
		}
	}
	return prepared{series: s.Quality.FillMissing(series), lastDay: last}
}

func (s *ForecastService) enhancedForecast(ctx context.Context, req models.ForecastRequest, p prepared, start time.Time) (*models.ForecastResult, error) {
	if s.Enhanced == nil {
		return nil, errors.New("enhanced forecaster not configured")
	}
	prices := make([]float64, len(p.series))
	dates := make([]time.Time, len(p.series))
	for i, o := range p.series {
		prices[i] = o.Price
		dates[i] = o.Date
	}
	features := s.Features.FormatForEnhanced(s.Features.Collect(prices, dates))

	ctx, cancel := context.WithTimeout(ctx, s.opts.EnhancedTimeout)
	defer cancel()
	resp, err := s.Enhanced.Forecast(ctx, domsvc.EnhancedRequest{
		Rows:                     toRows(p.series),
		ExternalFeatures:         features,
		HorizonDays:              req.HorizonDays,
		UseEnsemble:              req.UseEnsemble,
		IncludeFeatureImportance: true,
	})
	if err != nil {
		return nil, err
	}

	res := s.result(req, p, start, resp.ModelVersion, resp.Forecast)
	res.Ensemble = resp.Ensemble
	s.store(ctx, enhancedKey(p.lastDay, req.HorizonDays), res)
	return res, nil
}

func (s *ForecastService) basicForecast(ctx context.Context, req models.ForecastRequest, p prepared, start time.Time) (*models.ForecastResult, error) {
	rows := toRows(p.series)
	points, err := circuitbreaker.Run(s.Breaker, func() ([]models.ForecastPoint, error) {
		cctx, cancel := context.WithTimeout(ctx, s.opts.BasicTimeout)
		defer cancel()
		return s.Basic.Forecast(cctx, rows, req.HorizonDays)
	})
	if err != nil {
		s.Metrics.RecordError("basic_forecast")
		return nil, fmt.Errorf("basic forecast: %w", err)
	}

	res := s.result(req, p, start, ModelVersionProphet, points)
	s.store(ctx, basicKey(p.lastDay, req.HorizonDays), res)

	run, err := s.persist(ctx, res, p.lastDay)
	if err != nil {
		s.Metrics.RecordError("persist_forecast")
		return nil, fmt.Errorf("persist forecast: %w", err)
	}
	s.publish(ctx, run, res)
	return res, nil
}

// result formats a model forecast. History is embedded when requested.
func (s *ForecastService) result(req models.ForecastRequest, p prepared, start time.Time, version string, points []models.ForecastPoint) *models.ForecastResult {
	res := &models.ForecastResult{
		GeneratedAt:        start.UTC(),
		HorizonDays:        req.HorizonDays,
		ModelVersion:       version,
		TrainingWindowDays: len(p.series),
		Seasonality:        defaultSeasonality,
		HolidaysEnabled:    holidaysEnabled,
		Forecast:           points,
	}
	if req.IncludeHistory {
		res.History = toHistory(p.series)
	}
	return res
}

// store caches res. Failures are logged only.
func (s *ForecastService) store(ctx context.Context, key string, res *models.ForecastResult) {
	if err := s.Cache.Set(ctx, key, res, s.opts.CacheTTL); err != nil {
		s.Log.Warn("cache write failed", logger.String("key", key), logger.Error(err))
	}
}

func (s *ForecastService) persist(ctx context.Context, res *models.ForecastResult, lastDay time.Time) (models.ForecastRun, error) {
	seasonality, err := json.Marshal(res.Seasonality)
	if err != nil {
		return models.ForecastRun{}, fmt.Errorf("encode seasonality: %w", err)
	}
	run := models.ForecastRun{
		ID:                 uuid.New(),
		GeneratedAt:        res.GeneratedAt,
		HorizonDays:        res.HorizonDays,
		ModelVersion:       ModelVersionProphet,
		RandomState:        prophetRandomState,
		TrainingWindowDays: res.TrainingWindowDays,
		Seasonality:        string(seasonality),
		LastObservation:    lastDay,
		Asset:              s.opts.Asset,
		Currency:           s.opts.Currency,
	}

	rows := make([]models.ForecastPointRow, 0, len(res.Forecast))
	for _, pt := range res.Forecast {
		day, ok := util.ParseTime(pt.Date)
		if !ok {
			return run, fmt.Errorf("forecast point date %q", pt.Date)
		}
		rows = append(rows, models.ForecastPointRow{
			RunID:     run.ID,
			Date:      util.DayUTC(day),
			Yhat:      decimal.NewFromFloat(pt.Yhat).String(),
			YhatLower: decimal.NewFromFloat(pt.YhatLower).String(),
			YhatUpper: decimal.NewFromFloat(pt.YhatUpper).String(),
		})
	}

	if err := s.Forecasts.CreateForecastRun(ctx, run); err != nil {
		return run, err
	}
	if err := s.Forecasts.CreateForecastPoints(ctx, rows); err != nil {
		return run, err
	}
	s.Log.Info("forecast run persisted",
		logger.String("run_id", run.ID.String()), logger.Int("points", len(rows)))
	return run, nil
}

// publish announces a persisted run. Failures are logged only.
func (s *ForecastService) publish(ctx context.Context, run models.ForecastRun, res *models.ForecastResult) {
	ev := models.ForecastGenerated{
		RunID:           run.ID.String(),
		GeneratedAt:     run.GeneratedAt,
		HorizonDays:     run.HorizonDays,
		ModelVersion:    run.ModelVersion,
		LastObservation: util.FormatDay(run.LastObservation),
		Asset:           run.Asset,
		Currency:        run.Currency,
		Points:          res.Forecast,
	}
	if err := s.Events.PublishForecastGenerated(ctx, ev); err != nil {
		s.Metrics.RecordError("publish_event")
		s.Log.Warn("publish forecast event failed", logger.String("run_id", ev.RunID), logger.Error(err))
	}
}

// spotForecast drifts the current spot price forward with a small random
// daily variation and a linear trend. Nothing is cached or persisted.
func (s *ForecastService) spotForecast(ctx context.Context, req models.ForecastRequest, observations []models.PriceObservation, start time.Time) (*models.ForecastResult, error) {
	quote, err := s.Spot.GetCurrentSpot(ctx)
	if err != nil {
		s.Metrics.RecordError("spot")
		if len(observations) == 0 {
			return nil, fmt.Errorf("spot price: %w: %w", ErrNoPrices, err)
		}
		return nil, fmt.Errorf("spot price: %w", err)
	}

	today := util.DayUTC(start)
	points := make([]models.ForecastPoint, 0, req.HorizonDays)
	for i := 1; i <= req.HorizonDays; i++ {
		variation := (s.random() - 0.5) * s.opts.SpotVariation
		trend := 1 + spotTrendPerDay*float64(i)
		yhat := quote.USDPerOunce * (1 + variation) * trend
		points = append(points, models.ForecastPoint{
			Date:      util.FormatDay(today.AddDate(0, 0, i)),
			Yhat:      yhat,
			YhatLower: yhat * (1 - spotBand),
			YhatUpper: yhat * (1 + spotBand),
		})
	}

	res := &models.ForecastResult{
		GeneratedAt:  start.UTC(),
		HorizonDays:  req.HorizonDays,
		ModelVersion: ModelVersionSpot,
		Seasonality:  defaultSeasonality,
		Forecast:     points,
		Degraded:     false,
		Note:         spotNote,
	}
	if req.IncludeHistory && len(observations) > 0 {
		res.History = toHistory(s.Quality.FillMissing(observations))
	}
	return res, nil
}

func toRows(series []models.PriceObservation) []models.PriceRow {
	rows := make([]models.PriceRow, len(series))
	for i, o := range series {
		rows[i] = models.PriceRow{Date: util.FormatDay(o.Date), Price: o.Price}
	}
	return rows
}

func toHistory(series []models.PriceObservation) []models.HistoryPoint {
	out := make([]models.HistoryPoint, len(series))
	for i, o := range series {
		out[i] = models.HistoryPoint{Date: util.FormatDay(o.Date), Price: o.Price}
	}
	return out
}

type nopMetrics struct{}

func (nopMetrics) IncCacheHit(string)                     {}
func (nopMetrics) IncCacheMiss(string)                    {}
func (nopMetrics) ObserveColdLatency(string, float64)     {}
func (nopMetrics) ObserveWarmLatency(string, float64)     {}
func (nopMetrics) ObserveUpstream(string, float64, error) {}
func (nopMetrics) RecordPricesIngested(string, int)       {}
func (nopMetrics) RecordError(string)                     {}

type nopEvents struct{}

func (nopEvents) PublishForecastGenerated(context.Context, models.ForecastGenerated) error {
	return nil
}

func (nopEvents) Close() error { return nil }
