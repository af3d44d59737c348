package features

import (
	"math"
	"time"

	"GoldCast/internal/domain/models"
	domsvc "GoldCast/internal/domain/service"
	"GoldCast/pkg/util"
)

// Feature names sent to the enhanced forecast endpoint.
const (
	LogReturn  = "log_return"
	SMA7       = "sma_7"
	SMA21      = "sma_21"
	EMA12      = "ema_12"
	EMA26      = "ema_26"
	MACD       = "macd"
	RSI14      = "rsi_14"
	Volatility = "volatility_14"
	Momentum5  = "momentum_5"
	DayOfWeek  = "day_of_week"
	Month      = "month"
)

// Collector derives technical and calendar features from a daily series.
type Collector struct{}

func NewCollector() *Collector { return &Collector{} }

// Collect computes every feature for each date. prices and dates must be
// chronological and aligned; the shorter of the two bounds the output.
func (c *Collector) Collect(prices []float64, dates []time.Time) models.RawFeatures {
	n := len(prices)
	if len(dates) < n {
		n = len(dates)
	}
	prices, dates = prices[:n], dates[:n]

	returns := LogReturns(prices)
	ema12 := EMA(prices, 12)
	ema26 := EMA(prices, 26)
	macd := make([]float64, n)
	for i := range macd {
		macd[i] = ema12[i] - ema26[i]
	}

	dow := make([]float64, n)
	month := make([]float64, n)
	days := make([]string, n)
	for i, d := range dates {
		u := d.UTC()
		dow[i] = float64(u.Weekday())
		month[i] = float64(u.Month())
		days[i] = util.FormatDay(u)
	}

	return models.RawFeatures{
		Dates: days,
		Series: map[string][]float64{
			LogReturn:  returns,
			SMA7:       SMA(prices, 7),
			SMA21:      SMA(prices, 21),
			EMA12:      ema12,
			EMA26:      ema26,
			MACD:       macd,
			RSI14:      RSI(prices, 14),
			Volatility: RollingVolatility(returns, 14),
			Momentum5:  Momentum(prices, 5),
			DayOfWeek:  dow,
			Month:      month,
		},
	}
}

// FormatForEnhanced emits one row per date with the defined features only.
func (c *Collector) FormatForEnhanced(raw models.RawFeatures) []models.FeatureRow {
	rows := make([]models.FeatureRow, 0, len(raw.Dates))
	for i, day := range raw.Dates {
		feats := make(map[string]float64, len(raw.Series))
		for name, series := range raw.Series {
			if i >= len(series) {
				continue
			}
			v := series[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			feats[name] = v
		}
		if len(feats) == 0 {
			continue
		}
		rows = append(rows, models.FeatureRow{Date: day, Features: feats})
	}
	return rows
}

var _ domsvc.FeatureCollector = (*Collector)(nil)
