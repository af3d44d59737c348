package quality

import (
	"math"
	"sort"
	"time"

	"GoldCast/internal/domain/models"
	domsvc "GoldCast/internal/domain/service"
	"GoldCast/pkg/util"
)

// Penalty weights, in score points, applied to the fraction of affected
// observations.
const (
	invalidWeight   = 40
	duplicateWeight = 10
	gapWeight       = 20
	outlierWeight   = 20
	staleWeight     = 10

	// iqrFactor scales the interquartile range fence.
	iqrFactor = 1.5
	// minOutlierPoints is the smallest series the outlier rule applies to.
	minOutlierPoints = 4
	// staleGraceDays is how old the newest observation may be before it costs points.
	staleGraceDays = 3
)

type Option func(*Checker)

// WithClock overrides the time source used for the staleness penalty.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// Checker scores and repairs daily price series.
type Checker struct {
	now func() time.Time
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Score rates points from 0 (unusable) to 100 (clean). Input order does not matter.
func (c *Checker) Score(points []models.PriceObservation) float64 {
	n := len(points)
	if n == 0 {
		return 0
	}
	total := float64(n)
	score := 100.0

	valid := validPrices(points)
	score -= invalidWeight * float64(n-len(valid)) / total

	days := make(map[time.Time]struct{}, n)
	var first, last time.Time
	for i, p := range points {
		d := util.DayUTC(p.Date)
		days[d] = struct{}{}
		if i == 0 || d.Before(first) {
			first = d
		}
		if i == 0 || d.After(last) {
			last = d
		}
	}
	score -= duplicateWeight * float64(n-len(days)) / total

	expected := util.DaysBetween(first, last) + 1
	if missing := expected - len(days); missing > 0 {
		score -= gapWeight * float64(missing) / float64(expected)
	}

	if len(valid) >= minOutlierPoints {
		lo, hi := fences(valid)
		outliers := 0
		for _, v := range valid {
			if v < lo || v > hi {
				outliers++
			}
		}
		score -= outlierWeight * float64(outliers) / total
	}

	if age := util.DaysBetween(last, c.now()) - staleGraceDays; age > 0 {
		score -= math.Min(staleWeight, float64(age))
	}

	return math.Max(0, math.Min(100, score))
}

// Clean drops non-positive prices and, when at least four valid points
// remain, prices outside the 1.5x IQR fences. Order is preserved.
func (c *Checker) Clean(points []models.PriceObservation) ([]models.PriceObservation, int) {
	kept := make([]models.PriceObservation, 0, len(points))
	for _, p := range points {
		if isValid(p.Price) {
			kept = append(kept, p)
		}
	}

	if len(kept) >= minOutlierPoints {
		prices := make([]float64, len(kept))
		for i, p := range kept {
			prices[i] = p.Price
		}
		lo, hi := fences(prices)
		filtered := kept[:0]
		for _, p := range kept {
			if p.Price >= lo && p.Price <= hi {
				filtered = append(filtered, p)
			}
		}
		kept = filtered
	}

	return kept, len(points) - len(kept)
}

// FillMissing returns points in chronological order with one observation
// per calendar day. Days missing between two observations get a linearly
// interpolated price. Duplicate days keep the first occurrence.
func (c *Checker) FillMissing(points []models.PriceObservation) []models.PriceObservation {
	if len(points) == 0 {
		return nil
	}
	sorted := make([]models.PriceObservation, len(points))
	copy(sorted, points)
	for i := range sorted {
		sorted[i].Date = util.DayUTC(sorted[i].Date)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	out := make([]models.PriceObservation, 0, len(sorted))
	for _, p := range sorted {
		if len(out) == 0 {
			out = append(out, p)
			continue
		}
		prev := out[len(out)-1]
		gap := util.DaysBetween(prev.Date, p.Date)
		if gap == 0 {
			continue
		}
		for d := 1; d < gap; d++ {
			frac := float64(d) / float64(gap)
			out = append(out, models.PriceObservation{
				Date:     prev.Date.AddDate(0, 0, d),
				Price:    prev.Price + (p.Price-prev.Price)*frac,
				Asset:    prev.Asset,
				Currency: prev.Currency,
			})
		}
		out = append(out, p)
	}
	return out
}

func isValid(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func validPrices(points []models.PriceObservation) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		if isValid(p.Price) {
			out = append(out, p.Price)
		}
	}
	return out
}

// fences returns the lower and upper IQR bounds of values.
func fences(values []float64) (float64, float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - iqrFactor*iqr, q3 + iqrFactor*iqr
}

// quantile interpolates linearly between closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

var _ domsvc.QualityChecker = (*Checker)(nil)
