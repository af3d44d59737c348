package features

import (
    "math"
)

// LogReturns computes r_t = ln(p_t / p_{t-1}) aligned with prices.
// Index 0 and any pair with a non-positive price are NaN.
func LogReturns(prices []float64) []float64 {
    out := nanSeries(len(prices))
    for i := 1; i < len(prices); i++ {
        prev, cur := prices[i-1], prices[i]
        if prev <= 0 || cur <= 0 {
            continue
        }
        out[i] = math.Log(cur / prev)
    }
    return out
}

// SMA is the simple moving average over window, NaN during warm-up.
func SMA(prices []float64, window int) []float64 {
    out := nanSeries(len(prices))
    if window <= 0 {
        return out
    }
    sum := 0.0
    for i, p := range prices {
        sum += p
        if i >= window {
            sum -= prices[i-window]
        }
        if i >= window-1 {
            out[i] = sum / float64(window)
        }
    }
    return out
}

// EMA is the exponential moving average seeded with the SMA of the first
// window prices. alpha = 2 / (window + 1).
func EMA(prices []float64, window int) []float64 {
    out := nanSeries(len(prices))
    if window <= 0 || len(prices) < window {
        return out
    }
    seed := 0.0
    for i := 0; i < window; i++ {
        seed += prices[i]
    }
    prev := seed / float64(window)
    out[window-1] = prev
    alpha := 2.0 / float64(window+1)
    for i := window; i < len(prices); i++ {
        prev = alpha*prices[i] + (1-alpha)*prev
        out[i] = prev
    }
    return out
}

// RSI is Wilder's relative strength index over period price changes.
func RSI(prices []float64, period int) []float64 {
    out := nanSeries(len(prices))
    if period <= 0 || len(prices) <= period {
        return out
    }
    gain, loss := 0.0, 0.0
    for i := 1; i <= period; i++ {
        g, l := change(prices[i-1], prices[i])
        gain += g
        loss += l
    }
    gain /= float64(period)
    loss /= float64(period)
    out[period] = rsiValue(gain, loss)

    for i := period + 1; i < len(prices); i++ {
        g, l := change(prices[i-1], prices[i])
        gain = (gain*float64(period-1) + g) / float64(period)
        loss = (loss*float64(period-1) + l) / float64(period)
        out[i] = rsiValue(gain, loss)
    }
    return out
}

// RollingVolatility is the sample standard deviation of the last window
// defined returns. It is not annualized.
func RollingVolatility(returns []float64, window int) []float64 {
    out := nanSeries(len(returns))
    if window <= 1 {
        return out
    }
    for i := window; i < len(returns); i++ {
        sum, sum2 := 0.0, 0.0
        ok := true
        for j := i - window + 1; j <= i; j++ {
            r := returns[j]
            if math.IsNaN(r) {
                ok = false
                break
            }
            sum += r
            sum2 += r * r
        }
        if !ok {
            continue
        }
        n := float64(window)
        mean := sum / n
        variance := (sum2 - n*mean*mean) / (n - 1)
        if variance < 0 {
            variance = 0
        }
        out[i] = math.Sqrt(variance)
    }
    return out
}

// Momentum is p_t / p_{t-lag} - 1.
func Momentum(prices []float64, lag int) []float64 {
    out := nanSeries(len(prices))
    if lag <= 0 {
        return out
    }
    for i := lag; i < len(prices); i++ {
        if prices[i-lag] <= 0 {
            continue
        }
        out[i] = prices[i]/prices[i-lag] - 1
    }
    return out
}

func change(prev, cur float64) (gain, loss float64) {
    d := cur - prev
    if d > 0 {
        return d, 0
    }
    return 0, -d
}

func rsiValue(gain, loss float64) float64 {
    if loss == 0 {
        if gain == 0 {
            return 50
        }
        return 100
    }
    rs := gain / loss
    return 100 - 100/(1+rs)
}

func nanSeries(n int) []float64 {
    out := make([]float64, n)
    for i := range out {
        out[i] = math.NaN()
    }
    return out
}
