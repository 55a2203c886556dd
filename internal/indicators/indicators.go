package indicators

import (
	"index-options-callbot/internal/models"
	"math"
)

// Neutral values returned when the window is too short.
const (
	NeutralRSI      = 50.0
	NeutralMomentum = 0.0
)

// MinSamples is the window length needed for every indicator to be computed
// from real data rather than neutral defaults.
func MinSamples(p models.IndicatorParams) int {
	n := p.RSIPeriod + 1
	if p.EMASlow > n {
		n = p.EMASlow
	}
	if p.VolatilityWindow+1 > n {
		n = p.VolatilityWindow + 1
	}
	if p.MomentumLookback+1 > n {
		n = p.MomentumLookback + 1
	}
	return n
}

// Compute derives an IndicatorSnapshot from the window. It never fails: a
// short window yields neutral defaults with Warm set to false.
func Compute(series *Series, p models.IndicatorParams) models.IndicatorSnapshot {
	return ComputePrices(series.Prices(), p)
}

// ComputePrices is Compute over a plain price slice, oldest first.
func ComputePrices(prices []float64, p models.IndicatorParams) models.IndicatorSnapshot {
	snap := models.IndicatorSnapshot{
		Samples: len(prices),
		Warm:    len(prices) >= MinSamples(p),
	}
	if len(prices) > 0 {
		snap.Price = prices[len(prices)-1]
	}
	snap.RSI = RSI(prices, p.RSIPeriod)
	snap.EMAFast = EMA(prices, p.EMAFast)
	snap.EMASlow = EMA(prices, p.EMASlow)
	snap.Momentum = Momentum(prices, p.MomentumLookback)
	snap.Volatility = Volatility(prices, p.VolatilityWindow, p.VolatilityFloor)
	return snap
}

// RSI is Wilder's relative strength index. The first average is the simple
// mean of the first period changes; later changes are smoothed with factor
// 1/period. Returns 100 when the average loss is zero.
func RSI(prices []float64, period int) float64 {
	if period < 1 || len(prices) < period+1 {
		return NeutralRSI
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		ch := prices[i] - prices[i-1]
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(prices); i++ {
		ch := prices[i] - prices[i-1]
		g, l := 0.0, 0.0
		if ch > 0 {
			g = ch
		} else {
			l = -ch
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// EMA smooths the whole window with alpha 2/(period+1), seeded from the
// oldest sample. With fewer than period samples it returns the newest price.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if period < 1 || len(prices) < period {
		return prices[len(prices)-1]
	}
	alpha := 2.0 / float64(period+1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = alpha*p + (1-alpha)*ema
	}
	return ema
}

// Momentum is the percent change between the newest sample and the one
// lookback ticks earlier.
func Momentum(prices []float64, lookback int) float64 {
	n := len(prices)
	if lookback < 1 || n < lookback+1 {
		return NeutralMomentum
	}
	base := prices[n-1-lookback]
	if base == 0 {
		return NeutralMomentum
	}
	return (prices[n-1] - base) / base * 100
}

// Volatility is the population standard deviation of simple returns over the
// trailing window. Returns floor when fewer than window+1 samples exist.
func Volatility(prices []float64, window int, floor float64) float64 {
	n := len(prices)
	if window < 2 || n < window+1 {
		return floor
	}
	returns := make([]float64, 0, window)
	for i := n - window; i < n; i++ {
		prev := prices[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prev)/prev)
	}
	if len(returns) < 2 {
		return floor
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}
