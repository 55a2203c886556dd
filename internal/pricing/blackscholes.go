package pricing

import (
	"fmt"
	"index-options-callbot/internal/models"
	"math"
)

// MinPremium floors theoretical premiums at deep OTM strikes and near expiry.
const MinPremium = 0.05

// Abramowitz-Stegun 7.1.26 coefficients.
const (
	erfA1 = 0.254829592
	erfA2 = -0.284496736
	erfA3 = 1.421413741
	erfA4 = -1.453152027
	erfA5 = 1.061405429
	erfP  = 0.3275911
)

// Erf approximates the error function with max absolute error 1.5e-7.
func Erf(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1
		x = -x
	}
	t := 1.0 / (1.0 + erfP*x)
	y := 1.0 - (((((erfA5*t+erfA4)*t)+erfA3)*t+erfA2)*t+erfA1)*t*math.Exp(-x*x)
	return sign * y
}

// NormCDF is the standard normal cumulative distribution.
func NormCDF(x float64) float64 {
	return 0.5 * (1.0 + Erf(x/math.Sqrt2))
}

// NormPDF is the standard normal density.
func NormPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func validInputs(spot, strike, t, vol float64) error {
	for _, v := range []float64{spot, strike, t, vol} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite input", models.ErrInvalidPricingInput)
		}
	}
	if spot <= 0 || strike <= 0 || t <= 0 || vol <= 0 {
		return fmt.Errorf("%w: spot=%.4f strike=%.4f T=%.6f vol=%.4f",
			models.ErrInvalidPricingInput, spot, strike, t, vol)
	}
	return nil
}

func d1d2(spot, strike, t, vol, r float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r+vol*vol/2)*t) / (vol * sqrtT)
	return d1, d1 - vol*sqrtT
}

// theoretical is the unfloored Black-Scholes premium.
func theoretical(spot, strike, t, vol, r float64, typ models.OptionType) float64 {
	d1, d2 := d1d2(spot, strike, t, vol, r)
	disc := strike * math.Exp(-r*t)
	if typ == models.Put {
		return disc*NormCDF(-d2) - spot*NormCDF(-d1)
	}
	return spot*NormCDF(d1) - disc*NormCDF(d2)
}

// Price computes the Black-Scholes premium and Greeks. Theta is per calendar
// day, vega per volatility point and rho per rate point.
func Price(spot, strike, t, vol, r float64, typ models.OptionType) (models.OptionQuote, error) {
	if err := validInputs(spot, strike, t, vol); err != nil {
		return models.OptionQuote{}, err
	}
	if typ != models.Call && typ != models.Put {
		return models.OptionQuote{}, fmt.Errorf("%w: option type %q", models.ErrInvalidPricingInput, typ)
	}

	d1, d2 := d1d2(spot, strike, t, vol, r)
	sqrtT := math.Sqrt(t)
	disc := math.Exp(-r * t)
	pdf := NormPDF(d1)

	q := models.OptionQuote{
		Spot:              spot,
		Strike:            strike,
		OptionType:        typ,
		TimeToExpiryYears: t,
		ImpliedVol:        vol,
		RiskFreeRate:      r,
		Gamma:             pdf / (spot * vol * sqrtT),
		Vega:              spot * pdf * sqrtT / 100,
	}

	decay := -spot * pdf * vol / (2 * sqrtT)
	if typ == models.Call {
		q.Premium = spot*NormCDF(d1) - strike*disc*NormCDF(d2)
		q.Delta = NormCDF(d1)
		q.Theta = (decay - r*strike*disc*NormCDF(d2)) / 365
		q.Rho = strike * t * disc * NormCDF(d2) / 100
	} else {
		q.Premium = strike*disc*NormCDF(-d2) - spot*NormCDF(-d1)
		q.Delta = NormCDF(d1) - 1
		q.Theta = (decay + r*strike*disc*NormCDF(-d2)) / 365
		q.Rho = -strike * t * disc * NormCDF(-d2) / 100
	}
	q.Premium = math.Max(q.Premium, MinPremium)
	return q, nil
}

// Intrinsic is the exercise value at spot.
func Intrinsic(spot, strike float64, typ models.OptionType) float64 {
	if typ == models.Put {
		return math.Max(strike-spot, 0)
	}
	return math.Max(spot-strike, 0)
}

// IV solver bounds.
const (
	MinImpliedVol = 0.001
	MaxImpliedVol = 5.0
	ivTolerance   = 1e-6
	ivMaxIter     = 100
)

// ImpliedVolatility solves for the volatility that reproduces premium. It
// runs Newton-Raphson from 0.2 and falls back to bisection when vega
// vanishes or an iterate leaves [MinImpliedVol, MaxImpliedVol].
func ImpliedVolatility(premium, spot, strike, t, r float64, typ models.OptionType) (float64, error) {
	if err := validInputs(spot, strike, t, MinImpliedVol); err != nil {
		return 0, err
	}
	if premium <= 0 || math.IsNaN(premium) {
		return 0, fmt.Errorf("%w: premium %.4f", models.ErrInvalidPricingInput, premium)
	}
	lo := theoretical(spot, strike, t, MinImpliedVol, r, typ)
	hi := theoretical(spot, strike, t, MaxImpliedVol, r, typ)
	if premium < lo-ivTolerance || premium > hi+ivTolerance {
		return 0, fmt.Errorf("%w: premium %.4f outside [%.4f, %.4f]", models.ErrInvalidPricingInput, premium, lo, hi)
	}

	vol := 0.2
	for i := 0; i < ivMaxIter; i++ {
		diff := theoretical(spot, strike, t, vol, r, typ) - premium
		if math.Abs(diff) < ivTolerance {
			return vol, nil
		}
		d1, _ := d1d2(spot, strike, t, vol, r)
		vega := spot * NormPDF(d1) * math.Sqrt(t)
		if vega < 1e-10 {
			break
		}
		next := vol - diff/vega
		if next < MinImpliedVol || next > MaxImpliedVol {
			break
		}
		vol = next
	}

	low, high := MinImpliedVol, MaxImpliedVol
	for i := 0; i < ivMaxIter*2; i++ {
		mid := (low + high) / 2
		diff := theoretical(spot, strike, t, mid, r, typ) - premium
		if math.Abs(diff) < ivTolerance || high-low < 1e-9 {
			return mid, nil
		}
		if diff > 0 {
			high = mid
		} else {
			low = mid
		}
	}
	return (low + high) / 2, nil
}
