package pricing

import (
	"fmt"
	"index-options-callbot/internal/models"
	"math"
	"time"
)

// Weekly contracts settle at market close.
const (
	expiryHour   = 15
	expiryMinute = 30
)

const hoursPerYear = 365 * 24

// ATMStrike rounds spot to the nearest multiple of step.
func ATMStrike(spot, step float64) float64 {
	if step <= 0 {
		return spot
	}
	return math.Round(spot/step) * step
}

// NextExpiry returns the next weekly expiry on weekday at 15:30 in now's
// location. After 15:30 on expiry day the following week is returned.
func NextExpiry(now time.Time, weekday time.Weekday) time.Time {
	y, m, d := now.Date()
	expiry := time.Date(y, m, d, expiryHour, expiryMinute, 0, 0, now.Location())
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	expiry = expiry.AddDate(0, 0, days)
	if !expiry.After(now) {
		expiry = expiry.AddDate(0, 0, 7)
	}
	return expiry
}

// YearsUntil is the ACT/365 year fraction from from to to.
func YearsUntil(from, to time.Time) float64 {
	return to.Sub(from).Hours() / hoursPerYear
}

// QuoteForSignal prices the ATM option bought for a directional call: calls
// for Long, puts for Short, expiring on the instrument's next weekly expiry.
func QuoteForSignal(inst models.Instrument, spot float64, dir models.Direction, now time.Time) (models.OptionQuote, error) {
	strike := ATMStrike(spot, inst.StrikeStep)
	expiry := NextExpiry(now, inst.Weekday())
	q, err := Price(spot, strike, YearsUntil(now, expiry), inst.DefaultVolatility, inst.RiskFreeRate, models.OptionFor(dir))
	if err != nil {
		return models.OptionQuote{}, fmt.Errorf("quote %s %s: %w", inst.Name, dir, err)
	}
	q.Expiry = expiry
	return q, nil
}
