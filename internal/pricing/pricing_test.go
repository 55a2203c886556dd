package pricing

import (
	"errors"
	"index-options-callbot/internal/models"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func TestErf(t *testing.T) {
	assert.InDelta(t, 0.0, Erf(0), 1e-9)
	assert.InDelta(t, 0.8427008, Erf(1), 2e-7)
	assert.InDelta(t, -0.8427008, Erf(-1), 2e-7)
	assert.InDelta(t, 0.9953223, Erf(2), 2e-7)
	assert.InDelta(t, 0.5, NormCDF(0), 1e-9)
	assert.InDelta(t, 0.6368307, NormCDF(0.35), 2e-7)
}

func TestPrice_ReferenceValues(t *testing.T) {
	call, err := Price(100, 100, 1, 0.2, 0.05, models.Call)
	require.NoError(t, err)
	put, err := Price(100, 100, 1, 0.2, 0.05, models.Put)
	require.NoError(t, err)

	assert.InDelta(t, 10.4506, call.Premium, 1e-3)
	assert.InDelta(t, 5.5735, put.Premium, 1e-3)
	assert.InDelta(t, 0.6368, call.Delta, 1e-3)
	assert.InDelta(t, call.Delta-1, put.Delta, 1e-9)

	parity := call.Premium - put.Premium
	assert.InDelta(t, 100-100*math.Exp(-0.05), parity, 1e-6, "put-call parity")

	assert.Greater(t, call.Gamma, 0.0)
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-12)
	assert.InDelta(t, call.Vega, put.Vega, 1e-12)
	assert.InDelta(t, 0.3752, call.Vega, 1e-3, "vega per volatility point")
	assert.Less(t, call.Theta, 0.0)
	assert.InDelta(t, -6.414/365, call.Theta, 1e-3, "theta per calendar day")
	assert.Greater(t, call.Rho, 0.0)
	assert.Less(t, put.Rho, 0.0)
}

func TestPrice_ATMAndDeepITM(t *testing.T) {
	atm, err := Price(25000, 25000, 7.0/365, 0.15, 0.065, models.Call)
	require.NoError(t, err)
	assert.Greater(t, atm.Premium, Intrinsic(25000, 25000, models.Call))
	assert.InDelta(t, 0.5, atm.Delta, 0.05)

	itm, err := Price(200, 100, 0.1, 0.2, 0.05, models.Call)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, itm.Delta, 1e-3)
	assert.GreaterOrEqual(t, itm.Premium, Intrinsic(200, 100, models.Call))
}

func TestPrice_PremiumFloor(t *testing.T) {
	q, err := Price(100, 200, 0.01, 0.2, 0.05, models.Call)
	require.NoError(t, err)
	assert.Equal(t, MinPremium, q.Premium)
}

func TestPrice_InvalidInputs(t *testing.T) {
	testCases := []struct {
		name                   string
		spot, strike, tte, vol float64
	}{
		{"zero time", 100, 100, 0, 0.2},
		{"negative time", 100, 100, -1, 0.2},
		{"zero vol", 100, 100, 1, 0},
		{"zero strike", 100, 0, 1, 0.2},
		{"zero spot", 0, 100, 1, 0.2},
		{"nan vol", 100, 100, 1, math.NaN()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Price(tc.spot, tc.strike, tc.tte, tc.vol, 0.05, models.Call)
			assert.True(t, errors.Is(err, models.ErrInvalidPricingInput))
		})
	}
}

func TestImpliedVolatility_RoundTrip(t *testing.T) {
	for _, typ := range []models.OptionType{models.Call, models.Put} {
		q, err := Price(25000, 25100, 10.0/365, 0.25, 0.065, typ)
		require.NoError(t, err)

		vol, err := ImpliedVolatility(q.Premium, 25000, 25100, 10.0/365, 0.065, typ)
		require.NoError(t, err)
		assert.InDelta(t, 0.25, vol, 1e-4, string(typ))
	}
}

func TestImpliedVolatility_OutOfRange(t *testing.T) {
	_, err := ImpliedVolatility(1000, 100, 100, 1, 0.05, models.Call)
	assert.True(t, errors.Is(err, models.ErrInvalidPricingInput))

	_, err = ImpliedVolatility(0, 100, 100, 1, 0.05, models.Call)
	assert.True(t, errors.Is(err, models.ErrInvalidPricingInput))
}

func TestATMStrike(t *testing.T) {
	assert.Equal(t, 25050.0, ATMStrike(25037, 50))
	assert.Equal(t, 25000.0, ATMStrike(25024, 50))
	assert.Equal(t, 51200.0, ATMStrike(51230, 100))
}

func TestNextExpiry(t *testing.T) {
	monday := time.Date(2025, 1, 6, 10, 0, 0, 0, ist)
	assert.Equal(t, time.Date(2025, 1, 9, 15, 30, 0, 0, ist), NextExpiry(monday, time.Thursday))

	thursdayMorning := time.Date(2025, 1, 9, 10, 0, 0, 0, ist)
	assert.Equal(t, time.Date(2025, 1, 9, 15, 30, 0, 0, ist), NextExpiry(thursdayMorning, time.Thursday))

	thursdayEvening := time.Date(2025, 1, 9, 16, 0, 0, 0, ist)
	assert.Equal(t, time.Date(2025, 1, 16, 15, 30, 0, 0, ist), NextExpiry(thursdayEvening, time.Thursday))
}

func TestYearsUntil(t *testing.T) {
	from := time.Date(2025, 1, 6, 0, 0, 0, 0, ist)
	assert.InDelta(t, 1.0/365, YearsUntil(from, from.Add(24*time.Hour)), 1e-12)
}

func TestQuoteForSignal(t *testing.T) {
	inst := models.Instrument{
		Name:              "NIFTY",
		StrikeStep:        50,
		RiskFreeRate:      0.065,
		DefaultVolatility: 0.15,
		ExpiryWeekday:     "thursday",
	}
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, ist)

	q, err := QuoteForSignal(inst, 25037, models.Short, now)
	require.NoError(t, err)
	assert.Equal(t, models.Put, q.OptionType)
	assert.Equal(t, 25050.0, q.Strike)
	assert.Equal(t, time.Date(2025, 1, 9, 15, 30, 0, 0, ist), q.Expiry)
	assert.Less(t, q.Delta, 0.0)
	assert.Greater(t, q.Premium, MinPremium)

	inst.DefaultVolatility = 0
	_, err = QuoteForSignal(inst, 25037, models.Long, now)
	assert.True(t, errors.Is(err, models.ErrInvalidPricingInput))
}
